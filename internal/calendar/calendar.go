// Package calendar reads upcoming events from a user's connected calendar.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aura-webinar/meetbot/internal/conference"
	"github.com/aura-webinar/meetbot/internal/models"
)

// DefaultBaseURL is the Google Calendar v3 API root.
const DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

// ErrNoConnection is returned when a user has no active calendar connection.
var ErrNoConnection = errors.New("no active calendar connection")

// Event is a calendar event as seen by the sync worker.
type Event struct {
	ID            string
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	ConferenceURL string
	EntryPoints   []conference.EntryPoint
}

// Conference returns the fields that may carry a join link.
func (e Event) Conference() conference.Source {
	return conference.Source{
		ConferenceURL: e.ConferenceURL,
		EntryPoints:   e.EntryPoints,
		Description:   e.Description,
	}
}

// GoogleClient lists events through the Google Calendar REST API.
type GoogleClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGoogleClient creates a calendar client. Empty baseURL uses DefaultBaseURL.
func NewGoogleClient(baseURL string, httpClient *http.Client) *GoogleClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GoogleClient{baseURL: baseURL, httpClient: httpClient}
}

type googleTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

func (t googleTime) parse() (time.Time, error) {
	if t.DateTime != "" {
		return time.Parse(time.RFC3339, t.DateTime)
	}
	return time.Parse("2006-01-02", t.Date)
}

type googleEvent struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Summary        string     `json:"summary"`
	Description    string     `json:"description"`
	HangoutLink    string     `json:"hangoutLink"`
	Start          googleTime `json:"start"`
	End            googleTime `json:"end"`
	ConferenceData *struct {
		EntryPoints []struct {
			EntryPointType string `json:"entryPointType"`
			URI            string `json:"uri"`
		} `json:"entryPoints"`
	} `json:"conferenceData"`
}

type googleEventList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

// ListEvents returns the non-cancelled events starting in [timeMin, timeMax] on the
// connection's primary calendar.
func (c *GoogleClient) ListEvents(ctx context.Context, conn models.CalendarConnection, timeMin, timeMax time.Time) ([]Event, error) {
	var events []Event
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeMin", timeMin.UTC().Format(time.RFC3339))
		q.Set("timeMax", timeMax.UTC().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/calendars/primary/events?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read events: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("list events: status %d: %s", resp.StatusCode, string(body))
		}
		var page googleEventList
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		for _, ge := range page.Items {
			if ge.Status == "cancelled" {
				continue
			}
			ev, err := ge.toEvent()
			if err != nil {
				continue
			}
			events = append(events, ev)
		}
		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

func (ge googleEvent) toEvent() (Event, error) {
	start, err := ge.Start.parse()
	if err != nil {
		return Event{}, fmt.Errorf("event %s start: %w", ge.ID, err)
	}
	end, err := ge.End.parse()
	if err != nil {
		return Event{}, fmt.Errorf("event %s end: %w", ge.ID, err)
	}
	ev := Event{
		ID:            ge.ID,
		Title:         ge.Summary,
		Description:   ge.Description,
		Start:         start,
		End:           end,
		ConferenceURL: ge.HangoutLink,
	}
	if ge.ConferenceData != nil {
		for _, ep := range ge.ConferenceData.EntryPoints {
			ev.EntryPoints = append(ev.EntryPoints, conference.EntryPoint{Type: ep.EntryPointType, URI: ep.URI})
		}
	}
	return ev, nil
}
