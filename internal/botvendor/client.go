// Package botvendor talks to the external meeting bot service: deploying bots, reading
// their lifecycle status and fetching the transcripts they produce.
package botvendor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aura-webinar/meetbot/internal/models"
)

// ErrVendor is returned for non-2xx responses and vendor-reported errors.
var ErrVendor = errors.New("bot vendor error")

// DeployRequest describes a bot to send into a meeting.
type DeployRequest struct {
	MeetingURL         string
	BotName            string
	BotImage           string
	EntryMessage       string
	RecordingMode      models.RecordingMode
	WebhookURL         string
	WaitingRoomTimeout time.Duration
	// IdempotencyKey makes repeated deploys of the same meeting return the same bot.
	IdempotencyKey string
}

// BotStatus is the vendor's current view of a bot.
type BotStatus struct {
	Status         string   `json:"status"`
	RecordingURL   string   `json:"recording_url,omitempty"`
	TranscriptURL  string   `json:"transcript_url,omitempty"`
	DiarizationURL string   `json:"diarization_url,omitempty"`
	AudioURL       string   `json:"audio_url,omitempty"`
	VideoURL       string   `json:"video_url,omitempty"`
	Participants   []string `json:"participants,omitempty"`
	Speakers       []string `json:"speakers,omitempty"`
}

// Transcript is a transcript produced by the vendor.
type Transcript struct {
	FullText string
	Segments []models.TranscriptSegment
	Language string
	Duration float64 // seconds covered by the segments, 0 if unknown
}

// HTTPClient is the REST client for the bot vendor.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a vendor client.
func NewHTTPClient(baseURL, apiKey string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, httpClient: httpClient}
}

type deployBody struct {
	MeetingURL     string            `json:"meeting_url"`
	BotName        string            `json:"bot_name"`
	BotImage       string            `json:"bot_image,omitempty"`
	EntryMessage   string            `json:"entry_message,omitempty"`
	RecordingMode  string            `json:"recording_mode"`
	WebhookURL     string            `json:"webhook_url"`
	AutomaticLeave *automaticLeave   `json:"automatic_leave,omitempty"`
}

type automaticLeave struct {
	WaitingRoomTimeout int `json:"waiting_room_timeout"`
}

type vendorError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body any, header http.Header) ([]byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		var ve vendorError
		if json.Unmarshal(respBody, &ve) == nil && (ve.Error != "" || ve.Message != "") {
			msg = strings.TrimSpace(ve.Error + " " + ve.Message)
		}
		return nil, nil, fmt.Errorf("%w: HTTP %d: %s", ErrVendor, resp.StatusCode, msg)
	}
	return respBody, resp.Header, nil
}

// DeployBot asks the vendor to send a bot into req.MeetingURL and returns the bot ID.
func (c *HTTPClient) DeployBot(ctx context.Context, req DeployRequest) (string, error) {
	body := deployBody{
		MeetingURL:    req.MeetingURL,
		BotName:       req.BotName,
		BotImage:      req.BotImage,
		EntryMessage:  req.EntryMessage,
		RecordingMode: strings.ToLower(string(req.RecordingMode)),
		WebhookURL:    req.WebhookURL,
	}
	if req.WaitingRoomTimeout > 0 {
		body.AutomaticLeave = &automaticLeave{WaitingRoomTimeout: int(req.WaitingRoomTimeout.Seconds())}
	}
	var header http.Header
	if req.IdempotencyKey != "" {
		header = http.Header{"Idempotency-Key": []string{req.IdempotencyKey}}
	}
	raw, _, err := c.do(ctx, http.MethodPost, c.baseURL+"/bot", body, header)
	if err != nil {
		return "", fmt.Errorf("deploy bot: %w", err)
	}
	var out struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode deploy response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrVendor, out.Error)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: deploy response has no bot id", ErrVendor)
	}
	return out.ID, nil
}

// GetBotStatus returns the bot's current status and any artifact URLs.
func (c *HTTPClient) GetBotStatus(ctx context.Context, botID string) (*BotStatus, error) {
	raw, _, err := c.do(ctx, http.MethodGet, c.baseURL+"/bot/"+botID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get bot %s: %w", botID, err)
	}
	var st BotStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode bot status: %w", err)
	}
	return &st, nil
}

type jsonTranscript struct {
	FullText string                     `json:"full_text"`
	Text     string                     `json:"text"`
	Language string                     `json:"language"`
	Segments []models.TranscriptSegment `json:"segments"`
}

// FetchTranscript downloads and parses a transcript. WebVTT and JSON bodies (an object with
// segments, or a bare segment array) are accepted.
func (c *HTTPClient) FetchTranscript(ctx context.Context, url string) (*Transcript, error) {
	raw, header, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	return ParseTranscript(raw, header.Get("Content-Type"))
}

// ParseTranscript decodes a transcript body by content type, sniffing the body when the
// content type is not conclusive.
func ParseTranscript(raw []byte, contentType string) (*Transcript, error) {
	trimmed := bytes.TrimSpace(raw)
	if strings.Contains(contentType, "text/vtt") || bytes.HasPrefix(trimmed, []byte("WEBVTT")) {
		return ParseVTT(bytes.NewReader(trimmed))
	}
	var segments []models.TranscriptSegment
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &segments); err != nil {
			return nil, fmt.Errorf("decode transcript segments: %w", err)
		}
		return FromSegments(segments, ""), nil
	}
	var doc jsonTranscript
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	t := FromSegments(doc.Segments, doc.Language)
	if doc.FullText != "" {
		t.FullText = doc.FullText
	} else if doc.Text != "" {
		t.FullText = doc.Text
	}
	return t, nil
}

// FromSegments builds a transcript whose full text is the segments joined by spaces.
func FromSegments(segments []models.TranscriptSegment, language string) *Transcript {
	var sb strings.Builder
	var end float64
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
		if s.EndTime > end {
			end = s.EndTime
		}
	}
	return &Transcript{FullText: sb.String(), Segments: segments, Language: language, Duration: end}
}
