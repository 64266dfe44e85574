// Package meetingstest provides an in-memory meeting store for tests.
package meetingstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/aura-webinar/meetbot/internal/meetings"
	"github.com/aura-webinar/meetbot/internal/models"
)

// Store mirrors meetings.Repository semantics in memory, including the status guard on
// UpdateStatus and the (user, calendar event) uniqueness on Create.
type Store struct {
	mu           sync.Mutex
	meetings     map[uuid.UUID]*models.Meeting
	transcripts  map[uuid.UUID]*models.MeetingTranscript
	participants map[uuid.UUID][]models.MeetingParticipant
	insights     map[uuid.UUID][]models.MeetingInsight

	// TranscriptWrites counts UpsertTranscript calls.
	TranscriptWrites int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		meetings:     make(map[uuid.UUID]*models.Meeting),
		transcripts:  make(map[uuid.UUID]*models.MeetingTranscript),
		participants: make(map[uuid.UUID][]models.MeetingParticipant),
		insights:     make(map[uuid.UUID][]models.MeetingInsight),
	}
}

func clone(m *models.Meeting) *models.Meeting {
	c := *m
	c.Metadata.Participants = append([]string(nil), m.Metadata.Participants...)
	c.Metadata.Speakers = append([]string(nil), m.Metadata.Speakers...)
	return &c
}

// Put stores m as-is, assigning an ID if it has none. Used to seed tests.
func (s *Store) Put(m *models.Meeting) *models.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = models.MeetingStatusScheduled
	}
	s.meetings[m.ID] = clone(m)
	return m
}

// Count returns the number of stored meetings.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meetings)
}

// Create inserts m unless a meeting for the same user and calendar event exists.
func (s *Store) Create(ctx context.Context, m *models.Meeting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.meetings {
		if existing.UserID == m.UserID && existing.CalendarEventID == m.CalendarEventID {
			return false, nil
		}
	}
	m.ID = uuid.New()
	if m.Status == "" {
		m.Status = models.MeetingStatusScheduled
	}
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	s.meetings[m.ID] = clone(m)
	return true, nil
}

// GetByID returns a copy of the meeting or meetings.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, meetings.ErrNotFound
	}
	return clone(m), nil
}

// GetByBotID returns the meeting with the given vendor bot ID.
func (s *Store) GetByBotID(ctx context.Context, botID string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meetings {
		if m.BotID != "" && m.BotID == botID {
			return clone(m), nil
		}
	}
	return nil, meetings.ErrNotFound
}

// FindByCalendarEvent returns the meeting tracking the event, or nil.
func (s *Store) FindByCalendarEvent(ctx context.Context, userID uuid.UUID, calendarEventID string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meetings {
		if m.UserID == userID && m.CalendarEventID == calendarEventID {
			return clone(m), nil
		}
	}
	return nil, nil
}

func (s *Store) sorted(filter func(*models.Meeting) bool, newestFirst bool) []models.Meeting {
	var out []models.Meeting
	for _, m := range s.meetings {
		if filter(m) {
			out = append(out, *clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ScheduledStart.After(out[j].ScheduledStart)
		}
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	return out
}

// ListByUser returns the user's meetings, newest scheduled first.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(m *models.Meeting) bool { return m.UserID == userID }, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListInFlight returns meetings with a bot in JOINING, IN_PROGRESS or PROCESSING.
func (s *Store) ListInFlight(ctx context.Context, limit int) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(m *models.Meeting) bool {
		return m.BotID != "" && lo.Contains(models.InFlightStatuses, m.Status)
	}, false)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus applies upd only while the meeting's status is in upd.From.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, upd meetings.StatusUpdate) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok || !lo.Contains(upd.From, m.Status) {
		return nil, meetings.ErrStaleStatus
	}
	m.Status = upd.Status
	if upd.BotID != "" {
		m.BotID = upd.BotID
	}
	if m.ActualStart == nil && upd.ActualStart != nil {
		t := *upd.ActualStart
		m.ActualStart = &t
	}
	if m.ActualEnd == nil && upd.ActualEnd != nil {
		t := *upd.ActualEnd
		m.ActualEnd = &t
	}
	if upd.RecordingURL != "" {
		m.RecordingURL = upd.RecordingURL
	}
	if upd.ErrorMessage != nil {
		msg := *upd.ErrorMessage
		m.ErrorMessage = &msg
	}
	m.UpdatedAt = time.Now()
	return clone(m), nil
}

// MergeMetadata overwrites the metadata fields that are set in patch.
func (s *Store) MergeMetadata(ctx context.Context, id uuid.UUID, patch models.MeetingMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return meetings.ErrNotFound
	}
	md := &m.Metadata
	if patch.TranscriptURL != "" {
		md.TranscriptURL = patch.TranscriptURL
	}
	if patch.DiarizationURL != "" {
		md.DiarizationURL = patch.DiarizationURL
	}
	if patch.AudioURL != "" {
		md.AudioURL = patch.AudioURL
	}
	if patch.VideoURL != "" {
		md.VideoURL = patch.VideoURL
	}
	if patch.ArchivedRecordingURL != "" {
		md.ArchivedRecordingURL = patch.ArchivedRecordingURL
	}
	if len(patch.Participants) > 0 {
		md.Participants = append([]string(nil), patch.Participants...)
	}
	if len(patch.Speakers) > 0 {
		md.Speakers = append([]string(nil), patch.Speakers...)
	}
	return nil
}

// SetDurationIfUnset sets the duration when it is nil.
func (s *Store) SetDurationIfUnset(ctx context.Context, id uuid.UUID, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.meetings[id]; ok && m.Duration == nil {
		d := seconds
		m.Duration = &d
	}
	return nil
}

// SetExcluded sets the exclusion flag on a meeting owned by userID.
func (s *Store) SetExcluded(ctx context.Context, id, userID uuid.UUID, excluded bool) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok || m.UserID != userID {
		return nil, meetings.ErrNotFound
	}
	m.BotExcluded = excluded
	return clone(m), nil
}

// UpsertTranscript stores t, replacing any transcript of the same meeting.
func (s *Store) UpsertTranscript(ctx context.Context, t *models.MeetingTranscript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TranscriptWrites++
	now := time.Now()
	if existing, ok := s.transcripts[t.MeetingID]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		t.ID = uuid.New()
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	c := *t
	c.Segments = append([]models.TranscriptSegment(nil), t.Segments...)
	s.transcripts[t.MeetingID] = &c
	return nil
}

// GetTranscript returns the meeting's transcript or nil.
func (s *Store) GetTranscript(ctx context.Context, meetingID uuid.UUID) (*models.MeetingTranscript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[meetingID]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

// TranscriptCount returns the number of stored transcripts.
func (s *Store) TranscriptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcripts)
}

// ReplaceParticipants swaps the participant list of a meeting.
func (s *Store) ReplaceParticipants(ctx context.Context, meetingID uuid.UUID, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.MeetingParticipant, 0, len(names))
	for _, n := range names {
		list = append(list, models.MeetingParticipant{ID: uuid.New(), MeetingID: meetingID, Name: n, CreatedAt: time.Now()})
	}
	s.participants[meetingID] = list
	return nil
}

// ListParticipants returns the participants of a meeting.
func (s *Store) ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MeetingParticipant(nil), s.participants[meetingID]...), nil
}

// ReplaceInsights swaps the insight rows of a meeting.
func (s *Store) ReplaceInsights(ctx context.Context, meetingID uuid.UUID, insights []models.MeetingInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.MeetingInsight, 0, len(insights))
	for _, in := range insights {
		in.ID = uuid.New()
		in.MeetingID = meetingID
		in.CreatedAt = time.Now()
		list = append(list, in)
	}
	s.insights[meetingID] = list
	return nil
}

// ClearInsights deletes the insights of a meeting.
func (s *Store) ClearInsights(ctx context.Context, meetingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.insights, meetingID)
	return nil
}

// ListInsights returns the insights of a meeting.
func (s *Store) ListInsights(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingInsight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MeetingInsight(nil), s.insights[meetingID]...), nil
}
