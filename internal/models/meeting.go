package models

import (
	"time"

	"github.com/google/uuid"
)

// MeetingStatus is the lifecycle state of a bot-attended meeting.
type MeetingStatus string

const (
	MeetingStatusScheduled  MeetingStatus = "SCHEDULED"
	MeetingStatusJoining    MeetingStatus = "JOINING"
	MeetingStatusInProgress MeetingStatus = "IN_PROGRESS"
	MeetingStatusProcessing MeetingStatus = "PROCESSING"
	MeetingStatusCompleted  MeetingStatus = "COMPLETED"
	MeetingStatusFailed     MeetingStatus = "FAILED"
	MeetingStatusCancelled  MeetingStatus = "CANCELLED"
)

// InFlightStatuses are the states the reconciliation poller tracks.
var InFlightStatuses = []MeetingStatus{
	MeetingStatusJoining,
	MeetingStatusInProgress,
	MeetingStatusProcessing,
}

// statusRank orders the happy path; terminal failure states have no rank.
var statusRank = map[MeetingStatus]int{
	MeetingStatusScheduled:  1,
	MeetingStatusJoining:    2,
	MeetingStatusInProgress: 3,
	MeetingStatusProcessing: 4,
	MeetingStatusCompleted:  5,
}

// IsTerminal reports whether no automated transition may leave s.
func (s MeetingStatus) IsTerminal() bool {
	return s == MeetingStatusCompleted || s == MeetingStatusFailed || s == MeetingStatusCancelled
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// FAILED and CANCELLED are reachable from any non-terminal state; everything else
// only moves along SCHEDULED → JOINING → IN_PROGRESS → PROCESSING → COMPLETED.
func (s MeetingStatus) CanAdvanceTo(next MeetingStatus) bool {
	if s.IsTerminal() || s == next {
		return false
	}
	if next == MeetingStatusFailed || next == MeetingStatusCancelled {
		return true
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nr, ok := statusRank[next]
	return ok && nr > cur
}

// Platform is the conferencing provider hosting a meeting.
type Platform string

const (
	PlatformGoogleMeet     Platform = "GOOGLE_MEET"
	PlatformZoom           Platform = "ZOOM"
	PlatformMicrosoftTeams Platform = "MICROSOFT_TEAMS"
	PlatformUnknown        Platform = "UNKNOWN"
)

// MeetingMetadata holds vendor-supplied artifact URLs and raw name lists.
// Empty fields are omitted so that a partial value can be merged into the stored document.
type MeetingMetadata struct {
	TranscriptURL        string   `json:"transcriptUrl,omitempty"`
	DiarizationURL       string   `json:"diarizationUrl,omitempty"`
	AudioURL             string   `json:"audioUrl,omitempty"`
	VideoURL             string   `json:"videoUrl,omitempty"`
	ArchivedRecordingURL string   `json:"archivedRecordingUrl,omitempty"`
	Participants         []string `json:"participants,omitempty"`
	Speakers             []string `json:"speakers,omitempty"`
}

// Meeting is a calendar event tracked for bot attendance.
type Meeting struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	TeamID          *uuid.UUID      `json:"team_id,omitempty"`
	Title           string          `json:"title"`
	MeetingURL      string          `json:"meeting_url"`
	Platform        Platform        `json:"platform"`
	Status          MeetingStatus   `json:"status"`
	ScheduledStart  time.Time       `json:"scheduled_start"`
	ScheduledEnd    time.Time       `json:"scheduled_end"`
	ActualStart     *time.Time      `json:"actual_start,omitempty"`
	ActualEnd       *time.Time      `json:"actual_end,omitempty"`
	CalendarEventID string          `json:"calendar_event_id"`
	BotID           string          `json:"bot_id,omitempty"`
	BotExcluded     bool            `json:"bot_excluded"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	Duration        *int            `json:"duration,omitempty"` // seconds
	RecordingURL    string          `json:"recording_url,omitempty"`
	Metadata        MeetingMetadata `json:"metadata"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
