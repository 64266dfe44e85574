package models

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptSegment is one speaker turn. Times are seconds from the start of the recording.
type TranscriptSegment struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// MeetingTranscript is the authoritative transcript of a meeting (one per meeting).
type MeetingTranscript struct {
	ID        uuid.UUID           `json:"id"`
	MeetingID uuid.UUID           `json:"meeting_id"`
	FullText  string              `json:"full_text"`
	Segments  []TranscriptSegment `json:"segments"`
	Language  string              `json:"language"`
	WordCount int                 `json:"word_count"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// MeetingParticipant is a display name seen in a meeting.
type MeetingParticipant struct {
	ID        uuid.UUID `json:"id"`
	MeetingID uuid.UUID `json:"meeting_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
