package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingMode selects what the bot records.
type RecordingMode string

const (
	RecordingModeSpeakerView RecordingMode = "SPEAKER_VIEW"
	RecordingModeGalleryView RecordingMode = "GALLERY_VIEW"
	RecordingModeAudioOnly   RecordingMode = "AUDIO_ONLY"
)

// DefaultBotName is used when a user has not configured a display name.
const DefaultBotName = "Meeting Assistant"

// MeetingBotSettings is a user's bot configuration. Owned by the settings UI; read-only here.
type MeetingBotSettings struct {
	UserID          uuid.UUID     `json:"user_id"`
	AutoJoinEnabled bool          `json:"auto_join_enabled"`
	BotName         string        `json:"bot_name"`
	BotImage        string        `json:"bot_image,omitempty"`
	EntryMessage    string        `json:"entry_message,omitempty"`
	RecordingMode   RecordingMode `json:"recording_mode"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// DefaultBotSettings returns the settings applied for users without a settings row.
func DefaultBotSettings(userID uuid.UUID) MeetingBotSettings {
	return MeetingBotSettings{
		UserID:        userID,
		BotName:       DefaultBotName,
		RecordingMode: RecordingModeSpeakerView,
	}
}

// CalendarConnection is a user's linked calendar account.
type CalendarConnection struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Provider       string    `json:"provider"` // "google"
	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	CalendarEmail  string    `json:"calendar_email"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
