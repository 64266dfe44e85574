// Package botsettings reads per-user meeting bot configuration.
package botsettings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/meetbot/internal/models"
)

// Repository reads meeting_bot_settings. Rows are owned by the settings UI.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a bot settings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the user's settings, or DefaultBotSettings when the user has none.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (models.MeetingBotSettings, error) {
	const q = `SELECT user_id, auto_join_enabled, bot_name, COALESCE(bot_image, ''), COALESCE(entry_message, ''), recording_mode, created_at, updated_at
		FROM meeting_bot_settings WHERE user_id = $1`
	var s models.MeetingBotSettings
	err := r.pool.QueryRow(ctx, q, userID).Scan(&s.UserID, &s.AutoJoinEnabled, &s.BotName, &s.BotImage, &s.EntryMessage,
		&s.RecordingMode, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DefaultBotSettings(userID), nil
	}
	if err != nil {
		return models.MeetingBotSettings{}, err
	}
	if s.BotName == "" {
		s.BotName = models.DefaultBotName
	}
	return s, nil
}

// ListAutoJoinUserIDs returns the users that opted in to automatic bot attendance.
func (r *Repository) ListAutoJoinUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM meeting_bot_settings WHERE auto_join_enabled ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
