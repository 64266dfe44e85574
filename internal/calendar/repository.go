package calendar

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/meetbot/internal/models"
)

// ConnectionRepository reads calendar connections. Connections are written by the
// integrations UI.
type ConnectionRepository struct {
	pool *pgxpool.Pool
}

// NewConnectionRepository creates a calendar connection repository.
func NewConnectionRepository(pool *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{pool: pool}
}

// GetActive returns the user's most recent active connection, or ErrNoConnection.
func (r *ConnectionRepository) GetActive(ctx context.Context, userID uuid.UUID) (*models.CalendarConnection, error) {
	const q = `SELECT id, user_id, provider, access_token, refresh_token, token_expires_at, calendar_email, is_active, created_at, updated_at
		FROM calendar_connections WHERE user_id = $1 AND is_active ORDER BY updated_at DESC LIMIT 1`
	var c models.CalendarConnection
	err := r.pool.QueryRow(ctx, q, userID).Scan(&c.ID, &c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt,
		&c.CalendarEmail, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoConnection
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
