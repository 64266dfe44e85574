package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/meetbot/internal/models"
)

var (
	// ErrNotFound is returned when a meeting does not exist.
	ErrNotFound = errors.New("meeting not found")
	// ErrStaleStatus is returned when a status-guarded update matched no row because the
	// meeting has already moved on.
	ErrStaleStatus = errors.New("meeting status changed concurrently")
)

const meetingColumns = `id, user_id, team_id, title, meeting_url, platform, status, scheduled_start, scheduled_end,
	actual_start, actual_end, calendar_event_id, bot_id, bot_excluded, error_message, duration, recording_url,
	metadata, created_at, updated_at`

// StatusUpdate is a guarded status transition. The row is only updated while its current
// status is one of From. Timestamps are written only if the column is still NULL.
type StatusUpdate struct {
	Status       models.MeetingStatus
	From         []models.MeetingStatus
	BotID        string
	ActualStart  *time.Time
	ActualEnd    *time.Time
	RecordingURL string
	ErrorMessage *string
}

// Repository handles meeting, transcript, participant and insight persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meetings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	var botID, recordingURL *string
	var metadata []byte
	err := row.Scan(&m.ID, &m.UserID, &m.TeamID, &m.Title, &m.MeetingURL, &m.Platform, &m.Status, &m.ScheduledStart, &m.ScheduledEnd,
		&m.ActualStart, &m.ActualEnd, &m.CalendarEventID, &botID, &m.BotExcluded, &m.ErrorMessage, &m.Duration, &recordingURL,
		&metadata, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if botID != nil {
		m.BotID = *botID
	}
	if recordingURL != nil {
		m.RecordingURL = *recordingURL
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &m, nil
}

func statusStrings(statuses []models.MeetingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Create inserts a new meeting. created is false when a meeting for the same
// (user_id, calendar_event_id) already exists; m is left untouched in that case.
func (r *Repository) Create(ctx context.Context, m *models.Meeting) (created bool, err error) {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	if m.Status == "" {
		m.Status = models.MeetingStatusScheduled
	}
	const q = `INSERT INTO meetings (id, user_id, team_id, title, meeting_url, platform, status, scheduled_start, scheduled_end,
			calendar_event_id, bot_excluded, metadata)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, calendar_event_id) DO NOTHING
		RETURNING id, created_at, updated_at`
	err = r.pool.QueryRow(ctx, q, m.UserID, m.TeamID, m.Title, m.MeetingURL, m.Platform, m.Status, m.ScheduledStart, m.ScheduledEnd,
		m.CalendarEventID, m.BotExcluded, metadata).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID returns a meeting by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	m, err := scanMeeting(r.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetByBotID returns the meeting a vendor bot was deployed into.
func (r *Repository) GetByBotID(ctx context.Context, botID string) (*models.Meeting, error) {
	m, err := scanMeeting(r.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE bot_id = $1`, botID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// FindByCalendarEvent returns the meeting tracking a user's calendar event, or nil if none.
func (r *Repository) FindByCalendarEvent(ctx context.Context, userID uuid.UUID, calendarEventID string) (*models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE user_id = $1 AND calendar_event_id = $2`
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, userID, calendarEventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]models.Meeting, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// ListByUser returns a user's meetings, newest scheduled first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE user_id = $1 ORDER BY scheduled_start DESC LIMIT $2`
	return r.list(ctx, q, userID, limit)
}

// ListInFlight returns meetings with a deployed bot that have not reached a terminal state.
func (r *Repository) ListInFlight(ctx context.Context, limit int) ([]models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings
		WHERE bot_id IS NOT NULL AND status = ANY($1::text[])
		ORDER BY scheduled_start ASC LIMIT $2`
	return r.list(ctx, q, statusStrings(models.InFlightStatuses), limit)
}

// UpdateStatus applies a guarded status transition and returns the updated row.
// Returns ErrStaleStatus when the meeting's current status is not in upd.From.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate) (*models.Meeting, error) {
	if len(upd.From) == 0 {
		return nil, fmt.Errorf("status update to %s: no expected prior status", upd.Status)
	}
	q := `UPDATE meetings SET
			status = $2,
			bot_id = COALESCE(NULLIF($3, ''), bot_id),
			actual_start = COALESCE(actual_start, $4),
			actual_end = COALESCE(actual_end, $5),
			recording_url = COALESCE(NULLIF($6, ''), recording_url),
			error_message = COALESCE($7, error_message),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($8::text[])
		RETURNING ` + meetingColumns
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, id, upd.Status, upd.BotID, upd.ActualStart, upd.ActualEnd, upd.RecordingURL,
		upd.ErrorMessage, statusStrings(upd.From)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStaleStatus
	}
	return m, err
}

// MergeMetadata shallow-merges the non-empty fields of patch into the stored metadata.
func (r *Repository) MergeMetadata(ctx context.Context, id uuid.UUID, patch models.MeetingMetadata) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	const q = `UPDATE meetings SET metadata = metadata || $2::jsonb, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDurationIfUnset backfills the meeting duration (seconds) when it is still NULL.
func (r *Repository) SetDurationIfUnset(ctx context.Context, id uuid.UUID, seconds int) error {
	const q = `UPDATE meetings SET duration = $2, updated_at = NOW() WHERE id = $1 AND duration IS NULL`
	_, err := r.pool.Exec(ctx, q, id, seconds)
	return err
}

// SetExcluded sets the bot exclusion flag on a meeting owned by userID.
func (r *Repository) SetExcluded(ctx context.Context, id, userID uuid.UUID, excluded bool) (*models.Meeting, error) {
	const q = `UPDATE meetings SET bot_excluded = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2 RETURNING ` + meetingColumns
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, id, userID, excluded))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// UpsertTranscript inserts or refreshes the transcript of a meeting (one row per meeting).
func (r *Repository) UpsertTranscript(ctx context.Context, t *models.MeetingTranscript) error {
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	const q = `INSERT INTO meeting_transcripts (meeting_id, full_text, segments, language, word_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (meeting_id) DO UPDATE SET
			full_text = EXCLUDED.full_text,
			segments = EXCLUDED.segments,
			language = EXCLUDED.language,
			word_count = EXCLUDED.word_count,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, t.MeetingID, t.FullText, segments, t.Language, t.WordCount).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// GetTranscript returns the transcript of a meeting, or nil if none has been stored.
func (r *Repository) GetTranscript(ctx context.Context, meetingID uuid.UUID) (*models.MeetingTranscript, error) {
	const q = `SELECT id, meeting_id, full_text, segments, language, word_count, created_at, updated_at
		FROM meeting_transcripts WHERE meeting_id = $1`
	var t models.MeetingTranscript
	var segments []byte
	err := r.pool.QueryRow(ctx, q, meetingID).Scan(&t.ID, &t.MeetingID, &t.FullText, &segments, &t.Language, &t.WordCount, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(segments, &t.Segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return &t, nil
}

// ReplaceParticipants swaps the participant rows of a meeting for names in one transaction.
func (r *Repository) ReplaceParticipants(ctx context.Context, meetingID uuid.UUID, names []string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM meeting_participants WHERE meeting_id = $1`, meetingID); err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		const q = `INSERT INTO meeting_participants (meeting_id, name) SELECT $1, unnest($2::text[])`
		_, err := tx.Exec(ctx, q, meetingID, names)
		return err
	})
}

// ListParticipants returns the participants of a meeting.
func (r *Repository) ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingParticipant, error) {
	const q = `SELECT id, meeting_id, name, created_at FROM meeting_participants WHERE meeting_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.MeetingParticipant
	for rows.Next() {
		var p models.MeetingParticipant
		if err := rows.Scan(&p.ID, &p.MeetingID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ReplaceInsights clears the insights of a meeting and stores the new set in one transaction.
func (r *Repository) ReplaceInsights(ctx context.Context, meetingID uuid.UUID, insights []models.MeetingInsight) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM meeting_insights WHERE meeting_id = $1`, meetingID); err != nil {
			return err
		}
		const q = `INSERT INTO meeting_insights (meeting_id, type, content, confidence) VALUES ($1, $2, $3, $4)`
		batch := &pgx.Batch{}
		for _, in := range insights {
			batch.Queue(q, meetingID, in.Type, in.Content, in.Confidence)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ClearInsights deletes all insights of a meeting.
func (r *Repository) ClearInsights(ctx context.Context, meetingID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM meeting_insights WHERE meeting_id = $1`, meetingID)
	return err
}

// ListInsights returns the insights of a meeting.
func (r *Repository) ListInsights(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingInsight, error) {
	const q = `SELECT id, meeting_id, type, content, confidence, created_at FROM meeting_insights WHERE meeting_id = $1 ORDER BY created_at, type`
	rows, err := r.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.MeetingInsight
	for rows.Next() {
		var in models.MeetingInsight
		if err := rows.Scan(&in.ID, &in.MeetingID, &in.Type, &in.Content, &in.Confidence, &in.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, in)
	}
	return list, rows.Err()
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
