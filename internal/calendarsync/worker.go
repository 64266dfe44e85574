package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/calendar"
	"github.com/aura-webinar/meetbot/internal/conference"
	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/pkg/queue"
)

// DefaultHorizon is how far ahead events are synced.
const DefaultHorizon = 24 * time.Hour

// ConnectionSource returns a user's active calendar connection.
type ConnectionSource interface {
	GetActive(ctx context.Context, userID uuid.UUID) (*models.CalendarConnection, error)
}

// EventLister reads calendar events.
type EventLister interface {
	ListEvents(ctx context.Context, conn models.CalendarConnection, timeMin, timeMax time.Time) ([]calendar.Event, error)
}

// MeetingStore is the slice of the meeting store used by sync.
type MeetingStore interface {
	FindByCalendarEvent(ctx context.Context, userID uuid.UUID, calendarEventID string) (*models.Meeting, error)
	Create(ctx context.Context, m *models.Meeting) (bool, error)
}

// DeployDispatcher hands a new meeting to the bot deployment scheduler.
type DeployDispatcher interface {
	EnqueueScheduleBot(ctx context.Context, payload queue.ScheduleBotPayload) error
}

// Result summarizes one user sync.
type Result struct {
	Events       int
	Created      int
	Existing     int
	Redispatched int
	NoURL        int
}

// Worker syncs one user's calendar into meetings.
type Worker struct {
	conns    ConnectionSource
	events   EventLister
	store    MeetingStore
	dispatch DeployDispatcher
	horizon  time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewWorker creates a per-user sync worker.
func NewWorker(conns ConnectionSource, events EventLister, store MeetingStore, dispatch DeployDispatcher, horizon time.Duration, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Worker{conns: conns, events: events, store: store, dispatch: dispatch, horizon: horizon, now: time.Now, metrics: m, logger: logger}
}

// SetClock replaces the worker's time source.
func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

// SyncUser tracks every conferenced event of userID starting within the horizon. Users
// without an active connection are a no-op. Re-running never duplicates meetings.
func (w *Worker) SyncUser(ctx context.Context, userID uuid.UUID) (Result, error) {
	var res Result
	log := w.logger.With(zap.String("user_id", userID.String()))

	conn, err := w.conns.GetActive(ctx, userID)
	if errors.Is(err, calendar.ErrNoConnection) {
		log.Debug("no calendar connection, skipping sync")
		w.metrics.SyncRun("no_connection")
		return res, nil
	}
	if err != nil {
		w.metrics.SyncRun("error")
		return res, fmt.Errorf("load calendar connection: %w", err)
	}

	now := w.now()
	events, err := w.events.ListEvents(ctx, *conn, now, now.Add(w.horizon))
	if err != nil {
		w.metrics.SyncRun("error")
		return res, fmt.Errorf("list events: %w", err)
	}
	res.Events = len(events)

	for _, ev := range events {
		url, ok := conference.ExtractURL(ev.Conference())
		if !ok {
			res.NoURL++
			continue
		}
		existing, err := w.store.FindByCalendarEvent(ctx, userID, ev.ID)
		if err != nil {
			w.metrics.SyncRun("error")
			return res, fmt.Errorf("lookup event %s: %w", ev.ID, err)
		}
		if existing != nil {
			// Tracked already; an excluded meeting stays excluded. A meeting still waiting for
			// its bot is handed to the deployer again, which is a no-op when already parked.
			res.Existing++
			if awaitingBot(existing) && w.dispatchDeploy(ctx, log, existing.ID) {
				res.Redispatched++
			}
			continue
		}
		m := &models.Meeting{
			UserID:          userID,
			Title:           ev.Title,
			MeetingURL:      url,
			Platform:        conference.DetectPlatform(url),
			Status:          models.MeetingStatusScheduled,
			ScheduledStart:  ev.Start,
			ScheduledEnd:    ev.End,
			CalendarEventID: ev.ID,
		}
		created, err := w.store.Create(ctx, m)
		if err != nil {
			w.metrics.SyncRun("error")
			return res, fmt.Errorf("create meeting for event %s: %w", ev.ID, err)
		}
		if !created {
			// Lost a race with a concurrent sync of the same user.
			res.Existing++
			continue
		}
		res.Created++
		w.metrics.MeetingCreated()
		log.Info("meeting tracked", zap.String("meeting_id", m.ID.String()), zap.String("platform", string(m.Platform)),
			zap.Time("scheduled_start", m.ScheduledStart))
		w.dispatchDeploy(ctx, log, m.ID)
	}
	w.metrics.SyncRun("ok")
	log.Info("calendar synced", zap.Int("events", res.Events), zap.Int("created", res.Created), zap.Int("existing", res.Existing),
		zap.Int("redispatched", res.Redispatched))
	return res, nil
}

// awaitingBot reports whether m still needs a deployment: a SCHEDULED meeting that is not
// excluded, or one claimed for deployment whose bot ID was never recorded.
func awaitingBot(m *models.Meeting) bool {
	if m.BotID != "" {
		return false
	}
	switch m.Status {
	case models.MeetingStatusScheduled:
		return !m.BotExcluded
	case models.MeetingStatusJoining:
		return true
	}
	return false
}

// dispatchDeploy enqueues schedule.bot for a meeting. A failure is left for the next sync,
// which dispatches again while the meeting is still awaiting its bot.
func (w *Worker) dispatchDeploy(ctx context.Context, log *zap.Logger, meetingID uuid.UUID) bool {
	if err := w.dispatch.EnqueueScheduleBot(ctx, queue.ScheduleBotPayload{MeetingID: meetingID}); err != nil {
		log.Error("dispatch bot deployment failed", zap.String("meeting_id", meetingID.String()), zap.Error(err))
		return false
	}
	return true
}
