package botdeploy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/pkg/queue"
)

// WakeupRepository persists deferred deployments in meeting_bot_wakeups.
type WakeupRepository struct {
	pool *pgxpool.Pool
}

// NewWakeupRepository creates a wake-up repository.
func NewWakeupRepository(pool *pgxpool.Pool) *WakeupRepository {
	return &WakeupRepository{pool: pool}
}

// Schedule sets the meeting's wake-up time, replacing any earlier one.
func (r *WakeupRepository) Schedule(ctx context.Context, meetingID uuid.UUID, wakeAt time.Time) error {
	const q = `INSERT INTO meeting_bot_wakeups (meeting_id, wake_at) VALUES ($1, $2)
		ON CONFLICT (meeting_id) DO UPDATE SET wake_at = EXCLUDED.wake_at`
	_, err := r.pool.Exec(ctx, q, meetingID, wakeAt)
	return err
}

// Clear removes the meeting's wake-up, if any.
func (r *WakeupRepository) Clear(ctx context.Context, meetingID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM meeting_bot_wakeups WHERE meeting_id = $1`, meetingID)
	return err
}

// FireDue locks up to limit wake-ups due at now, calls fire for each and re-arms the ones
// that fired at redeliverAt, all in one transaction. Rows are only removed by Clear, once
// the deployment has settled, so a task lost after firing is fired again. Rows locked by
// another instance are skipped. The first fire error stops the batch and is returned; rows
// not fired stay due.
func (r *WakeupRepository) FireDue(ctx context.Context, now, redeliverAt time.Time, limit int, fire func(ctx context.Context, meetingID uuid.UUID) error) (int, error) {
	fired := 0
	var fireErr error
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const sel = `SELECT meeting_id FROM meeting_bot_wakeups WHERE wake_at <= $1
			ORDER BY wake_at LIMIT $2 FOR UPDATE SKIP LOCKED`
		rows, err := tx.Query(ctx, sel, now, limit)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return err
		}
		var done []uuid.UUID
		for _, id := range ids {
			if err := fire(ctx, id); err != nil {
				fireErr = err
				break
			}
			done = append(done, id)
		}
		if len(done) == 0 {
			return nil
		}
		const rearm = `UPDATE meeting_bot_wakeups SET wake_at = $2 WHERE meeting_id = ANY($1::uuid[])`
		if _, err := tx.Exec(ctx, rearm, done, redeliverAt); err != nil {
			return err
		}
		fired = len(done)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return fired, fireErr
}

// WakeupDrainer releases due wake-ups.
type WakeupDrainer interface {
	FireDue(ctx context.Context, now, redeliverAt time.Time, limit int, fire func(ctx context.Context, meetingID uuid.UUID) error) (int, error)
}

// DeployDispatcher re-enqueues a released deployment.
type DeployDispatcher interface {
	EnqueueScheduleBot(ctx context.Context, payload queue.ScheduleBotPayload) error
}

const (
	// drainBatch bounds the rows locked per transaction.
	drainBatch = 100
	// RedeliveryDelay is how long a fired wake-up waits before firing again if its
	// deployment has not settled by then.
	RedeliveryDelay = 5 * time.Minute
)

// Drainer turns due wake-ups back into schedule.bot tasks.
type Drainer struct {
	wakeups  WakeupDrainer
	dispatch DeployDispatcher
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewDrainer creates a wake-up drainer.
func NewDrainer(wakeups WakeupDrainer, dispatch DeployDispatcher, m *metrics.Metrics, logger *zap.Logger) *Drainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{wakeups: wakeups, dispatch: dispatch, now: time.Now, metrics: m, logger: logger}
}

// SetClock replaces the drainer's time source.
func (d *Drainer) SetClock(now func() time.Time) {
	d.now = now
}

// Tick releases every due wake-up, batch by batch.
func (d *Drainer) Tick(ctx context.Context) (int, error) {
	total := 0
	now := d.now()
	for {
		n, err := d.wakeups.FireDue(ctx, now, now.Add(RedeliveryDelay), drainBatch, func(ctx context.Context, meetingID uuid.UUID) error {
			return d.dispatch.EnqueueScheduleBot(ctx, queue.ScheduleBotPayload{MeetingID: meetingID})
		})
		total += n
		d.metrics.WakeupsFired(n)
		if err != nil {
			return total, err
		}
		if n < drainBatch {
			break
		}
	}
	if total > 0 {
		d.logger.Info("bot wake-ups released", zap.Int("count", total))
	}
	return total, nil
}

// Run is the cron entry point.
func (d *Drainer) Run() {
	if _, err := d.Tick(context.Background()); err != nil {
		d.logger.Error("wake-up drain failed", zap.Error(err))
	}
}
