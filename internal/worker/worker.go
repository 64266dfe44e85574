// Package worker consumes queued tasks and routes them to their handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/botdeploy"
	"github.com/aura-webinar/meetbot/internal/calendarsync"
	"github.com/aura-webinar/meetbot/internal/completion"
	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/pkg/queue"
)

const (
	dequeueTimeout = 5 * time.Second
	errorPause     = time.Second
	// heartbeat keeps a running job's claim alive well inside the visibility timeout.
	heartbeat = queue.VisibilityTimeout / 3
)

// ErrArchiveDisabled is returned for recording.archive tasks when no archiver is configured.
var ErrArchiveDisabled = errors.New("recording archival is not configured")

// JobSource is the task queue as seen by the consumer. Every dequeued job is settled with
// exactly one of Ack, Retry or DeadLetter; Extend keeps the claim of a running job.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Extend(ctx context.Context, job *queue.Job) error
	Retry(ctx context.Context, job *queue.Job, cause error) error
	DeadLetter(ctx context.Context, job *queue.Job, reason string) error
}

// UserSyncer syncs one user's calendar.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID uuid.UUID) (calendarsync.Result, error)
}

// BotScheduler deploys or defers a meeting's bot.
type BotScheduler interface {
	Schedule(ctx context.Context, meetingID uuid.UUID) (botdeploy.Outcome, error)
}

// Completer runs the meeting completion pipeline.
type Completer interface {
	Complete(ctx context.Context, req queue.MeetingCompletePayload) (*completion.Result, error)
}

// InsightGenerator generates meeting insights.
type InsightGenerator interface {
	Generate(ctx context.Context, req queue.GenerateInsightsPayload) ([]models.MeetingInsight, error)
}

// Archiver copies recordings to object storage.
type Archiver interface {
	Archive(ctx context.Context, payload queue.RecordingArchivePayload) error
}

// Handlers are the task handlers, one per topic. Archiver may be nil.
type Handlers struct {
	Sync     UserSyncer
	Deploy   BotScheduler
	Complete Completer
	Insights InsightGenerator
	Archiver Archiver
}

// Processor executes queued tasks.
type Processor struct {
	jobs      JobSource
	handlers  Handlers
	heartbeat time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewProcessor creates a task processor.
func NewProcessor(jobs JobSource, handlers Handlers, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{jobs: jobs, handlers: handlers, heartbeat: heartbeat, metrics: m, logger: logger}
}

// Process executes one task.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Topic {
	case queue.TopicSyncUser:
		var payload queue.SyncUserPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := p.handlers.Sync.SyncUser(ctx, payload.UserID)
		return err
	case queue.TopicScheduleBot:
		var payload queue.ScheduleBotPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := p.handlers.Deploy.Schedule(ctx, payload.MeetingID)
		return err
	case queue.TopicMeetingComplete:
		var payload queue.MeetingCompletePayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := p.handlers.Complete.Complete(ctx, payload)
		return err
	case queue.TopicGenerateInsights:
		var payload queue.GenerateInsightsPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := p.handlers.Insights.Generate(ctx, payload)
		return err
	case queue.TopicRecordingArchive:
		if p.handlers.Archiver == nil {
			return queue.Permanent(ErrArchiveDisabled)
		}
		var payload queue.RecordingArchivePayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return p.handlers.Archiver.Archive(ctx, payload)
	default:
		return queue.Permanent(fmt.Errorf("unknown topic: %s", job.Topic))
	}
}

// Handle processes job and settles it: successes are acked, failures are retried with
// backoff, and permanent failures go straight to the dead-letter list. It returns the
// outcome label. A job whose settlement fails is handed out again once its claim expires.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) string {
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("topic", string(job.Topic)), zap.Int("attempt", job.Attempt))
	start := time.Now()
	stop := p.keepClaim(ctx, log, job)
	err := p.Process(ctx, job)
	stop()
	outcome := "ok"
	switch {
	case err == nil:
		log.Debug("job done")
		if ackErr := p.jobs.Ack(ctx, job); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
	case queue.IsPermanent(err):
		outcome = "dead_letter"
		log.Error("job failed permanently", zap.Error(err))
		job.LastError = err.Error()
		if dlErr := p.jobs.DeadLetter(ctx, job, "permanent failure"); dlErr != nil {
			log.Error("dlq push failed", zap.Error(dlErr))
		}
	default:
		outcome = "retry"
		log.Warn("job failed", zap.Error(err))
		if reErr := p.jobs.Retry(ctx, job, err); reErr != nil {
			log.Error("retry enqueue failed", zap.Error(reErr))
		}
	}
	p.metrics.JobProcessed(string(job.Topic), outcome, time.Since(start).Seconds())
	return outcome
}

// keepClaim extends job's claim every heartbeat until the returned stop is called.
func (p *Processor) keepClaim(ctx context.Context, log *zap.Logger, job *queue.Job) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(p.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.jobs.Extend(ctx, job); err != nil && ctx.Err() == nil {
					log.Warn("extend claim failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Run starts the worker loop: dequeue, process, settle. It returns when ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("task worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(errorPause):
			}
			continue
		}
		if job == nil {
			continue
		}
		p.Handle(ctx, job)
	}
}

// QueueMaintainer releases delayed retries and reclaims jobs of dead workers.
type QueueMaintainer interface {
	PromoteDelayed(ctx context.Context, now time.Time) (int, error)
	RecoverStale(ctx context.Context, now time.Time) (int, error)
}

// Promoter is the cron job that releases retry-delayed tasks and recovers tasks whose
// claim expired.
type Promoter struct {
	queue  QueueMaintainer
	logger *zap.Logger
}

// NewPromoter creates a promoter.
func NewPromoter(q QueueMaintainer, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{queue: q, logger: logger}
}

// Run promotes every due task and recovers every stale one. Used as a cron job.
func (p *Promoter) Run() {
	ctx := context.Background()
	if n := p.drain(ctx, "promote delayed jobs", p.queue.PromoteDelayed); n > 0 {
		p.logger.Debug("delayed jobs promoted", zap.Int("count", n))
	}
	if n := p.drain(ctx, "recover stale jobs", p.queue.RecoverStale); n > 0 {
		p.logger.Warn("stale jobs recovered", zap.Int("count", n))
	}
}

// drain calls step until it moves nothing or fails, returning the total moved.
func (p *Promoter) drain(ctx context.Context, what string, step func(context.Context, time.Time) (int, error)) int {
	total := 0
	for {
		n, err := step(ctx, time.Now())
		total += n
		if err != nil {
			p.logger.Warn(what+" failed", zap.Error(err))
			return total
		}
		if n == 0 {
			return total
		}
	}
}
