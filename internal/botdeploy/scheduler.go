// Package botdeploy sends bots into meetings at their join time. Deployments that are not
// yet due are parked in a persisted wake-up table and released by the Drainer.
package botdeploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/meetings"
	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/internal/models"
)

// DefaultJoinLead is how long before the scheduled start the bot joins.
const DefaultJoinLead = 60 * time.Second

// Outcome is the result of one scheduling attempt.
type Outcome string

const (
	OutcomeDeployed Outcome = "deployed"
	OutcomeDeferred Outcome = "deferred"
	OutcomeExcluded Outcome = "excluded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// MeetingStore is the slice of the meeting store used for deployment.
type MeetingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, upd meetings.StatusUpdate) (*models.Meeting, error)
}

// SettingsSource returns a user's bot settings (defaults when unset).
type SettingsSource interface {
	Get(ctx context.Context, userID uuid.UUID) (models.MeetingBotSettings, error)
}

// Deployer deploys vendor bots.
type Deployer interface {
	DeployBot(ctx context.Context, req botvendor.DeployRequest) (string, error)
}

// WakeupScheduler persists a deferred deployment and removes it once settled.
type WakeupScheduler interface {
	Schedule(ctx context.Context, meetingID uuid.UUID, wakeAt time.Time) error
	Clear(ctx context.Context, meetingID uuid.UUID) error
}

// Options configures deployments.
type Options struct {
	JoinLead           time.Duration
	WebhookURL         string
	WaitingRoomTimeout time.Duration
}

// Scheduler handles schedule.bot tasks.
type Scheduler struct {
	store    MeetingStore
	settings SettingsSource
	vendor   Deployer
	wakeups  WakeupScheduler
	opts     Options
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewScheduler creates a bot deployment scheduler.
func NewScheduler(store MeetingStore, settings SettingsSource, vendor Deployer, wakeups WakeupScheduler, opts Options, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.JoinLead <= 0 {
		opts.JoinLead = DefaultJoinLead
	}
	return &Scheduler{store: store, settings: settings, vendor: vendor, wakeups: wakeups, opts: opts, now: time.Now, metrics: m, logger: logger}
}

// SetClock replaces the scheduler's time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// JoinTime returns when the bot should join m.
func (s *Scheduler) JoinTime(m *models.Meeting) time.Time {
	return m.ScheduledStart.Add(-s.opts.JoinLead)
}

// Schedule deploys a bot into the meeting if its join time has come, or parks a wake-up
// for the join time otherwise. It is safe to call repeatedly. The meeting is claimed
// (SCHEDULED to JOINING) before the vendor is called, and the meeting ID is sent as the
// vendor idempotency key, so redeliveries never put a second bot into the meeting. A
// claimed meeting whose bot ID was never recorded is resumed with the same key. A vendor
// rejection marks the meeting FAILED and is not returned as an error. Once the meeting no
// longer needs a deployment its wake-up row is cleared.
func (s *Scheduler) Schedule(ctx context.Context, meetingID uuid.UUID) (Outcome, error) {
	o, err := s.schedule(ctx, meetingID)
	if err != nil {
		return "", err
	}
	if o != OutcomeDeferred {
		if err := s.wakeups.Clear(ctx, meetingID); err != nil {
			// The wake-up fires again later and finds nothing to do.
			s.logger.Warn("clear wake-up failed", zap.String("meeting_id", meetingID.String()), zap.Error(err))
		}
	}
	s.metrics.BotDeployment(string(o))
	return o, nil
}

func (s *Scheduler) schedule(ctx context.Context, meetingID uuid.UUID) (Outcome, error) {
	log := s.logger.With(zap.String("meeting_id", meetingID.String()))

	m, err := s.store.GetByID(ctx, meetingID)
	if errors.Is(err, meetings.ErrNotFound) {
		log.Warn("meeting to deploy not found")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("load meeting: %w", err)
	}

	resuming := unrecorded(m)
	if !resuming {
		if m.BotExcluded {
			log.Info("meeting excluded from bot attendance, not deploying")
			return OutcomeExcluded, nil
		}
		if m.Status != models.MeetingStatusScheduled {
			log.Debug("meeting no longer scheduled", zap.String("status", string(m.Status)))
			return OutcomeSkipped, nil
		}
		joinAt := s.JoinTime(m)
		if s.now().Before(joinAt) {
			if err := s.wakeups.Schedule(ctx, m.ID, joinAt); err != nil {
				return "", fmt.Errorf("schedule wake-up: %w", err)
			}
			log.Info("bot deployment deferred", zap.Time("join_at", joinAt))
			return OutcomeDeferred, nil
		}
	}

	settings, err := s.settings.Get(ctx, m.UserID)
	if err != nil {
		return "", fmt.Errorf("load bot settings: %w", err)
	}

	if resuming {
		log.Info("resuming interrupted deployment")
	} else {
		if _, err := s.store.UpdateStatus(ctx, m.ID, meetings.StatusUpdate{
			Status: models.MeetingStatusJoining,
			From:   []models.MeetingStatus{models.MeetingStatusScheduled},
		}); err != nil {
			if errors.Is(err, meetings.ErrStaleStatus) {
				log.Debug("meeting claimed or changed concurrently")
				return OutcomeSkipped, nil
			}
			return "", fmt.Errorf("claim meeting: %w", err)
		}
		s.metrics.Transition(string(models.MeetingStatusJoining), "deploy")
	}

	botID, err := s.vendor.DeployBot(ctx, botvendor.DeployRequest{
		MeetingURL:         m.MeetingURL,
		BotName:            settings.BotName,
		BotImage:           settings.BotImage,
		EntryMessage:       settings.EntryMessage,
		RecordingMode:      settings.RecordingMode,
		WebhookURL:         s.opts.WebhookURL,
		WaitingRoomTimeout: s.opts.WaitingRoomTimeout,
		IdempotencyKey:     m.ID.String(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		msg := "bot deployment failed: " + err.Error()
		if _, uerr := s.store.UpdateStatus(ctx, m.ID, meetings.StatusUpdate{
			Status:       models.MeetingStatusFailed,
			From:         []models.MeetingStatus{models.MeetingStatusJoining},
			ErrorMessage: &msg,
		}); uerr != nil && !errors.Is(uerr, meetings.ErrStaleStatus) {
			return "", fmt.Errorf("record deployment failure: %w", uerr)
		}
		log.Error("bot deployment failed", zap.Error(err))
		s.metrics.Transition(string(models.MeetingStatusFailed), "deploy")
		return OutcomeFailed, nil
	}

	if _, err := s.store.UpdateStatus(ctx, m.ID, meetings.StatusUpdate{
		Status: models.MeetingStatusJoining,
		From:   []models.MeetingStatus{models.MeetingStatusJoining},
		BotID:  botID,
	}); err != nil {
		if errors.Is(err, meetings.ErrStaleStatus) {
			log.Warn("meeting changed during deployment", zap.String("bot_id", botID))
			return OutcomeDeployed, nil
		}
		return "", fmt.Errorf("record deployment: %w", err)
	}
	log.Info("bot deployed", zap.String("bot_id", botID))
	return OutcomeDeployed, nil
}

// unrecorded reports whether m was claimed for deployment but its bot ID was never stored.
func unrecorded(m *models.Meeting) bool {
	return m.Status == models.MeetingStatusJoining && m.BotID == ""
}
