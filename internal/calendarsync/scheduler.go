// Package calendarsync discovers conferenced calendar events and turns them into tracked
// meetings.
package calendarsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/pkg/queue"
)

// UserSource lists users eligible for automatic bot attendance.
type UserSource interface {
	ListAutoJoinUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// SyncDispatcher hands a per-user sync off to the task queue.
type SyncDispatcher interface {
	EnqueueSyncUser(ctx context.Context, payload queue.SyncUserPayload) error
}

// Scheduler fans out one sync.user task per opted-in user on each tick.
type Scheduler struct {
	users    UserSource
	dispatch SyncDispatcher
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewScheduler creates a calendar sync scheduler.
func NewScheduler(users UserSource, dispatch SyncDispatcher, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{users: users, dispatch: dispatch, metrics: m, logger: logger}
}

// Tick dispatches a sync for every auto-join user. A failed dispatch is logged and the
// remaining users are still dispatched.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	ids, err := s.users.ListAutoJoinUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list auto-join users: %w", err)
	}
	dispatched := 0
	for _, id := range ids {
		if err := s.dispatch.EnqueueSyncUser(ctx, queue.SyncUserPayload{UserID: id}); err != nil {
			s.logger.Warn("dispatch calendar sync failed", zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		dispatched++
	}
	s.logger.Info("calendar sync dispatched", zap.Int("users", len(ids)), zap.Int("dispatched", dispatched))
	return dispatched, nil
}

// Run is the cron entry point.
func (s *Scheduler) Run() {
	if _, err := s.Tick(context.Background()); err != nil {
		s.logger.Error("calendar sync tick failed", zap.Error(err))
	}
}
