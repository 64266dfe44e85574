package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/internal/models"
)

// pollBatch bounds the meetings polled per tick.
const pollBatch = 500

// InFlightLister lists meetings with a bot that have not finished.
type InFlightLister interface {
	ListInFlight(ctx context.Context, limit int) ([]models.Meeting, error)
}

// StatusFetcher reads a bot's status from the vendor.
type StatusFetcher interface {
	GetBotStatus(ctx context.Context, botID string) (*botvendor.BotStatus, error)
}

// PollResult summarizes one poll tick.
type PollResult struct {
	Polled      int
	Failed      int
	Transitions int
	Completions int
}

// Poller periodically re-derives in-flight meeting state from the vendor.
type Poller struct {
	meetings   InFlightLister
	vendor     StatusFetcher
	reconciler *Reconciler
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewPoller creates a status reconciliation poller.
func NewPoller(meetings InFlightLister, vendor StatusFetcher, reconciler *Reconciler, m *metrics.Metrics, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{meetings: meetings, vendor: vendor, reconciler: reconciler, metrics: m, logger: logger}
}

// Tick polls every in-flight meeting once. A failure for one meeting is logged and the
// rest are still polled; only failing to list meetings is returned.
func (p *Poller) Tick(ctx context.Context) (PollResult, error) {
	var res PollResult
	list, err := p.meetings.ListInFlight(ctx, pollBatch)
	if err != nil {
		return res, fmt.Errorf("list in-flight meetings: %w", err)
	}
	for i := range list {
		m := &list[i]
		res.Polled++
		log := p.logger.With(zap.String("meeting_id", m.ID.String()), zap.String("bot_id", m.BotID))

		st, err := p.vendor.GetBotStatus(ctx, m.BotID)
		if err != nil {
			res.Failed++
			p.metrics.Poll("error")
			log.Warn("poll bot status failed", zap.Error(err))
			continue
		}
		r, err := p.reconciler.Apply(ctx, m, *st, "poll")
		if err != nil {
			res.Failed++
			p.metrics.Poll("error")
			log.Warn("apply bot status failed", zap.Error(err))
			continue
		}
		p.metrics.Poll("ok")
		if r.Transitioned {
			res.Transitions++
		}
		if r.CompletionQueued {
			res.Completions++
		}
	}
	if res.Polled > 0 {
		p.logger.Info("status poll finished", zap.Int("polled", res.Polled), zap.Int("failed", res.Failed),
			zap.Int("transitions", res.Transitions), zap.Int("completions", res.Completions))
	}
	return res, nil
}

// Run is the cron entry point.
func (p *Poller) Run() {
	if _, err := p.Tick(context.Background()); err != nil {
		p.logger.Error("status poll failed", zap.Error(err))
	}
}
