// Package insights extracts structured insights from meeting transcripts with an LLM and
// finalizes the meeting.
package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/meetings"
	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/internal/notify"
	"github.com/aura-webinar/meetbot/pkg/queue"
)

// DefaultMaxTranscriptChars bounds the transcript sent to the model.
const DefaultMaxTranscriptChars = 100000

// MeetingStore is the slice of the meeting store used by the generator.
type MeetingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	GetTranscript(ctx context.Context, meetingID uuid.UUID) (*models.MeetingTranscript, error)
	ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingParticipant, error)
	ReplaceInsights(ctx context.Context, meetingID uuid.UUID, insights []models.MeetingInsight) error
	UpdateStatus(ctx context.Context, id uuid.UUID, upd meetings.StatusUpdate) (*models.Meeting, error)
}

// LLM produces a structured JSON reply.
type LLM interface {
	GenerateStructured(ctx context.Context, system, prompt string) (string, error)
}

// Notifier tells the meeting owner that insights are ready.
type Notifier interface {
	NotifyInsightsReady(ctx context.Context, ev notify.InsightsReady) error
}

// Generator runs insight generation for one meeting.
type Generator struct {
	store    MeetingStore
	llm      LLM
	notifier Notifier
	maxChars int
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewGenerator creates a generator. maxChars <= 0 uses DefaultMaxTranscriptChars; notifier
// may be nil.
func NewGenerator(store MeetingStore, llm LLM, notifier Notifier, maxChars int, m *metrics.Metrics, logger *zap.Logger) *Generator {
	if maxChars <= 0 {
		maxChars = DefaultMaxTranscriptChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{store: store, llm: llm, notifier: notifier, maxChars: maxChars, metrics: m, logger: logger}
}

// Generate stores the seven insights of a meeting, replacing earlier ones, and marks the
// meeting COMPLETED. The status only changes after the insights are stored.
func (g *Generator) Generate(ctx context.Context, req queue.GenerateInsightsPayload) ([]models.MeetingInsight, error) {
	log := g.logger.With(zap.String("meeting_id", req.MeetingID.String()))
	m, err := g.store.GetByID(ctx, req.MeetingID)
	if errors.Is(err, meetings.ErrNotFound) {
		return nil, queue.Permanent(err)
	}
	if err != nil {
		return nil, fmt.Errorf("load meeting: %w", err)
	}
	if m.Status == models.MeetingStatusFailed || m.Status == models.MeetingStatusCancelled {
		log.Info("meeting is closed, skipping insights", zap.String("status", string(m.Status)))
		return nil, nil
	}

	text := req.TranscriptText
	if strings.TrimSpace(text) == "" {
		t, err := g.store.GetTranscript(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("load transcript: %w", err)
		}
		if t == nil || strings.TrimSpace(t.FullText) == "" {
			return nil, queue.Permanent(fmt.Errorf("meeting %s has no transcript", m.ID))
		}
		text = t.FullText
	}

	participants, err := g.store.ListParticipants(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	names := lo.Map(participants, func(p models.MeetingParticipant, _ int) string { return p.Name })

	reply, err := g.llm.GenerateStructured(ctx, SystemPrompt(m, names), UserPrompt(Truncate(text, g.maxChars)))
	if err != nil {
		g.metrics.InsightRun("llm_error")
		return nil, fmt.Errorf("generate insights: %w", err)
	}
	out, err := ParseOutput(reply)
	if err != nil {
		g.metrics.InsightRun("malformed")
		log.Warn("model returned malformed insights", zap.Error(err))
		return nil, err
	}
	list, err := out.Insights()
	if err != nil {
		return nil, fmt.Errorf("encode insights: %w", err)
	}
	if err := g.store.ReplaceInsights(ctx, m.ID, list); err != nil {
		return nil, fmt.Errorf("store insights: %w", err)
	}

	if m.Status != models.MeetingStatusCompleted {
		_, err := g.store.UpdateStatus(ctx, m.ID, meetings.StatusUpdate{
			Status: models.MeetingStatusCompleted,
			From:   []models.MeetingStatus{m.Status},
		})
		switch {
		case errors.Is(err, meetings.ErrStaleStatus):
			log.Warn("meeting status changed while generating insights")
		case err != nil:
			return nil, fmt.Errorf("mark completed: %w", err)
		default:
			g.metrics.Transition(string(models.MeetingStatusCompleted), "insights")
		}
	}
	g.metrics.InsightRun("success")
	log.Info("meeting insights stored", zap.Int("insights", len(list)))

	if g.notifier != nil {
		err := g.notifier.NotifyInsightsReady(ctx, notify.InsightsReady{
			UserID:       m.UserID,
			MeetingID:    m.ID,
			MeetingTitle: m.Title,
			InsightCount: len(list),
		})
		if err != nil {
			log.Warn("insights notification failed", zap.Error(err))
		}
	}
	return list, nil
}
