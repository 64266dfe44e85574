// Package completion turns a finished meeting's artifacts into a stored transcript and
// participant list, then hands off to insight generation.
package completion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/meetings"
	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/internal/transcription"
	"github.com/aura-webinar/meetbot/pkg/queue"
)

// ErrNoTranscriptSource is returned when a completion request carries no audio, transcript
// or diarization URL and the meeting has none stored either.
var ErrNoTranscriptSource = errors.New("no transcript source available")

// Source names which artifact produced the transcript.
type Source string

const (
	SourceAudio       Source = "audio"
	SourceTranscript  Source = "transcript"
	SourceDiarization Source = "diarization"
)

// MeetingStore is the slice of the meeting store used by the pipeline.
type MeetingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, upd meetings.StatusUpdate) (*models.Meeting, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, patch models.MeetingMetadata) error
	UpsertTranscript(ctx context.Context, t *models.MeetingTranscript) error
	ReplaceParticipants(ctx context.Context, meetingID uuid.UUID, names []string) error
	SetDurationIfUnset(ctx context.Context, id uuid.UUID, seconds int) error
}

// TranscriptFetcher downloads vendor transcripts.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, url string) (*botvendor.Transcript, error)
}

// SpeechToText transcribes audio and reads diarization output.
type SpeechToText interface {
	Transcribe(ctx context.Context, audioURL, diarizationURL string) (*transcription.Result, error)
	FetchDiarization(ctx context.Context, url string) (*transcription.Result, error)
}

// InsightDispatcher hands the transcript to insight generation.
type InsightDispatcher interface {
	EnqueueGenerateInsights(ctx context.Context, payload queue.GenerateInsightsPayload) error
}

// Result describes one pipeline run.
type Result struct {
	Skipped        bool
	Source         Source
	WordCount      int
	Participants   []string
	InsightsQueued bool
}

// Pipeline is the meeting completion pipeline.
type Pipeline struct {
	store    MeetingStore
	vendor   TranscriptFetcher
	stt      SpeechToText
	dispatch InsightDispatcher
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewPipeline creates a completion pipeline.
func NewPipeline(store MeetingStore, vendor TranscriptFetcher, stt SpeechToText, dispatch InsightDispatcher, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, vendor: vendor, stt: stt, dispatch: dispatch, now: time.Now, metrics: m, logger: logger}
}

// SetClock replaces the pipeline's time source.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// transcriptResult is the transcript obtained from whichever source succeeded.
type transcriptResult struct {
	source   Source
	fullText string
	segments []models.TranscriptSegment
	language string
	duration float64
}

// Complete stores the meeting's transcript and participants and queues insight generation.
// Running it again for the same meeting refreshes the same rows. A meeting that is already
// COMPLETED is refreshed without generating insights again; FAILED and CANCELLED meetings
// are skipped.
func (p *Pipeline) Complete(ctx context.Context, req queue.MeetingCompletePayload) (*Result, error) {
	log := p.logger.With(zap.String("meeting_id", req.MeetingID.String()))
	m, err := p.store.GetByID(ctx, req.MeetingID)
	if errors.Is(err, meetings.ErrNotFound) {
		return nil, queue.Permanent(err)
	}
	if err != nil {
		return nil, fmt.Errorf("load meeting: %w", err)
	}
	if m.Status == models.MeetingStatusFailed || m.Status == models.MeetingStatusCancelled {
		log.Info("meeting is closed, skipping completion", zap.String("status", string(m.Status)))
		return &Result{Skipped: true}, nil
	}

	if req.TranscriptURL == "" {
		req.TranscriptURL = m.Metadata.TranscriptURL
	}
	if req.DiarizationURL == "" {
		req.DiarizationURL = m.Metadata.DiarizationURL
	}
	if req.AudioURL == "" {
		req.AudioURL = m.Metadata.AudioURL
	}
	if req.TranscriptURL == "" && req.DiarizationURL == "" && req.AudioURL == "" {
		return nil, queue.Permanent(ErrNoTranscriptSource)
	}

	m, err = p.enterProcessing(ctx, m, req)
	if err != nil {
		return nil, err
	}

	tr, err := p.resolveTranscript(ctx, req, log)
	if err != nil {
		return nil, err
	}

	t := &models.MeetingTranscript{
		MeetingID: m.ID,
		FullText:  tr.fullText,
		Segments:  tr.segments,
		Language:  tr.language,
		WordCount: meetings.WordCount(tr.fullText),
	}
	if err := p.store.UpsertTranscript(ctx, t); err != nil {
		return nil, fmt.Errorf("store transcript: %w", err)
	}

	names := MergeParticipants(m.Metadata.Participants, m.Metadata.Speakers, SegmentSpeakers(tr.segments))
	if err := p.store.ReplaceParticipants(ctx, m.ID, names); err != nil {
		return nil, fmt.Errorf("store participants: %w", err)
	}

	if secs, ok := p.duration(m, req, tr); ok {
		if err := p.store.SetDurationIfUnset(ctx, m.ID, secs); err != nil {
			return nil, fmt.Errorf("backfill duration: %w", err)
		}
	}

	res := &Result{Source: tr.source, WordCount: t.WordCount, Participants: names}
	p.metrics.CompletionRun(string(tr.source))
	if m.Status == models.MeetingStatusCompleted {
		log.Info("transcript refreshed for completed meeting", zap.String("source", string(tr.source)))
		return res, nil
	}
	if err := p.dispatch.EnqueueGenerateInsights(ctx, queue.GenerateInsightsPayload{MeetingID: m.ID, TranscriptText: tr.fullText}); err != nil {
		return nil, fmt.Errorf("enqueue insights: %w", err)
	}
	res.InsightsQueued = true
	log.Info("meeting transcript stored", zap.String("source", string(tr.source)), zap.Int("words", t.WordCount),
		zap.Int("participants", len(names)))
	return res, nil
}

// enterProcessing records the request's artifacts and moves a live meeting to PROCESSING.
func (p *Pipeline) enterProcessing(ctx context.Context, m *models.Meeting, req queue.MeetingCompletePayload) (*models.Meeting, error) {
	patch := models.MeetingMetadata{
		TranscriptURL:  req.TranscriptURL,
		DiarizationURL: req.DiarizationURL,
		AudioURL:       req.AudioURL,
	}
	if err := p.store.MergeMetadata(ctx, m.ID, patch); err != nil {
		return nil, fmt.Errorf("merge metadata: %w", err)
	}

	switch m.Status {
	case models.MeetingStatusScheduled, models.MeetingStatusJoining, models.MeetingStatusInProgress:
		now := p.now()
		updated, err := p.store.UpdateStatus(ctx, m.ID, meetings.StatusUpdate{
			Status:       models.MeetingStatusProcessing,
			From:         []models.MeetingStatus{m.Status},
			ActualEnd:    &now,
			RecordingURL: req.RecordingURL,
		})
		if errors.Is(err, meetings.ErrStaleStatus) {
			return p.reload(ctx, m.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("mark processing: %w", err)
		}
		p.metrics.Transition(string(models.MeetingStatusProcessing), "completion")
		return updated, nil
	case models.MeetingStatusProcessing:
		if req.RecordingURL != "" && m.RecordingURL == "" {
			updated, err := p.store.UpdateStatus(ctx, m.ID, meetings.StatusUpdate{
				Status:       models.MeetingStatusProcessing,
				From:         []models.MeetingStatus{models.MeetingStatusProcessing},
				RecordingURL: req.RecordingURL,
			})
			if errors.Is(err, meetings.ErrStaleStatus) {
				return p.reload(ctx, m.ID)
			}
			if err != nil {
				return nil, fmt.Errorf("store recording url: %w", err)
			}
			return updated, nil
		}
	}
	return m, nil
}

func (p *Pipeline) reload(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	m, err := p.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload meeting: %w", err)
	}
	if m.Status == models.MeetingStatusFailed || m.Status == models.MeetingStatusCancelled {
		return nil, queue.Permanent(fmt.Errorf("meeting %s closed as %s during completion", id, m.Status))
	}
	return m, nil
}

// resolveTranscript tries audio (with diarization), then the vendor transcript, then
// diarization alone. A failing source falls through to the next available one. Audio and
// diarization need a speech-to-text service.
func (p *Pipeline) resolveTranscript(ctx context.Context, req queue.MeetingCompletePayload, log *zap.Logger) (*transcriptResult, error) {
	lastErr := ErrNoTranscriptSource
	if req.AudioURL != "" && p.stt != nil {
		res, err := p.stt.Transcribe(ctx, req.AudioURL, req.DiarizationURL)
		if err == nil {
			return &transcriptResult{source: SourceAudio, fullText: res.FullText, segments: res.Segments, language: res.Language, duration: res.Duration}, nil
		}
		log.Warn("audio transcription failed, trying next source", zap.Error(err))
		lastErr = err
	}
	if req.TranscriptURL != "" {
		t, err := p.vendor.FetchTranscript(ctx, req.TranscriptURL)
		if err == nil {
			return &transcriptResult{source: SourceTranscript, fullText: t.FullText, segments: t.Segments, language: t.Language, duration: t.Duration}, nil
		}
		log.Warn("transcript fetch failed, trying next source", zap.Error(err))
		lastErr = err
	}
	if req.DiarizationURL != "" && p.stt != nil {
		res, err := p.stt.FetchDiarization(ctx, req.DiarizationURL)
		if err == nil {
			return &transcriptResult{source: SourceDiarization, fullText: res.FullText, segments: res.Segments, language: res.Language, duration: res.Duration}, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("resolve transcript: %w", lastErr)
}

// duration picks the meeting length in seconds: the request's value, then the transcript's,
// then the observed window.
func (p *Pipeline) duration(m *models.Meeting, req queue.MeetingCompletePayload, tr *transcriptResult) (int, bool) {
	if m.Duration != nil {
		return 0, false
	}
	if req.Duration != nil && *req.Duration > 0 {
		return *req.Duration, true
	}
	if tr.duration > 0 {
		return int(math.Round(tr.duration)), true
	}
	if m.ActualStart != nil && m.ActualEnd != nil && m.ActualEnd.After(*m.ActualStart) {
		return int(m.ActualEnd.Sub(*m.ActualStart).Seconds()), true
	}
	return 0, false
}
