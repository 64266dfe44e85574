// Package reconcile applies vendor bot status to meetings. The same code runs for webhook
// status events and for the periodic poll that covers lost webhooks.
package reconcile

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
	"github.com/aura-webinar/meetbot/pkg/queue"
)

// MeetingStore is the slice of the meeting store used by reconciliation.
type MeetingStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, upd meetings.StatusUpdate) (*models.Meeting, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, patch models.MeetingMetadata) error
}

// Dispatcher enqueues the follow-up work of a finished meeting.
type Dispatcher interface {
	EnqueueMeetingComplete(ctx context.Context, payload queue.MeetingCompletePayload) error
	EnqueueRecordingArchive(ctx context.Context, payload queue.RecordingArchivePayload) error
}

// Result describes what Apply did.
type Result struct {
	From, To         models.MeetingStatus
	Transitioned     bool
	CompletionQueued bool
	ArchiveQueued    bool
	IgnoredStatus    bool
}

// Reconciler moves meetings forward according to vendor status.
type Reconciler struct {
	store          MeetingStore
	dispatch       Dispatcher
	archiveEnabled bool
	now            func() time.Time
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewReconciler creates a reconciler. archiveEnabled turns on recording.archive tasks.
func NewReconciler(store MeetingStore, dispatch Dispatcher, archiveEnabled bool, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, dispatch: dispatch, archiveEnabled: archiveEnabled, now: time.Now, metrics: m, logger: logger}
}

// SetClock replaces the reconciler's time source.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Apply maps st onto m. Transitions only move forward and are written with a status guard,
// so a stale trigger never overwrites a newer state. Timestamps are set once. When the
// vendor reports a transcript for a meeting that has ended, the completion pipeline is
// queued the first time that transcript is seen. source labels metrics ("poll", "webhook").
func (r *Reconciler) Apply(ctx context.Context, m *models.Meeting, st botvendor.BotStatus, source string) (Result, error) {
	res := Result{From: m.Status, To: m.Status}
	log := r.logger.With(zap.String("meeting_id", m.ID.String()), zap.String("bot_id", m.BotID), zap.String("vendor_status", st.Status))

	if m.Status.IsTerminal() {
		return res, nil
	}
	mapping, ok := botvendor.MapStatus(st.Status)
	if !ok {
		res.IgnoredStatus = true
		log.Debug("vendor status has no lifecycle mapping")
		return res, nil
	}

	// Side effects of the mapped state apply even without a transition while the field is
	// still unset, e.g. a poll that only ever saw "ended" after a webhook moved the meeting on.
	upd := meetings.StatusUpdate{Status: m.Status, From: []models.MeetingStatus{m.Status}}
	now := r.now()
	changed := false
	if m.Status.CanAdvanceTo(mapping.Status) {
		upd.Status = mapping.Status
		changed = true
	}
	if mapping.SetActualStart && m.ActualStart == nil {
		upd.ActualStart = &now
		changed = true
	}
	if mapping.SetActualEnd && m.ActualEnd == nil {
		upd.ActualEnd = &now
		changed = true
	}
	if mapping.CaptureRecording && st.RecordingURL != "" && st.RecordingURL != m.RecordingURL {
		upd.RecordingURL = st.RecordingURL
		changed = true
	}
	if upd.Status == models.MeetingStatusFailed {
		msg := "bot reported failure"
		upd.ErrorMessage = &msg
	}

	recordingCaptured := false
	if changed {
		updated, err := r.store.UpdateStatus(ctx, m.ID, upd)
		if errors.Is(err, meetings.ErrStaleStatus) {
			log.Debug("meeting changed concurrently, skipping")
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("update meeting status: %w", err)
		}
		if updated.Status != m.Status {
			res.Transitioned = true
			res.To = updated.Status
			r.metrics.Transition(string(updated.Status), source)
			log.Info("meeting status changed", zap.String("from", string(m.Status)), zap.String("to", string(updated.Status)))
		}
		recordingCaptured = upd.RecordingURL != ""
		m = updated
	}

	patch := models.MeetingMetadata{
		TranscriptURL:  st.TranscriptURL,
		DiarizationURL: st.DiarizationURL,
		AudioURL:       st.AudioURL,
		VideoURL:       st.VideoURL,
		Participants:   st.Participants,
		Speakers:       st.Speakers,
	}
	newTranscript := st.TranscriptURL != "" && st.TranscriptURL != m.Metadata.TranscriptURL
	if !metadataEmpty(patch) {
		if err := r.store.MergeMetadata(ctx, m.ID, patch); err != nil {
			return res, fmt.Errorf("merge metadata: %w", err)
		}
	}

	if r.archiveEnabled && recordingCaptured {
		if err := r.dispatch.EnqueueRecordingArchive(ctx, queue.RecordingArchivePayload{MeetingID: m.ID, RecordingURL: m.RecordingURL}); err != nil {
			log.Warn("enqueue recording archive failed", zap.Error(err))
		} else {
			res.ArchiveQueued = true
		}
	}

	if m.Status != models.MeetingStatusProcessing || st.TranscriptURL == "" {
		return res, nil
	}
	enteredProcessing := res.Transitioned && res.To == models.MeetingStatusProcessing
	if !enteredProcessing && !newTranscript {
		return res, nil
	}
	if err := r.dispatch.EnqueueMeetingComplete(ctx, queue.MeetingCompletePayload{
		MeetingID:      m.ID,
		TranscriptURL:  st.TranscriptURL,
		DiarizationURL: st.DiarizationURL,
		AudioURL:       st.AudioURL,
		RecordingURL:   m.RecordingURL,
	}); err != nil {
		return res, fmt.Errorf("enqueue completion: %w", err)
	}
	res.CompletionQueued = true
	log.Info("completion queued", zap.String("source", source))
	return res, nil
}

func metadataEmpty(md models.MeetingMetadata) bool {
	return md.TranscriptURL == "" && md.DiarizationURL == "" && md.AudioURL == "" && md.VideoURL == "" &&
		md.ArchivedRecordingURL == "" && len(md.Participants) == 0 && len(md.Speakers) == 0
}
