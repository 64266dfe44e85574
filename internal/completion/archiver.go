package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/meetings"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/storage"
)

// ArchiveMeetings is the slice of the meeting store used by the archiver.
type ArchiveMeetings interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, patch models.MeetingMetadata) error
}

// RecordingStore persists recordings to object storage.
type RecordingStore interface {
	RecordingExists(ctx context.Context, key string) (bool, error)
	UploadRecording(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	ObjectURL(key string) string
}

// RecordingArchiver copies vendor recordings into the recordings bucket.
type RecordingArchiver struct {
	meetings   ArchiveMeetings
	store      RecordingStore
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRecordingArchiver creates a recording archiver.
func NewRecordingArchiver(store ArchiveMeetings, objects RecordingStore, httpClient *http.Client, logger *zap.Logger) *RecordingArchiver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingArchiver{meetings: store, store: objects, httpClient: httpClient, logger: logger}
}

// Archive streams the recording to object storage and records the archived URL in the
// meeting's metadata. Meetings that already have an archived recording are skipped.
func (a *RecordingArchiver) Archive(ctx context.Context, payload queue.RecordingArchivePayload) error {
	log := a.logger.With(zap.String("meeting_id", payload.MeetingID.String()))
	m, err := a.meetings.GetByID(ctx, payload.MeetingID)
	if errors.Is(err, meetings.ErrNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}
	if m.Metadata.ArchivedRecordingURL != "" {
		log.Info("recording already archived")
		return nil
	}
	if payload.RecordingURL == "" {
		return queue.Permanent(errors.New("recording url required"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.RecordingURL, nil)
	if err != nil {
		return queue.Permanent(fmt.Errorf("create request: %w", err))
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := storage.RecordingKey(m.UserID.String(), m.ID.String(), contentType)

	exists, err := a.store.RecordingExists(ctx, key)
	if err != nil {
		return fmt.Errorf("check archive: %w", err)
	}
	url := a.store.ObjectURL(key)
	if !exists {
		url, err = a.store.UploadRecording(ctx, key, contentType, resp.Body, resp.ContentLength)
		if err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
	}

	if err := a.meetings.MergeMetadata(ctx, m.ID, models.MeetingMetadata{ArchivedRecordingURL: url}); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	log.Info("recording archived", zap.String("s3_key", key), zap.Bool("reused", exists))
	return nil
}
