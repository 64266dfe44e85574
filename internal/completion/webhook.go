package completion

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/meetings"
	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/internal/reconcile"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/response"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// WebhookPayload is the body the bot vendor posts. A payload with a status is a lifecycle
// event; one without is an artifacts-ready notification.
type WebhookPayload struct {
	MeetingID      string   `json:"meetingId"`
	BotID          string   `json:"botId"`
	Status         string   `json:"status"`
	TranscriptURL  string   `json:"transcriptUrl"`
	DiarizationURL string   `json:"diarizationUrl"`
	AudioURL       string   `json:"audioUrl"`
	RecordingURL   string   `json:"recordingUrl"`
	Duration       *float64 `json:"duration"`
	Participants   []string `json:"participants"`
	Speakers       []string `json:"speakers"`
}

// WebhookMeetings is the slice of the meeting store used by the webhook.
type WebhookMeetings interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	GetByBotID(ctx context.Context, botID string) (*models.Meeting, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, patch models.MeetingMetadata) error
}

// StatusApplier runs vendor status through the lifecycle state machine.
type StatusApplier interface {
	Apply(ctx context.Context, m *models.Meeting, st botvendor.BotStatus, source string) (reconcile.Result, error)
}

// WebhookDispatcher enqueues work triggered by an artifacts notification.
type WebhookDispatcher interface {
	EnqueueMeetingComplete(ctx context.Context, payload queue.MeetingCompletePayload) error
	EnqueueRecordingArchive(ctx context.Context, payload queue.RecordingArchivePayload) error
}

// WebhookHandler handles bot vendor webhooks.
type WebhookHandler struct {
	meetings       WebhookMeetings
	status         StatusApplier
	dispatch       WebhookDispatcher
	secret         []byte
	archiveEnabled bool
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables signature checks.
func NewWebhookHandler(store WebhookMeetings, status StatusApplier, dispatch WebhookDispatcher, secret string, archiveEnabled bool, m *metrics.Metrics, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		meetings:       store,
		status:         status,
		dispatch:       dispatch,
		secret:         []byte(secret),
		archiveEnabled: archiveEnabled,
		metrics:        m,
		logger:         logger,
	}
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	if len(h.secret) == 0 {
		return true
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// MeetingBot handles POST /webhooks/meeting-bot. Re-delivery is safe: status events are
// applied with a status guard and completion runs are idempotent.
func (h *WebhookHandler) MeetingBot(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "could not read body")
		return
	}
	if !h.validSignature(c.GetHeader(SignatureHeader), raw) {
		h.metrics.WebhookEvent("rejected")
		response.Unauthorized(c, "invalid signature")
		return
	}
	var body WebhookPayload
	if err := json.Unmarshal(raw, &body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	m, err := h.resolve(ctx, body)
	if errors.Is(err, errMissingIdentity) || errors.Is(err, errInvalidMeetingID) {
		response.BadRequest(c, err.Error())
		return
	}
	if errors.Is(err, meetings.ErrNotFound) {
		response.NotFound(c, "meeting not found")
		return
	}
	if err != nil {
		h.logger.Error("webhook meeting lookup failed", zap.Error(err))
		response.Internal(c, "failed to load meeting")
		return
	}
	log := h.logger.With(zap.String("meeting_id", m.ID.String()), zap.String("bot_id", m.BotID))

	if body.Status != "" {
		h.metrics.WebhookEvent("status")
		res, err := h.status.Apply(ctx, m, botvendor.BotStatus{
			Status:         body.Status,
			RecordingURL:   body.RecordingURL,
			TranscriptURL:  body.TranscriptURL,
			DiarizationURL: body.DiarizationURL,
			AudioURL:       body.AudioURL,
			Participants:   body.Participants,
			Speakers:       body.Speakers,
		}, "webhook")
		if err != nil {
			log.Error("webhook status apply failed", zap.Error(err))
			response.Internal(c, "failed to apply status")
			return
		}
		response.OK(c, gin.H{"meeting_id": m.ID, "status": res.To, "transitioned": res.Transitioned})
		return
	}

	if m.Status == models.MeetingStatusFailed || m.Status == models.MeetingStatusCancelled {
		h.metrics.WebhookEvent("ignored")
		log.Info("artifacts for closed meeting ignored", zap.String("status", string(m.Status)))
		response.OK(c, gin.H{"meeting_id": m.ID, "status": m.Status, "ignored": true})
		return
	}
	if body.TranscriptURL == "" && body.DiarizationURL == "" && body.AudioURL == "" &&
		m.Metadata.TranscriptURL == "" && m.Metadata.DiarizationURL == "" && m.Metadata.AudioURL == "" {
		response.BadRequest(c, ErrNoTranscriptSource.Error())
		return
	}
	h.metrics.WebhookEvent("artifacts")

	if len(body.Participants) > 0 || len(body.Speakers) > 0 {
		patch := models.MeetingMetadata{
			Participants: MergeParticipants(m.Metadata.Participants, body.Participants),
			Speakers:     MergeParticipants(m.Metadata.Speakers, body.Speakers),
		}
		if err := h.meetings.MergeMetadata(ctx, m.ID, patch); err != nil {
			log.Error("webhook metadata merge failed", zap.Error(err))
			response.Internal(c, "failed to update meeting")
			return
		}
	}

	payload := queue.MeetingCompletePayload{
		MeetingID:      m.ID,
		TranscriptURL:  body.TranscriptURL,
		DiarizationURL: body.DiarizationURL,
		AudioURL:       body.AudioURL,
		RecordingURL:   body.RecordingURL,
	}
	if body.Duration != nil && *body.Duration > 0 {
		d := int(math.Round(*body.Duration))
		payload.Duration = &d
	}
	if err := h.dispatch.EnqueueMeetingComplete(ctx, payload); err != nil {
		log.Error("enqueue meeting completion failed", zap.Error(err))
		response.Internal(c, "failed to enqueue completion")
		return
	}
	if h.archiveEnabled && body.RecordingURL != "" && m.Metadata.ArchivedRecordingURL == "" {
		if err := h.dispatch.EnqueueRecordingArchive(ctx, queue.RecordingArchivePayload{MeetingID: m.ID, RecordingURL: body.RecordingURL}); err != nil {
			log.Warn("enqueue recording archive failed", zap.Error(err))
		}
	}
	log.Info("meeting completion queued from webhook")
	response.Accepted(c, gin.H{"meeting_id": m.ID})
}

var (
	errMissingIdentity  = errors.New("meetingId or botId required")
	errInvalidMeetingID = errors.New("invalid meetingId")
)

func (h *WebhookHandler) resolve(ctx context.Context, body WebhookPayload) (*models.Meeting, error) {
	if body.MeetingID != "" {
		id, err := uuid.Parse(body.MeetingID)
		if err != nil {
			return nil, errInvalidMeetingID
		}
		return h.meetings.GetByID(ctx, id)
	}
	if body.BotID != "" {
		return h.meetings.GetByBotID(ctx, body.BotID)
	}
	return nil, errMissingIdentity
}
