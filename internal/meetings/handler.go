package meetings

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/middleware"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/response"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store is the slice of the meeting store used by the API.
type Store interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Meeting, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	SetExcluded(ctx context.Context, id, userID uuid.UUID, excluded bool) (*models.Meeting, error)
	GetTranscript(ctx context.Context, meetingID uuid.UUID) (*models.MeetingTranscript, error)
	ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingParticipant, error)
	ListInsights(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingInsight, error)
	ClearInsights(ctx context.Context, meetingID uuid.UUID) error
}

// Dispatcher enqueues work requested through the API.
type Dispatcher interface {
	EnqueueSyncUser(ctx context.Context, payload queue.SyncUserPayload) error
	EnqueueScheduleBot(ctx context.Context, payload queue.ScheduleBotPayload) error
	EnqueueGenerateInsights(ctx context.Context, payload queue.GenerateInsightsPayload) error
}

// RecordingSigner signs download URLs for archived recordings.
type RecordingSigner interface {
	KeyFromURL(url string) string
	PresignRecording(ctx context.Context, key string) (string, error)
}

// Handler serves the meeting API for the authenticated user.
type Handler struct {
	store    Store
	dispatch Dispatcher
	signer   RecordingSigner
	logger   *zap.Logger
}

// NewHandler creates a meeting API handler. signer may be nil when archival is disabled.
func NewHandler(store Store, dispatch Dispatcher, signer RecordingSigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, dispatch: dispatch, signer: signer, logger: logger}
}

// MeetingDetail is a meeting with its transcript, participants and insights.
type MeetingDetail struct {
	Meeting      *models.Meeting             `json:"meeting"`
	Transcript   *models.MeetingTranscript   `json:"transcript,omitempty"`
	Participants []models.MeetingParticipant `json:"participants"`
	Insights     []models.MeetingInsight     `json:"insights"`
}

// ExcludeRequest is the body of PATCH /meetings/:id/exclude.
type ExcludeRequest struct {
	Excluded *bool `json:"excluded" binding:"required"`
}

// owned loads the meeting in the :id param if it belongs to the caller. It writes the error
// response and returns nil otherwise.
func (h *Handler) owned(c *gin.Context) *models.Meeting {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return nil
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	m, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) || (err == nil && m.UserID != userID) {
		response.NotFound(c, "meeting not found")
		return nil
	}
	if err != nil {
		h.logger.Error("load meeting failed", zap.Error(err), zap.String("meeting_id", id.String()))
		response.Internal(c, "failed to load meeting")
		return nil
	}
	return m
}

// List returns the caller's meetings (GET /meetings).
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	limit := defaultListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}
	list, err := h.store.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list meetings failed", zap.Error(err))
		response.Internal(c, "failed to list meetings")
		return
	}
	if list == nil {
		list = []models.Meeting{}
	}
	response.OK(c, list)
}

// Get returns one meeting with its transcript, participants and insights (GET /meetings/:id).
func (h *Handler) Get(c *gin.Context) {
	m := h.owned(c)
	if m == nil {
		return
	}
	ctx := c.Request.Context()
	detail := MeetingDetail{Meeting: m}
	var err error
	if detail.Transcript, err = h.store.GetTranscript(ctx, m.ID); err != nil {
		h.logger.Error("load transcript failed", zap.Error(err))
		response.Internal(c, "failed to load transcript")
		return
	}
	if detail.Participants, err = h.store.ListParticipants(ctx, m.ID); err != nil {
		h.logger.Error("load participants failed", zap.Error(err))
		response.Internal(c, "failed to load participants")
		return
	}
	if detail.Insights, err = h.store.ListInsights(ctx, m.ID); err != nil {
		h.logger.Error("load insights failed", zap.Error(err))
		response.Internal(c, "failed to load insights")
		return
	}
	if detail.Participants == nil {
		detail.Participants = []models.MeetingParticipant{}
	}
	if detail.Insights == nil {
		detail.Insights = []models.MeetingInsight{}
	}
	response.OK(c, detail)
}

// SetExcluded sets or clears the bot exclusion of a meeting (PATCH /meetings/:id/exclude).
// Clearing it on a SCHEDULED meeting dispatches the deployment again, since the earlier
// deployment task stopped at the exclusion.
func (h *Handler) SetExcluded(c *gin.Context) {
	var req ExcludeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m := h.owned(c)
	if m == nil {
		return
	}
	ctx := c.Request.Context()
	updated, err := h.store.SetExcluded(ctx, m.ID, m.UserID, *req.Excluded)
	if err != nil {
		h.logger.Error("set exclusion failed", zap.Error(err), zap.String("meeting_id", m.ID.String()))
		response.Internal(c, "failed to update meeting")
		return
	}
	if m.BotExcluded && !updated.BotExcluded && updated.Status == models.MeetingStatusScheduled {
		if err := h.dispatch.EnqueueScheduleBot(ctx, queue.ScheduleBotPayload{MeetingID: m.ID}); err != nil {
			h.logger.Error("dispatch bot deployment failed", zap.Error(err), zap.String("meeting_id", m.ID.String()))
			response.Internal(c, "failed to schedule bot")
			return
		}
	}
	response.OK(c, updated)
}

// RegenerateInsights clears a meeting's insights and queues generation from the stored
// transcript (POST /meetings/:id/insights/regenerate).
func (h *Handler) RegenerateInsights(c *gin.Context) {
	m := h.owned(c)
	if m == nil {
		return
	}
	if m.Status != models.MeetingStatusProcessing && m.Status != models.MeetingStatusCompleted {
		response.Conflict(c, "meeting has not finished")
		return
	}
	ctx := c.Request.Context()
	t, err := h.store.GetTranscript(ctx, m.ID)
	if err != nil {
		h.logger.Error("load transcript failed", zap.Error(err))
		response.Internal(c, "failed to load transcript")
		return
	}
	if t == nil {
		response.Conflict(c, "meeting has no transcript")
		return
	}
	if err := h.store.ClearInsights(ctx, m.ID); err != nil {
		h.logger.Error("clear insights failed", zap.Error(err), zap.String("meeting_id", m.ID.String()))
		response.Internal(c, "failed to clear insights")
		return
	}
	if err := h.dispatch.EnqueueGenerateInsights(ctx, queue.GenerateInsightsPayload{MeetingID: m.ID, TranscriptText: t.FullText}); err != nil {
		h.logger.Error("enqueue insights failed", zap.Error(err), zap.String("meeting_id", m.ID.String()))
		response.Internal(c, "failed to enqueue insights")
		return
	}
	response.Accepted(c, gin.H{"meeting_id": m.ID})
}

// RecordingURL returns a pre-signed download URL of the archived recording
// (GET /meetings/:id/recording).
func (h *Handler) RecordingURL(c *gin.Context) {
	if h.signer == nil {
		response.ServiceUnavailable(c, "recording archive not configured")
		return
	}
	m := h.owned(c)
	if m == nil {
		return
	}
	key := h.signer.KeyFromURL(m.Metadata.ArchivedRecordingURL)
	if key == "" {
		response.NotFound(c, "recording not archived")
		return
	}
	url, err := h.signer.PresignRecording(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("presign recording failed", zap.Error(err), zap.String("meeting_id", m.ID.String()))
		response.Internal(c, "failed to sign recording url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

// SyncNow queues a calendar sync for the caller (POST /meetings/sync).
func (h *Handler) SyncNow(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.dispatch.EnqueueSyncUser(c.Request.Context(), queue.SyncUserPayload{UserID: userID}); err != nil {
		h.logger.Error("enqueue sync failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to enqueue sync")
		return
	}
	response.Accepted(c, nil)
}
