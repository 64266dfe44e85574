package meetings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/meetbot/internal/meetings"
	"github.com/aura-webinar/meetbot/internal/meetings/meetingstest"
	"github.com/aura-webinar/meetbot/internal/middleware"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/queue/queuetest"
	"github.com/aura-webinar/meetbot/pkg/response"
)

type fakeSigner struct{}

func (fakeSigner) KeyFromURL(url string) string {
	return strings.TrimPrefix(url, "https://bucket.test/")
}

func (fakeSigner) PresignRecording(ctx context.Context, key string) (string, error) {
	return "https://bucket.test/" + key + "?sig=1", nil
}

type apiHarness struct {
	store  *meetingstest.Store
	jobs   *queuetest.Recorder
	router *gin.Engine
	userID uuid.UUID
}

func newAPIHarness(signer meetings.RecordingSigner) *apiHarness {
	gin.SetMode(gin.TestMode)
	h := &apiHarness{store: meetingstest.NewStore(), jobs: &queuetest.Recorder{}, userID: uuid.New()}
	handler := meetings.NewHandler(h.store, h.jobs, signer, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserID, h.userID) })
	r.GET("/meetings", handler.List)
	r.POST("/meetings/sync", handler.SyncNow)
	r.GET("/meetings/:id", handler.Get)
	r.PATCH("/meetings/:id/exclude", handler.SetExcluded)
	r.POST("/meetings/:id/insights/regenerate", handler.RegenerateInsights)
	r.GET("/meetings/:id/recording", handler.RecordingURL)
	h.router = r
	return h
}

func (h *apiHarness) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) meeting(owner uuid.UUID, status models.MeetingStatus) *models.Meeting {
	return h.store.Put(&models.Meeting{
		UserID:          owner,
		Title:           "Standup",
		Status:          status,
		ScheduledStart:  time.Now().Add(time.Hour),
		CalendarEventID: uuid.NewString(),
	})
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) {
	t.Helper()
	body := response.Body{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success, w.Body.String())
}

func TestList_OnlyOwnMeetings(t *testing.T) {
	h := newAPIHarness(nil)
	mine := h.meeting(h.userID, models.MeetingStatusScheduled)
	h.meeting(uuid.New(), models.MeetingStatusScheduled)

	w := h.do(http.MethodGet, "/meetings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Meeting
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/meetings?limit=zero", "").Code)
}

func TestGet_Detail(t *testing.T) {
	h := newAPIHarness(nil)
	m := h.meeting(h.userID, models.MeetingStatusCompleted)
	ctx := context.Background()
	require.NoError(t, h.store.UpsertTranscript(ctx, &models.MeetingTranscript{MeetingID: m.ID, FullText: "hello"}))
	require.NoError(t, h.store.ReplaceParticipants(ctx, m.ID, []string{"Alice"}))

	w := h.do(http.MethodGet, "/meetings/"+m.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail meetings.MeetingDetail
	decode(t, w, &detail)
	assert.Equal(t, m.ID, detail.Meeting.ID)
	require.NotNil(t, detail.Transcript)
	assert.Equal(t, "hello", detail.Transcript.FullText)
	assert.Len(t, detail.Participants, 1)
	assert.Empty(t, detail.Insights)

	other := h.meeting(uuid.New(), models.MeetingStatusCompleted)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/meetings/"+other.ID.String(), "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/meetings/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/meetings/nope", "").Code)
}

func TestSetExcluded(t *testing.T) {
	h := newAPIHarness(nil)
	m := h.meeting(h.userID, models.MeetingStatusScheduled)
	path := "/meetings/" + m.ID.String() + "/exclude"

	require.Equal(t, http.StatusOK, h.do(http.MethodPatch, path, `{"excluded": true}`).Code)
	got, _ := h.store.GetByID(context.Background(), m.ID)
	assert.True(t, got.BotExcluded)
	assert.Equal(t, models.MeetingStatusScheduled, got.Status)
	assert.Empty(t, h.jobs.Jobs)

	require.Equal(t, http.StatusOK, h.do(http.MethodPatch, path, `{"excluded": false}`).Code)
	jobs := h.jobs.ByTopic(queue.TopicScheduleBot)
	require.Len(t, jobs, 1)
	var p queue.ScheduleBotPayload
	require.NoError(t, jobs[0].Decode(&p))
	assert.Equal(t, m.ID, p.MeetingID)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, path, `{}`).Code)
}

func TestRegenerateInsights(t *testing.T) {
	h := newAPIHarness(nil)
	ctx := context.Background()
	m := h.meeting(h.userID, models.MeetingStatusCompleted)
	require.NoError(t, h.store.UpsertTranscript(ctx, &models.MeetingTranscript{MeetingID: m.ID, FullText: "the transcript"}))
	require.NoError(t, h.store.ReplaceInsights(ctx, m.ID, []models.MeetingInsight{{Type: models.InsightSummary, Content: "old"}}))

	w := h.do(http.MethodPost, "/meetings/"+m.ID.String()+"/insights/regenerate", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	list, _ := h.store.ListInsights(ctx, m.ID)
	assert.Empty(t, list)
	jobs := h.jobs.ByTopic(queue.TopicGenerateInsights)
	require.Len(t, jobs, 1)
	var p queue.GenerateInsightsPayload
	require.NoError(t, jobs[0].Decode(&p))
	assert.Equal(t, "the transcript", p.TranscriptText)

	live := h.meeting(h.userID, models.MeetingStatusInProgress)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/meetings/"+live.ID.String()+"/insights/regenerate", "").Code)
	bare := h.meeting(h.userID, models.MeetingStatusCompleted)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/meetings/"+bare.ID.String()+"/insights/regenerate", "").Code)
}

func TestRecordingURL(t *testing.T) {
	h := newAPIHarness(fakeSigner{})
	m := h.meeting(h.userID, models.MeetingStatusCompleted)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/meetings/"+m.ID.String()+"/recording", "").Code)

	require.NoError(t, h.store.MergeMetadata(context.Background(), m.ID, models.MeetingMetadata{ArchivedRecordingURL: "https://bucket.test/meeting-recordings/u/m.mp4"}))
	w := h.do(http.MethodGet, "/meetings/"+m.ID.String()+"/recording", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]string
	decode(t, w, &out)
	assert.Equal(t, "https://bucket.test/meeting-recordings/u/m.mp4?sig=1", out["url"])

	disabled := newAPIHarness(nil)
	assert.Equal(t, http.StatusServiceUnavailable, disabled.do(http.MethodGet, "/meetings/"+m.ID.String()+"/recording", "").Code)
}

func TestSyncNow(t *testing.T) {
	h := newAPIHarness(nil)
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/meetings/sync", "").Code)
	jobs := h.jobs.ByTopic(queue.TopicSyncUser)
	require.Len(t, jobs, 1)
}
