package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/botvendor/botvendortest"
	"github.com/aura-webinar/meetbot/internal/meetings/meetingstest"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/queue/queuetest"
)

type fixture struct {
	now    time.Time
	store  *meetingstest.Store
	vendor *botvendortest.Vendor
	queue  *queuetest.Recorder
	rec    *Reconciler
	poller *Poller
}

func newFixture(archive bool) *fixture {
	f := &fixture{
		now:    time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC),
		store:  meetingstest.NewStore(),
		vendor: botvendortest.NewVendor(),
		queue:  &queuetest.Recorder{},
	}
	f.rec = NewReconciler(f.store, f.queue, archive, nil, nil)
	f.rec.SetClock(func() time.Time { return f.now })
	f.poller = NewPoller(f.store, f.vendor, f.rec, nil, nil)
	return f
}

func (f *fixture) inFlight(status models.MeetingStatus, botID string) *models.Meeting {
	return f.store.Put(&models.Meeting{
		UserID:          uuid.New(),
		Title:           "Sync",
		MeetingURL:      "https://meet.google.com/abc-defg-hij",
		Platform:        models.PlatformGoogleMeet,
		Status:          status,
		BotID:           botID,
		ScheduledStart:  f.now,
		ScheduledEnd:    f.now.Add(time.Hour),
		CalendarEventID: uuid.NewString(),
	})
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *models.Meeting {
	t.Helper()
	m, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestPoller_RecordingSetsActualStartOnce(t *testing.T) {
	f := newFixture(false)
	m := f.inFlight(models.MeetingStatusJoining, "bot-1")
	f.vendor.SetStatus("bot-1", botvendor.BotStatus{Status: "recording"})

	res, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transitions)

	got := f.get(t, m.ID)
	assert.Equal(t, models.MeetingStatusInProgress, got.Status)
	require.NotNil(t, got.ActualStart)
	firstStart := *got.ActualStart
	assert.Equal(t, f.now, firstStart)

	f.now = f.now.Add(2 * time.Minute)
	res, err = f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Transitions)

	got = f.get(t, m.ID)
	assert.Equal(t, models.MeetingStatusInProgress, got.Status)
	assert.Equal(t, firstStart, *got.ActualStart)
}

func TestPoller_EndedWithTranscriptQueuesCompletion(t *testing.T) {
	f := newFixture(true)
	m := f.inFlight(models.MeetingStatusInProgress, "bot-1")
	f.vendor.SetStatus("bot-1", botvendor.BotStatus{
		Status:        "ended",
		RecordingURL:  "https://cdn/rec.mp4",
		TranscriptURL: "https://cdn/t.json",
		Speakers:      []string{"Bob"},
	})

	res, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completions)

	got := f.get(t, m.ID)
	assert.Equal(t, models.MeetingStatusProcessing, got.Status)
	require.NotNil(t, got.ActualEnd)
	assert.Equal(t, "https://cdn/rec.mp4", got.RecordingURL)
	assert.Equal(t, "https://cdn/t.json", got.Metadata.TranscriptURL)
	assert.Equal(t, []string{"Bob"}, got.Metadata.Speakers)

	jobs := f.queue.ByTopic(queue.TopicMeetingComplete)
	require.Len(t, jobs, 1)
	var p queue.MeetingCompletePayload
	require.NoError(t, jobs[0].Decode(&p))
	assert.Equal(t, m.ID, p.MeetingID)
	assert.Equal(t, "https://cdn/t.json", p.TranscriptURL)
	assert.Equal(t, "https://cdn/rec.mp4", p.RecordingURL)
	assert.Len(t, f.queue.ByTopic(queue.TopicRecordingArchive), 1)

	// Polling again while the pipeline runs does not queue a second completion.
	_, err = f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.queue.ByTopic(queue.TopicMeetingComplete), 1)
	assert.Len(t, f.queue.ByTopic(queue.TopicRecordingArchive), 1)
}

func TestPoller_EndedWithoutTranscriptWaits(t *testing.T) {
	f := newFixture(false)
	m := f.inFlight(models.MeetingStatusInProgress, "bot-1")
	f.vendor.SetStatus("bot-1", botvendor.BotStatus{Status: "ended"})

	_, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusProcessing, f.get(t, m.ID).Status)
	assert.Empty(t, f.queue.ByTopic(queue.TopicMeetingComplete))

	// The transcript shows up on a later poll.
	f.vendor.SetStatus("bot-1", botvendor.BotStatus{Status: "done", TranscriptURL: "https://cdn/t.vtt"})
	_, err = f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.queue.ByTopic(queue.TopicMeetingComplete), 1)
}

func TestPoller_IsolatesPerMeetingFailures(t *testing.T) {
	f := newFixture(false)
	bad := f.inFlight(models.MeetingStatusJoining, "bot-bad")
	good := f.inFlight(models.MeetingStatusJoining, "bot-good")
	f.vendor.SetStatusError("bot-bad", errors.New("timeout"))
	f.vendor.SetStatus("bot-good", botvendor.BotStatus{Status: "in_call"})

	res, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Polled)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, models.MeetingStatusJoining, f.get(t, bad.ID).Status)
	assert.Equal(t, models.MeetingStatusInProgress, f.get(t, good.ID).Status)
}

func TestReconciler_NeverMovesBackward(t *testing.T) {
	f := newFixture(false)
	m := f.inFlight(models.MeetingStatusInProgress, "bot-1")

	res, err := f.rec.Apply(context.Background(), m, botvendor.BotStatus{Status: "joining"}, "webhook")
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.Equal(t, models.MeetingStatusInProgress, f.get(t, m.ID).Status)

	res, err = f.rec.Apply(context.Background(), m, botvendor.BotStatus{Status: "queued"}, "webhook")
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
}

func TestReconciler_FailedSetsErrorMessage(t *testing.T) {
	f := newFixture(false)
	m := f.inFlight(models.MeetingStatusJoining, "bot-1")

	res, err := f.rec.Apply(context.Background(), m, botvendor.BotStatus{Status: "fatal"}, "webhook")
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	got := f.get(t, m.ID)
	assert.Equal(t, models.MeetingStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
}

func TestReconciler_TerminalMeetingUntouched(t *testing.T) {
	f := newFixture(false)
	m := f.inFlight(models.MeetingStatusCompleted, "bot-1")

	res, err := f.rec.Apply(context.Background(), m, botvendor.BotStatus{Status: "ended", TranscriptURL: "https://cdn/new.json"}, "webhook")
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.Empty(t, f.queue.Jobs)
	assert.Empty(t, f.get(t, m.ID).Metadata.TranscriptURL)
}

func TestReconciler_StaleSnapshotIsNoop(t *testing.T) {
	f := newFixture(false)
	m := f.inFlight(models.MeetingStatusJoining, "bot-1")
	stale := *m

	_, err := f.rec.Apply(context.Background(), m, botvendor.BotStatus{Status: "ended"}, "webhook")
	require.NoError(t, err)

	// A poll that loaded the meeting before the webhook landed.
	res, err := f.rec.Apply(context.Background(), &stale, botvendor.BotStatus{Status: "in_call"}, "poll")
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	got := f.get(t, m.ID)
	assert.Equal(t, models.MeetingStatusProcessing, got.Status)
	assert.Nil(t, got.ActualStart)
}

func TestReconciler_UnknownStatusIgnored(t *testing.T) {
	f := newFixture(false)
	m := f.inFlight(models.MeetingStatusJoining, "bot-1")

	res, err := f.rec.Apply(context.Background(), m, botvendor.BotStatus{Status: "media_expired"}, "poll")
	require.NoError(t, err)
	assert.True(t, res.IgnoredStatus)
	assert.Equal(t, models.MeetingStatusJoining, f.get(t, m.ID).Status)
}
