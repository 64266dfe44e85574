package calendarsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/meetbot/internal/calendar"
	"github.com/aura-webinar/meetbot/internal/conference"
	"github.com/aura-webinar/meetbot/internal/meetings/meetingstest"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/queue/queuetest"
)

type fakeConns struct {
	conns map[uuid.UUID]*models.CalendarConnection
}

func (f *fakeConns) GetActive(ctx context.Context, userID uuid.UUID) (*models.CalendarConnection, error) {
	c, ok := f.conns[userID]
	if !ok {
		return nil, calendar.ErrNoConnection
	}
	return c, nil
}

type fakeCalendar struct {
	events           []calendar.Event
	err              error
	calls            int
	timeMin, timeMax time.Time
}

func (f *fakeCalendar) ListEvents(ctx context.Context, conn models.CalendarConnection, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	f.calls++
	f.timeMin, f.timeMax = timeMin, timeMax
	return f.events, f.err
}

type fakeUsers struct {
	ids []uuid.UUID
	err error
}

func (f fakeUsers) ListAutoJoinUserIDs(ctx context.Context) ([]uuid.UUID, error) { return f.ids, f.err }

var now = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func newTestWorker(userID uuid.UUID, events []calendar.Event) (*Worker, *meetingstest.Store, *queuetest.Recorder, *fakeCalendar) {
	store := meetingstest.NewStore()
	rec := &queuetest.Recorder{}
	cal := &fakeCalendar{events: events}
	conns := &fakeConns{conns: map[uuid.UUID]*models.CalendarConnection{userID: {UserID: userID, AccessToken: "tok"}}}
	w := NewWorker(conns, cal, store, rec, 0, nil, nil)
	w.SetClock(func() time.Time { return now })
	return w, store, rec, cal
}

func TestWorker_SyncUserIsIdempotent(t *testing.T) {
	userID := uuid.New()
	events := []calendar.Event{
		{ID: "e1", Title: "Standup", ConferenceURL: "https://meet.google.com/abc-defg-hij", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute)},
		{ID: "e2", Title: "Customer", EntryPoints: []conference.EntryPoint{{Type: "video", URI: "https://zoom.us/j/99"}}, Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour)},
		{ID: "e3", Title: "Lunch", Description: "no link here", Start: now.Add(2 * time.Hour), End: now.Add(3 * time.Hour)},
	}
	w, store, rec, cal := newTestWorker(userID, events)
	ctx := context.Background()

	res, err := w.SyncUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, Result{Events: 3, Created: 2, NoURL: 1}, res)
	assert.Equal(t, now, cal.timeMin)
	assert.Equal(t, now.Add(24*time.Hour), cal.timeMax)

	res, err = w.SyncUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, Result{Events: 3, Existing: 2, Redispatched: 2, NoURL: 1}, res)

	assert.Equal(t, 2, store.Count())
	assert.Len(t, rec.ByTopic(queue.TopicScheduleBot), 4)

	m, err := store.FindByCalendarEvent(ctx, userID, "e2")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, models.PlatformZoom, m.Platform)
	assert.Equal(t, models.MeetingStatusScheduled, m.Status)
	assert.Equal(t, "https://zoom.us/j/99", m.MeetingURL)
}

func TestWorker_SyncUserSkipsExcludedMeeting(t *testing.T) {
	userID := uuid.New()
	events := []calendar.Event{{ID: "e1", ConferenceURL: "https://zoom.us/j/1", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)}}
	w, store, rec, _ := newTestWorker(userID, events)
	store.Put(&models.Meeting{UserID: userID, CalendarEventID: "e1", BotExcluded: true, MeetingURL: "https://zoom.us/j/1"})

	res, err := w.SyncUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Existing)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Redispatched)
	assert.Empty(t, rec.Jobs)
}

func TestWorker_SyncUserLeavesDeployedMeetingAlone(t *testing.T) {
	userID := uuid.New()
	events := []calendar.Event{{ID: "e1", ConferenceURL: "https://zoom.us/j/1", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)}}
	w, store, rec, _ := newTestWorker(userID, events)
	store.Put(&models.Meeting{UserID: userID, CalendarEventID: "e1", Status: models.MeetingStatusJoining, BotID: "bot-1", MeetingURL: "https://zoom.us/j/1"})

	res, err := w.SyncUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Existing)
	assert.Equal(t, 0, res.Redispatched)
	assert.Empty(t, rec.Jobs)
}

func TestWorker_SyncUserWithoutConnectionIsNoop(t *testing.T) {
	w, store, _, cal := newTestWorker(uuid.New(), nil)

	res, err := w.SyncUser(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 0, cal.calls)
	assert.Equal(t, 0, store.Count())
}

func TestWorker_SyncUserCalendarError(t *testing.T) {
	userID := uuid.New()
	w, _, _, cal := newTestWorker(userID, nil)
	cal.err = errors.New("rate limited")

	_, err := w.SyncUser(context.Background(), userID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestWorker_DispatchFailureIsResentOnNextSync(t *testing.T) {
	userID := uuid.New()
	events := []calendar.Event{{ID: "e1", ConferenceURL: "https://zoom.us/j/1", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)}}
	w, store, rec, _ := newTestWorker(userID, events)
	ctx := context.Background()
	rec.Err = errors.New("redis blip")

	res, err := w.SyncUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, store.Count())
	assert.Empty(t, rec.ByTopic(queue.TopicScheduleBot))

	rec.Err = nil
	res, err = w.SyncUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, Result{Events: 1, Existing: 1, Redispatched: 1}, res)

	jobs := rec.ByTopic(queue.TopicScheduleBot)
	require.Len(t, jobs, 1)
	m, err := store.FindByCalendarEvent(ctx, userID, "e1")
	require.NoError(t, err)
	require.NotNil(t, m)
	var p queue.ScheduleBotPayload
	require.NoError(t, jobs[0].Decode(&p))
	assert.Equal(t, m.ID, p.MeetingID)
}

func TestScheduler_TickContinuesPastDispatchFailure(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	rec := &flakyDispatcher{failFor: ids[1]}
	s := NewScheduler(fakeUsers{ids: ids}, rec, nil, nil)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{ids[0], ids[2]}, rec.sent)
}

func TestScheduler_TickListError(t *testing.T) {
	s := NewScheduler(fakeUsers{err: errors.New("db down")}, &queuetest.Recorder{}, nil, nil)
	_, err := s.Tick(context.Background())
	assert.Error(t, err)
}

type flakyDispatcher struct {
	failFor uuid.UUID
	sent    []uuid.UUID
}

func (f *flakyDispatcher) EnqueueSyncUser(ctx context.Context, p queue.SyncUserPayload) error {
	if p.UserID == f.failFor {
		return errors.New("boom")
	}
	f.sent = append(f.sent, p.UserID)
	return nil
}
