package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/meetbot/internal/botdeploy"
	"github.com/aura-webinar/meetbot/internal/botdeploy/botdeploytest"
	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/botvendor/botvendortest"
	"github.com/aura-webinar/meetbot/internal/calendar"
	"github.com/aura-webinar/meetbot/internal/calendarsync"
	"github.com/aura-webinar/meetbot/internal/completion"
	"github.com/aura-webinar/meetbot/internal/insights"
	"github.com/aura-webinar/meetbot/internal/meetings/meetingstest"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/internal/reconcile"
	"github.com/aura-webinar/meetbot/internal/transcription"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/queue/queuetest"
)

type fakeJobs struct {
	mu           sync.Mutex
	acked        []*queue.Job
	extended     int
	retried      []*queue.Job
	deadLettered []*queue.Job
}

func (f *fakeJobs) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeJobs) Ack(ctx context.Context, job *queue.Job) error {
	f.acked = append(f.acked, job)
	return nil
}

func (f *fakeJobs) Extend(ctx context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended++
	return nil
}

func (f *fakeJobs) extends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extended
}

func (f *fakeJobs) Retry(ctx context.Context, job *queue.Job, cause error) error {
	f.retried = append(f.retried, job)
	return nil
}

func (f *fakeJobs) DeadLetter(ctx context.Context, job *queue.Job, reason string) error {
	f.deadLettered = append(f.deadLettered, job)
	return nil
}

type stubSync struct {
	err   error
	calls []uuid.UUID
}

func (s *stubSync) SyncUser(ctx context.Context, userID uuid.UUID) (calendarsync.Result, error) {
	s.calls = append(s.calls, userID)
	return calendarsync.Result{}, s.err
}

func mustJob(t *testing.T, topic queue.Topic, payload any) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(topic, payload)
	require.NoError(t, err)
	return job
}

func TestHandle_Outcomes(t *testing.T) {
	userID := uuid.New()
	tests := []struct {
		name    string
		job     func(t *testing.T) *queue.Job
		syncErr error
		want    string
		acked   int
		retried int
		dlq     int
	}{
		{
			name:  "success",
			job:   func(t *testing.T) *queue.Job { return mustJob(t, queue.TopicSyncUser, queue.SyncUserPayload{UserID: userID}) },
			want:  "ok",
			acked: 1,
		},
		{
			name:    "transient failure is retried",
			job:     func(t *testing.T) *queue.Job { return mustJob(t, queue.TopicSyncUser, queue.SyncUserPayload{UserID: userID}) },
			syncErr: errors.New("calendar timeout"),
			want:    "retry",
			retried: 1,
		},
		{
			name:    "permanent failure is dead-lettered",
			job:     func(t *testing.T) *queue.Job { return mustJob(t, queue.TopicSyncUser, queue.SyncUserPayload{UserID: userID}) },
			syncErr: queue.Permanent(errors.New("bad user")),
			want:    "dead_letter",
			dlq:     1,
		},
		{
			name: "undecodable payload",
			job: func(t *testing.T) *queue.Job {
				return &queue.Job{ID: "j", Topic: queue.TopicSyncUser, Payload: json.RawMessage(`"nope"`)}
			},
			want: "dead_letter",
			dlq:  1,
		},
		{
			name: "unknown topic",
			job:  func(t *testing.T) *queue.Job { return &queue.Job{ID: "j", Topic: "mystery", Payload: json.RawMessage(`{}`)} },
			want: "dead_letter",
			dlq:  1,
		},
		{
			name: "archive without archiver",
			job: func(t *testing.T) *queue.Job {
				return mustJob(t, queue.TopicRecordingArchive, queue.RecordingArchivePayload{MeetingID: uuid.New(), RecordingURL: "x"})
			},
			want: "dead_letter",
			dlq:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobs{}
			p := NewProcessor(jobs, Handlers{Sync: &stubSync{err: tt.syncErr}}, nil, nil)
			assert.Equal(t, tt.want, p.Handle(context.Background(), tt.job(t)))
			assert.Len(t, jobs.acked, tt.acked)
			assert.Len(t, jobs.retried, tt.retried)
			assert.Len(t, jobs.deadLettered, tt.dlq)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := NewProcessor(&fakeJobs{}, Handlers{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type blockingSync struct{ release chan struct{} }

func (b blockingSync) SyncUser(ctx context.Context, userID uuid.UUID) (calendarsync.Result, error) {
	<-b.release
	return calendarsync.Result{}, nil
}

func TestHandle_ExtendsClaimWhileRunning(t *testing.T) {
	jobs := &fakeJobs{}
	release := make(chan struct{})
	p := NewProcessor(jobs, Handlers{Sync: blockingSync{release: release}}, nil, nil)
	p.heartbeat = 5 * time.Millisecond

	done := make(chan string)
	go func() {
		done <- p.Handle(context.Background(), mustJob(t, queue.TopicSyncUser, queue.SyncUserPayload{UserID: uuid.New()}))
	}()
	assert.Eventually(t, func() bool { return jobs.extends() >= 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	assert.Equal(t, "ok", <-done)
	assert.Len(t, jobs.acked, 1)
}

type fakeMaintainer struct {
	batches []int
	stale   []int
}

func pop(s *[]int) int {
	if len(*s) == 0 {
		return 0
	}
	n := (*s)[0]
	*s = (*s)[1:]
	return n
}

func (f *fakeMaintainer) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	return pop(&f.batches), nil
}

func (f *fakeMaintainer) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	return pop(&f.stale), nil
}

func TestPromoter_DrainsAllBatches(t *testing.T) {
	f := &fakeMaintainer{batches: []int{100, 100, 3}, stale: []int{100, 2}}
	NewPromoter(f, nil).Run()
	assert.Empty(t, f.batches)
	assert.Empty(t, f.stale)
}

// lifecycle wiring with in-memory collaborators

type lifecycleConns struct{ conn *models.CalendarConnection }

func (c lifecycleConns) GetActive(ctx context.Context, userID uuid.UUID) (*models.CalendarConnection, error) {
	if c.conn.UserID != userID {
		return nil, calendar.ErrNoConnection
	}
	return c.conn, nil
}

type lifecycleCalendar struct{ events []calendar.Event }

func (c lifecycleCalendar) ListEvents(ctx context.Context, conn models.CalendarConnection, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	return c.events, nil
}

type defaultSettings struct{}

func (defaultSettings) Get(ctx context.Context, userID uuid.UUID) (models.MeetingBotSettings, error) {
	return models.DefaultBotSettings(userID), nil
}

type noSTT struct{}

func (noSTT) Transcribe(ctx context.Context, audioURL, diarizationURL string) (*transcription.Result, error) {
	return nil, errors.New("not configured")
}

func (noSTT) FetchDiarization(ctx context.Context, url string) (*transcription.Result, error) {
	return nil, errors.New("not configured")
}

type cannedLLM struct{}

func (cannedLLM) GenerateStructured(ctx context.Context, system, prompt string) (string, error) {
	return `{"summary":"Planned the launch.","key_topics":["launch"],"action_items":[],"decisions":[],"follow_up_questions":[],"sentiment":"neutral","participation_summary":"Alice spoke most."}`, nil
}

func TestLifecycle_CalendarEventToCompletedMeeting(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	userID := uuid.New()

	store := meetingstest.NewStore()
	vendor := botvendortest.NewVendor()
	tasks := &queuetest.Recorder{}
	wakeups := botdeploytest.NewWakeups()

	syncer := calendarsync.NewWorker(lifecycleConns{conn: &models.CalendarConnection{UserID: userID, AccessToken: "tok"}},
		lifecycleCalendar{events: []calendar.Event{{
			ID:            "evt-launch",
			Title:         "Launch planning",
			Start:         now.Add(30 * time.Minute),
			End:           now.Add(90 * time.Minute),
			ConferenceURL: "https://meet.google.com/abc-defg-hij",
		}}}, store, tasks, 0, nil, nil)
	syncer.SetClock(clock)
	deploy := botdeploy.NewScheduler(store, defaultSettings{}, vendor, wakeups, botdeploy.Options{}, nil, nil)
	deploy.SetClock(clock)
	drainer := botdeploy.NewDrainer(wakeups, tasks, nil, nil)
	drainer.SetClock(clock)
	reconciler := reconcile.NewReconciler(store, tasks, false, nil, nil)
	reconciler.SetClock(clock)
	poller := reconcile.NewPoller(store, vendor, reconciler, nil, nil)
	pipeline := completion.NewPipeline(store, vendor, noSTT{}, tasks, nil, nil)
	pipeline.SetClock(clock)
	generator := insights.NewGenerator(store, cannedLLM{}, nil, 0, nil, nil)

	jobs := &fakeJobs{}
	proc := NewProcessor(jobs, Handlers{Sync: syncer, Deploy: deploy, Complete: pipeline, Insights: generator}, nil, nil)
	runQueued := func() {
		for {
			batch := tasks.Drain()
			if len(batch) == 0 {
				return
			}
			for _, job := range batch {
				require.Equal(t, "ok", proc.Handle(ctx, job), "topic %s", job.Topic)
			}
		}
	}

	require.NoError(t, tasks.EnqueueSyncUser(ctx, queue.SyncUserPayload{UserID: userID}))
	runQueued()

	m, err := store.FindByCalendarEvent(ctx, userID, "evt-launch")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, models.MeetingStatusScheduled, m.Status)
	assert.Equal(t, models.PlatformGoogleMeet, m.Platform)
	assert.Equal(t, 0, vendor.DeployCount())
	wakeAt, ok := wakeups.Pending(m.ID)
	require.True(t, ok)
	assert.True(t, wakeAt.Equal(m.ScheduledStart.Add(-time.Minute)))

	// a second sync in the meantime changes nothing
	require.NoError(t, tasks.EnqueueSyncUser(ctx, queue.SyncUserPayload{UserID: userID}))
	runQueued()
	assert.Equal(t, 1, store.Count())

	now = wakeAt
	_, err = drainer.Tick(ctx)
	require.NoError(t, err)
	runQueued()
	m, _ = store.GetByID(ctx, m.ID)
	assert.Equal(t, models.MeetingStatusJoining, m.Status)
	assert.Equal(t, "bot-1", m.BotID)

	now = now.Add(2 * time.Minute)
	vendor.SetStatus("bot-1", botvendor.BotStatus{Status: "in_call_recording"})
	_, err = poller.Tick(ctx)
	require.NoError(t, err)
	m, _ = store.GetByID(ctx, m.ID)
	assert.Equal(t, models.MeetingStatusInProgress, m.Status)

	now = now.Add(time.Hour)
	vendor.SetStatus("bot-1", botvendor.BotStatus{
		Status:        "done",
		TranscriptURL: "https://vendor.test/t/bot-1",
		Participants:  []string{"Alice", "Bob"},
	})
	vendor.SetTranscript("https://vendor.test/t/bot-1", botvendor.Transcript{
		FullText: "Alice: let's ship it. Bob: agreed.",
		Segments: []models.TranscriptSegment{{Speaker: "Alice", Text: "let's ship it."}, {Speaker: "Bob", Text: "agreed."}},
		Language: "en",
	})
	_, err = poller.Tick(ctx)
	require.NoError(t, err)
	// the next poll sees no change and queues nothing
	_, err = poller.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks.ByTopic(queue.TopicMeetingComplete), 1)
	runQueued()

	m, _ = store.GetByID(ctx, m.ID)
	assert.Equal(t, models.MeetingStatusCompleted, m.Status)
	require.NotNil(t, m.Duration)
	assert.Equal(t, 3600, *m.Duration)
	assert.Equal(t, 1, store.TranscriptCount())
	participants, _ := store.ListParticipants(ctx, m.ID)
	assert.Len(t, participants, 2)
	list, _ := store.ListInsights(ctx, m.ID)
	assert.Len(t, list, 7)
	assert.Empty(t, jobs.retried)
	assert.Empty(t, jobs.deadLettered)
	assert.Equal(t, 0, wakeups.Len())
}
