package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/botvendor/botvendortest"
	"github.com/aura-webinar/meetbot/internal/meetings/meetingstest"
	"github.com/aura-webinar/meetbot/internal/models"
	"github.com/aura-webinar/meetbot/internal/transcription"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/queue/queuetest"
)

type fakeSTT struct {
	result       *transcription.Result
	err          error
	diarization  *transcription.Result
	audioCalls   int
	lastDiarized string
}

func (f *fakeSTT) Transcribe(ctx context.Context, audioURL, diarizationURL string) (*transcription.Result, error) {
	f.audioCalls++
	f.lastDiarized = diarizationURL
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSTT) FetchDiarization(ctx context.Context, url string) (*transcription.Result, error) {
	if f.diarization == nil {
		return nil, errors.New("no diarization")
	}
	return f.diarization, nil
}

type pipelineHarness struct {
	store    *meetingstest.Store
	vendor   *botvendortest.Vendor
	stt      *fakeSTT
	jobs     *queuetest.Recorder
	pipeline *Pipeline
	now      time.Time
}

func newPipelineHarness() *pipelineHarness {
	h := &pipelineHarness{
		store:  meetingstest.NewStore(),
		vendor: botvendortest.NewVendor(),
		stt:    &fakeSTT{},
		jobs:   &queuetest.Recorder{},
		now:    time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
	}
	h.pipeline = NewPipeline(h.store, h.vendor, h.stt, h.jobs, nil, nil)
	h.pipeline.SetClock(func() time.Time { return h.now })
	return h
}

func (h *pipelineHarness) meeting(status models.MeetingStatus, md models.MeetingMetadata) *models.Meeting {
	start := h.now.Add(-time.Hour)
	return h.store.Put(&models.Meeting{
		UserID:          uuid.New(),
		Title:           "Weekly sync",
		MeetingURL:      "https://meet.google.com/abc-defg-hij",
		Platform:        models.PlatformGoogleMeet,
		Status:          status,
		ScheduledStart:  start,
		ScheduledEnd:    h.now,
		ActualStart:     &start,
		CalendarEventID: uuid.NewString(),
		BotID:           "bot-1",
		Metadata:        md,
	})
}

func participantNames(t *testing.T, store *meetingstest.Store, id uuid.UUID) []string {
	t.Helper()
	list, err := store.ListParticipants(context.Background(), id)
	require.NoError(t, err)
	return lo.Map(list, func(p models.MeetingParticipant, _ int) string { return p.Name })
}

func TestMergeParticipants(t *testing.T) {
	tests := []struct {
		name    string
		sources [][]string
		want    []string
	}{
		{
			name:    "union without placeholders",
			sources: [][]string{{"Alice"}, {"Bob", "Meeting Assistant"}, {"Alice", "Speaker"}},
			want:    []string{"Alice", "Bob"},
		},
		{
			name:    "case-insensitive keeps first spelling",
			sources: [][]string{{"alice smith"}, {"Alice Smith", "Unknown"}},
			want:    []string{"alice smith"},
		},
		{
			name:    "numbered speakers and custom bot names",
			sources: [][]string{{"Speaker 1", "speaker_2", "Acme Meeting Assistant", " Carol "}},
			want:    []string{"Carol"},
		},
		{
			name: "empty",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeParticipants(tt.sources...))
		})
	}
}

func TestComplete_DualTriggerStoresOneTranscript(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusInProgress, models.MeetingMetadata{
		Participants: []string{"Alice"},
		Speakers:     []string{"Bob", "Meeting Assistant"},
	})
	h.vendor.SetTranscript("https://vendor.test/t/1", botvendor.Transcript{
		FullText: "Alice: hello there",
		Segments: []models.TranscriptSegment{{Speaker: "Alice", Text: "hello there"}, {Speaker: "Speaker", Text: "hm"}},
		Language: "en",
	})

	// webhook trigger
	_, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID, TranscriptURL: "https://vendor.test/t/1"})
	require.NoError(t, err)

	h.vendor.SetTranscript("https://vendor.test/t/1", botvendor.Transcript{
		FullText: "Alice: hello there everyone",
		Segments: []models.TranscriptSegment{{Speaker: "alice", Text: "hello there everyone"}},
		Language: "en",
	})
	// poll trigger
	res, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID, TranscriptURL: "https://vendor.test/t/1"})
	require.NoError(t, err)
	assert.Equal(t, SourceTranscript, res.Source)

	assert.Equal(t, 1, h.store.TranscriptCount())
	assert.Equal(t, 2, h.store.TranscriptWrites)
	tr, err := h.store.GetTranscript(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice: hello there everyone", tr.FullText)
	assert.Equal(t, 4, tr.WordCount)

	assert.Equal(t, []string{"Alice", "Bob"}, participantNames(t, h.store, m.ID))

	got, err := h.store.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusProcessing, got.Status)
	assert.Equal(t, "https://vendor.test/t/1", got.Metadata.TranscriptURL)
}

func TestComplete_PrefersAudioWithDiarization(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusProcessing, models.MeetingMetadata{DiarizationURL: "https://vendor.test/d/1"})
	h.stt.result = &transcription.Result{
		FullText: "hi all",
		Segments: []models.TranscriptSegment{{Speaker: "Dana", Text: "hi all"}},
		Language: "en",
		Duration: 1800.4,
	}
	h.vendor.SetTranscript("https://vendor.test/t/1", botvendor.Transcript{FullText: "unused"})

	res, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{
		MeetingID:     m.ID,
		AudioURL:      "https://vendor.test/a/1",
		TranscriptURL: "https://vendor.test/t/1",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceAudio, res.Source)
	assert.Equal(t, "https://vendor.test/d/1", h.stt.lastDiarized)
	assert.Equal(t, []string{"Dana"}, res.Participants)

	got, _ := h.store.GetByID(context.Background(), m.ID)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 1800, *got.Duration)

	jobs := h.jobs.ByTopic(queue.TopicGenerateInsights)
	require.Len(t, jobs, 1)
	var p queue.GenerateInsightsPayload
	require.NoError(t, jobs[0].Decode(&p))
	assert.Equal(t, m.ID, p.MeetingID)
	assert.Equal(t, "hi all", p.TranscriptText)
}

func TestComplete_FallsBackWhenAudioFails(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusProcessing, models.MeetingMetadata{})
	h.stt.err = errors.New("stt unavailable")
	h.stt.diarization = &transcription.Result{FullText: "from diarization", Segments: []models.TranscriptSegment{{Speaker: "Eve", Text: "from diarization"}}}

	res, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{
		MeetingID:      m.ID,
		AudioURL:       "https://vendor.test/a/1",
		DiarizationURL: "https://vendor.test/d/1",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceDiarization, res.Source)
	assert.Equal(t, 1, h.stt.audioCalls)
}

func TestComplete_NoSourceFailsLoudly(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusProcessing, models.MeetingMetadata{})

	_, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID})
	require.ErrorIs(t, err, ErrNoTranscriptSource)
	assert.Equal(t, 0, h.store.TranscriptCount())
	assert.Empty(t, h.jobs.Jobs)
}

func TestComplete_UsesStoredArtifactURLs(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusProcessing, models.MeetingMetadata{TranscriptURL: "https://vendor.test/t/9"})
	h.vendor.SetTranscript("https://vendor.test/t/9", botvendor.Transcript{FullText: "stored url"})

	res, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, SourceTranscript, res.Source)
}

func TestComplete_AllSourcesFailing(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusProcessing, models.MeetingMetadata{})

	_, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID, TranscriptURL: "https://vendor.test/missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, botvendor.ErrVendor)
	assert.False(t, queue.IsPermanent(err))
}

func TestComplete_CompletedMeetingRefreshesWithoutInsights(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusCompleted, models.MeetingMetadata{})
	h.vendor.SetTranscript("https://vendor.test/t/1", botvendor.Transcript{FullText: "late redelivery"})

	res, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID, TranscriptURL: "https://vendor.test/t/1"})
	require.NoError(t, err)
	assert.False(t, res.InsightsQueued)
	assert.Empty(t, h.jobs.ByTopic(queue.TopicGenerateInsights))

	got, _ := h.store.GetByID(context.Background(), m.ID)
	assert.Equal(t, models.MeetingStatusCompleted, got.Status)
}

func TestComplete_SkipsClosedMeetings(t *testing.T) {
	for _, status := range []models.MeetingStatus{models.MeetingStatusFailed, models.MeetingStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			h := newPipelineHarness()
			m := h.meeting(status, models.MeetingMetadata{})

			res, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID, TranscriptURL: "https://vendor.test/t/1"})
			require.NoError(t, err)
			assert.True(t, res.Skipped)
			assert.Equal(t, 0, h.store.TranscriptWrites)
		})
	}
}

func TestComplete_MissingMeetingIsPermanent(t *testing.T) {
	h := newPipelineHarness()

	_, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: uuid.New(), TranscriptURL: "x"})
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestComplete_DurationPrecedence(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusInProgress, models.MeetingMetadata{})
	h.vendor.SetTranscript("https://vendor.test/t/1", botvendor.Transcript{FullText: "x", Duration: 100})

	d := 2700
	_, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID, TranscriptURL: "https://vendor.test/t/1", Duration: &d})
	require.NoError(t, err)
	got, _ := h.store.GetByID(context.Background(), m.ID)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 2700, *got.Duration)

	// already set
	other := 60
	_, err = h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID, TranscriptURL: "https://vendor.test/t/1", Duration: &other})
	require.NoError(t, err)
	got, _ = h.store.GetByID(context.Background(), m.ID)
	assert.Equal(t, 2700, *got.Duration)
}

func TestComplete_DurationFromObservedWindow(t *testing.T) {
	h := newPipelineHarness()
	m := h.meeting(models.MeetingStatusInProgress, models.MeetingMetadata{})
	h.vendor.SetTranscript("https://vendor.test/t/1", botvendor.Transcript{FullText: "x"})

	_, err := h.pipeline.Complete(context.Background(), queue.MeetingCompletePayload{MeetingID: m.ID, TranscriptURL: "https://vendor.test/t/1"})
	require.NoError(t, err)
	got, _ := h.store.GetByID(context.Background(), m.ID)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 3600, *got.Duration)
	require.NotNil(t, got.ActualEnd)
	assert.True(t, got.ActualEnd.Equal(h.now))
}
