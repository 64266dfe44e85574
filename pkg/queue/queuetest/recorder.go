// Package queuetest records enqueued tasks in memory.
package queuetest

import (
	"context"
	"sync"

	"github.com/aura-webinar/meetbot/pkg/queue"
)

// Recorder implements the queue's Enqueue methods by appending jobs to a slice. Err, when
// set, is returned by every Enqueue call instead.
type Recorder struct {
	mu   sync.Mutex
	Jobs []*queue.Job
	Err  error
}

func (r *Recorder) add(topic queue.Topic, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	job, err := queue.NewJob(topic, payload)
	if err != nil {
		return err
	}
	r.Jobs = append(r.Jobs, job)
	return nil
}

// EnqueueSyncUser records a sync.user task.
func (r *Recorder) EnqueueSyncUser(ctx context.Context, p queue.SyncUserPayload) error {
	return r.add(queue.TopicSyncUser, p)
}

// EnqueueScheduleBot records a schedule.bot task.
func (r *Recorder) EnqueueScheduleBot(ctx context.Context, p queue.ScheduleBotPayload) error {
	return r.add(queue.TopicScheduleBot, p)
}

// EnqueueMeetingComplete records a meeting.complete task.
func (r *Recorder) EnqueueMeetingComplete(ctx context.Context, p queue.MeetingCompletePayload) error {
	return r.add(queue.TopicMeetingComplete, p)
}

// EnqueueGenerateInsights records a generate.insights task.
func (r *Recorder) EnqueueGenerateInsights(ctx context.Context, p queue.GenerateInsightsPayload) error {
	return r.add(queue.TopicGenerateInsights, p)
}

// EnqueueRecordingArchive records a recording.archive task.
func (r *Recorder) EnqueueRecordingArchive(ctx context.Context, p queue.RecordingArchivePayload) error {
	return r.add(queue.TopicRecordingArchive, p)
}

// ByTopic returns the recorded jobs of one topic, in order.
func (r *Recorder) ByTopic(topic queue.Topic) []*queue.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*queue.Job
	for _, j := range r.Jobs {
		if j.Topic == topic {
			out = append(out, j)
		}
	}
	return out
}

// Drain removes and returns every recorded job.
func (r *Recorder) Drain() []*queue.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.Jobs
	r.Jobs = nil
	return out
}
