package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// keyPrefix prefixes the Redis list key of every topic.
	keyPrefix = "worker:"
	// QueueDelayed is the sorted set holding jobs waiting for their retry backoff (score = unix ms).
	QueueDelayed = "worker:delayed"
	// QueueDLQ is the dead-letter list for jobs that exhausted their retries.
	QueueDLQ = "worker:dlq"
	// QueueProcessing is the sorted set of claimed, unsettled jobs (score = visibility deadline, unix ms).
	QueueProcessing = "worker:processing"
	// VisibilityTimeout is how long a claimed job stays invisible without Extend before it
	// is handed out again.
	VisibilityTimeout = 2 * time.Minute
	// MaxRetries is the number of attempts before a job is moved to the DLQ.
	MaxRetries = 5
	// RetryBackoff is the base delay between retries; it doubles per attempt.
	RetryBackoff = 10 * time.Second
	// maxBackoff caps the retry delay.
	maxBackoff = 10 * time.Minute
	// pollInterval is the pause between claim attempts while the topics are empty.
	pollInterval = 200 * time.Millisecond
	// maintenanceBatch bounds the jobs moved per PromoteDelayed or RecoverStale call.
	maintenanceBatch = 100
)

// Topic identifies a task kind. Each topic has its own Redis list.
type Topic string

const (
	TopicSyncUser         Topic = "sync.user"
	TopicScheduleBot      Topic = "schedule.bot"
	TopicMeetingComplete  Topic = "meeting.complete"
	TopicGenerateInsights Topic = "generate.insights"
	TopicRecordingArchive Topic = "recording.archive"
)

// Topics lists every topic the worker consumes, in claim priority order.
var Topics = []Topic{
	TopicScheduleBot,
	TopicMeetingComplete,
	TopicGenerateInsights,
	TopicSyncUser,
	TopicRecordingArchive,
}

// Key returns the Redis list key for a topic.
func (t Topic) Key() string { return keyPrefix + string(t) }

// SyncUserPayload asks for one user's calendar to be synced.
type SyncUserPayload struct {
	UserID uuid.UUID `json:"userId"`
}

// ScheduleBotPayload asks for a bot to be deployed into a meeting at its join time.
type ScheduleBotPayload struct {
	MeetingID uuid.UUID `json:"meetingId"`
}

// MeetingCompletePayload carries the best-known artifact URLs of a finished meeting.
type MeetingCompletePayload struct {
	MeetingID      uuid.UUID `json:"meetingId"`
	TranscriptURL  string    `json:"transcriptUrl,omitempty"`
	DiarizationURL string    `json:"diarizationUrl,omitempty"`
	AudioURL       string    `json:"audioUrl,omitempty"`
	RecordingURL   string    `json:"recordingUrl,omitempty"`
	Duration       *int      `json:"duration,omitempty"`
}

// GenerateInsightsPayload asks for insights to be (re)generated from a transcript.
type GenerateInsightsPayload struct {
	MeetingID      uuid.UUID `json:"meetingId"`
	TranscriptText string    `json:"transcriptText"`
}

// RecordingArchivePayload asks for a vendor recording to be copied to S3.
type RecordingArchivePayload struct {
	MeetingID    uuid.UUID `json:"meetingId"`
	RecordingURL string    `json:"recordingUrl"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Topic     Topic           `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	// raw is the encoded job as claimed; it is the job's member in the processing set.
	raw string
}

// NewJob wraps payload in a fresh job envelope for topic.
func NewJob(topic Topic, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   body,
		CreatedAt: time.Now(),
	}, nil
}

// Decode unmarshals the job payload into v. Decode failures are permanent.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("unmarshal %s payload: %w", j.Topic, err))
	}
	return nil
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker dead-letters the job instead of retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Backoff returns the retry delay after the given attempt (1-based).
func Backoff(attempt int) time.Duration {
	d := RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// claimScript pops the first job of the highest-priority non-empty topic (KEYS[2..]) and
// records it in the processing set (KEYS[1]) with deadline ARGV[1], atomically.
var claimScript = redis.NewScript(`
for i = 2, #KEYS do
	local raw = redis.call('LPOP', KEYS[i])
	if raw then
		redis.call('ZADD', KEYS[1], ARGV[1], raw)
		return raw
	end
end
return false
`)

// moveScript removes ARGV[1] from the sorted set KEYS[1] and, only if it was there, pushes
// ARGV[2] onto the list KEYS[2]. Concurrent movers of the same member push it once.
var moveScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// Queue enqueues and dequeues jobs via Redis. Delivery is at-least-once: a claimed job
// stays in the processing set until it is acked, retried or dead-lettered, and a job whose
// visibility deadline passes is handed out again by RecoverStale.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, topic Topic, payload any) error {
	job, err := NewJob(topic, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, topic.Key(), raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("topic", string(topic)))
	return nil
}

// EnqueueSyncUser enqueues a per-user calendar sync.
func (q *Queue) EnqueueSyncUser(ctx context.Context, payload SyncUserPayload) error {
	return q.enqueue(ctx, TopicSyncUser, payload)
}

// EnqueueScheduleBot enqueues a bot deployment for a meeting.
func (q *Queue) EnqueueScheduleBot(ctx context.Context, payload ScheduleBotPayload) error {
	return q.enqueue(ctx, TopicScheduleBot, payload)
}

// EnqueueMeetingComplete enqueues the completion pipeline for a meeting.
func (q *Queue) EnqueueMeetingComplete(ctx context.Context, payload MeetingCompletePayload) error {
	return q.enqueue(ctx, TopicMeetingComplete, payload)
}

// EnqueueGenerateInsights enqueues insight generation for a meeting.
func (q *Queue) EnqueueGenerateInsights(ctx context.Context, payload GenerateInsightsPayload) error {
	return q.enqueue(ctx, TopicGenerateInsights, payload)
}

// EnqueueRecordingArchive enqueues a recording copy to S3.
func (q *Queue) EnqueueRecordingArchive(ctx context.Context, payload RecordingArchivePayload) error {
	return q.enqueue(ctx, TopicRecordingArchive, payload)
}

// Dequeue claims a job from the highest-priority non-empty topic, polling up to timeout.
// Returns nil job on timeout. The job must be settled with Ack, Retry or DeadLetter.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	keys := make([]string, 0, len(Topics)+1)
	keys = append(keys, QueueProcessing)
	for _, t := range Topics {
		keys = append(keys, t.Key())
	}
	deadline := time.Now().Add(timeout)
	for {
		visibleAt := time.Now().Add(VisibilityTimeout).UnixMilli()
		raw, err := claimScript.Run(ctx, q.client, keys, visibleAt).Text()
		if err == nil {
			var job Job
			if err := json.Unmarshal([]byte(raw), &job); err != nil {
				q.logger.Warn("invalid job payload", zap.String("raw", raw), zap.Error(err))
				if err := moveScript.Run(ctx, q.client, []string{QueueProcessing, QueueDLQ}, raw, raw).Err(); err != nil {
					return nil, fmt.Errorf("dead-letter invalid job: %w", err)
				}
				return nil, nil
			}
			job.raw = raw
			return &job, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Ack settles a successfully processed job.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	return q.client.ZRem(ctx, QueueProcessing, job.raw).Err()
}

// Extend pushes a claimed job's visibility deadline VisibilityTimeout into the future.
// A job that was already recovered or settled is left alone.
func (q *Queue) Extend(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	visibleAt := time.Now().Add(VisibilityTimeout)
	return q.client.ZAddXX(ctx, QueueProcessing, redis.Z{Score: float64(visibleAt.UnixMilli()), Member: job.raw}).Err()
}

// Retry schedules the job for another attempt after its backoff. If attempt >= MaxRetries,
// the job goes to the DLQ instead. The claim is released in the same transaction.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) error {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.Attempt >= MaxRetries {
		return q.DeadLetter(ctx, job, "max retries exceeded")
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	due := time.Now().Add(Backoff(job.Attempt))
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if job.raw != "" {
			pipe.ZRem(ctx, QueueProcessing, job.raw)
		}
		pipe.ZAdd(ctx, QueueDelayed, redis.Z{Score: float64(due.UnixMilli()), Member: raw})
		return nil
	})
	if err != nil {
		return err
	}
	job.raw = ""
	q.logger.Info("job retry scheduled", zap.String("job_id", job.ID), zap.String("topic", string(job.Topic)), zap.Int("attempt", job.Attempt), zap.Time("due", due))
	return nil
}

// DeadLetter moves the job to the DLQ, releasing its claim in the same transaction.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, reason string) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if job.raw != "" {
			pipe.ZRem(ctx, QueueProcessing, job.raw)
		}
		pipe.RPush(ctx, QueueDLQ, raw)
		return nil
	})
	if err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	job.raw = ""
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("topic", string(job.Topic)), zap.Int("attempt", job.Attempt), zap.String("reason", reason))
	return nil
}

// PromoteDelayed moves retry-delayed jobs whose backoff has elapsed back onto their topic
// lists. Each move is atomic, and a job is pushed only by the instance that removed it.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	due, err := q.rangeDue(ctx, QueueDelayed, now)
	if err != nil {
		return 0, fmt.Errorf("range delayed: %w", err)
	}
	moved := 0
	for _, raw := range due {
		dest := QueueDLQ
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Warn("dead-lettering invalid delayed job", zap.Error(err))
		} else {
			dest = job.Topic.Key()
		}
		ok, err := q.move(ctx, QueueDelayed, dest, raw, raw)
		if err != nil {
			return moved, fmt.Errorf("promote delayed: %w", err)
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}

// RecoverStale hands out again the claimed jobs whose visibility deadline passed, which
// means their worker died or stalled. Recovery counts as an attempt; a job out of attempts
// goes to the DLQ.
func (q *Queue) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := q.rangeDue(ctx, QueueProcessing, now)
	if err != nil {
		return 0, fmt.Errorf("range processing: %w", err)
	}
	recovered := 0
	for _, raw := range stale {
		dest, next := QueueDLQ, raw
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err == nil {
			job.Attempt++
			job.LastError = "visibility timeout expired"
			if job.Attempt < MaxRetries {
				dest = job.Topic.Key()
			}
			b, err := json.Marshal(&job)
			if err != nil {
				return recovered, err
			}
			next = string(b)
		}
		ok, err := q.move(ctx, QueueProcessing, dest, raw, next)
		if err != nil {
			return recovered, fmt.Errorf("recover stale job: %w", err)
		}
		if ok {
			recovered++
			q.logger.Warn("stale job recovered", zap.String("job_id", job.ID), zap.String("topic", string(job.Topic)),
				zap.Int("attempt", job.Attempt), zap.Bool("dead_lettered", dest == QueueDLQ))
		}
	}
	return recovered, nil
}

func (q *Queue) rangeDue(ctx context.Context, key string, now time.Time) ([]string, error) {
	return q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: maintenanceBatch,
	}).Result()
}

func (q *Queue) move(ctx context.Context, from, to, member, pushed string) (bool, error) {
	n, err := moveScript.Run(ctx, q.client, []string{from, to}, member, pushed).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
