// Package notify publishes user notifications over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "notifications:user:"
	publishTTL    = 5 * time.Second

	// EventInsightsReady is published when a meeting's insights have been stored.
	EventInsightsReady = "meeting.insights_ready"
)

// InsightsReady tells a user that a meeting's insights can be viewed.
type InsightsReady struct {
	UserID       uuid.UUID `json:"userId"`
	MeetingID    uuid.UUID `json:"meetingId"`
	MeetingTitle string    `json:"meetingTitle"`
	InsightCount int       `json:"insightCount"`
}

// Message is the envelope published on a user's channel.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// Channel returns the pub/sub channel of a user.
func Channel(userID uuid.UUID) string {
	return channelPrefix + userID.String()
}

func encode(event string, data any, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Data: raw, At: at.Unix()})
}

// RedisNotifier publishes notifications to per-user Redis channels.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier creates a notifier.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// NotifyInsightsReady publishes an insights-ready event to the meeting owner.
func (n *RedisNotifier) NotifyInsightsReady(ctx context.Context, ev InsightsReady) error {
	body, err := encode(EventInsightsReady, ev, time.Now())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTTL)
	defer cancel()
	receivers, err := n.client.Publish(ctx, Channel(ev.UserID), body).Result()
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	n.logger.Debug("insights notification published", zap.String("user_id", ev.UserID.String()),
		zap.String("meeting_id", ev.MeetingID.String()), zap.Int64("receivers", receivers))
	return nil
}

// Subscribe calls handler for every message on the user's channel until cancel is called.
func (n *RedisNotifier) Subscribe(userID uuid.UUID, handler func(Message)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := n.client.Subscribe(ctx, Channel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					n.logger.Warn("dropping invalid notification", zap.Error(err))
					continue
				}
				handler(m)
			}
		}
	}()
	return cancelCtx, nil
}
