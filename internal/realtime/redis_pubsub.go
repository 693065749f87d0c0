package realtime

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
	channelPrefix  = "livesync:"
	publishTimeout = 5 * time.Second
)

// RedisPubSub implements PubSub over Redis pub/sub so every server instance
// sees changes written by the worker or by another instance.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for live session events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// Publish sends the event to the table channel and, for row events, the record channel.
func (r *RedisPubSub) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.Table == "" {
		ev.Table = TableLiveSessions
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	channels := []string{channelPrefix + TableScope().channel()}
	if ev.SessionID != uuid.Nil {
		channels = append(channels, channelPrefix+RecordScope(ev.SessionID).channel())
	}
	for _, ch := range channels {
		if err := r.client.Publish(ctx, ch, body).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", ch, err)
		}
	}
	return nil
}

// Subscribe listens on the scope's channel and calls handler for each decoded event.
func (r *RedisPubSub) Subscribe(ctx context.Context, scope Scope, handler func(ChangeEvent)) (cancel func(), err error) {
	channel := channelPrefix + scope.channel()
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn("malformed change event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	cancel = func() {
		cancelCtx()
		<-done
	}
	return cancel, nil
}
