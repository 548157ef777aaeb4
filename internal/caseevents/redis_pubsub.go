package caseevents

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"qaorchestrator/internal/logger"
)

const channelPrefix = "qaorchestrator:events:"

// RedisPub publishes and subscribes to case events over Redis Pub/Sub.
// It rides the same redis.UniversalClient as the message bus but speaks
// fire-and-forget Pub/Sub rather than Streams, since a dropped status
// update costs nothing (the State Store remains the source of truth).
type RedisPub struct {
	client redis.UniversalClient
	mu     sync.Mutex
	subs   []*redis.PubSub
}

// NewRedisPub wraps an existing Redis client.
func NewRedisPub(client redis.UniversalClient) *RedisPub {
	return &RedisPub{client: client}
}

func channelName(t Type) string {
	return channelPrefix + string(t)
}

// Publish fans an event out to its type's channel.
func (r *RedisPub) Publish(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, channelName(event.Type), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// SubscribeAll subscribes to every event type and returns a channel of
// decoded events. The returned channel closes when ctx is cancelled.
func (r *RedisPub) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, pubsub)
	r.mu.Unlock()

	out := make(chan *Event, 100)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse case event")
					continue
				}
				select {
				case out <- event:
				default:
					logger.Warn().Str("event_type", string(event.Type)).Msg("case event channel full, dropping")
				}
			}
		}
	}()

	return out, nil
}

// Close tears down every outstanding subscription.
func (r *RedisPub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		_ = s.Close()
	}
	r.subs = nil
	return nil
}
