package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is the production Bus implementation, one Redis Stream per
// named queue plus a consumer group per queue standing in for
// prefetch=1 delivery, grounded on the teacher's RedisQueue/DLQ shape.
type RedisBus struct {
	client        redis.UniversalClient
	consumerGroup string
	consumerName  string
	blockTimeout  time.Duration

	reconnectBase   time.Duration
	reconnectFactor float64
	reconnectMax    int
}

// Option configures a RedisBus at construction time.
type Option func(*RedisBus)

func WithConsumerGroup(name string) Option {
	return func(b *RedisBus) { b.consumerGroup = name }
}

func WithConsumerName(name string) Option {
	return func(b *RedisBus) { b.consumerName = name }
}

func WithBlockTimeout(d time.Duration) Option {
	return func(b *RedisBus) { b.blockTimeout = d }
}

// NewRedisBus connects to addr and verifies reachability, applying the
// bounded exponential reconnect backoff (base 1s, factor 2, 3 retries
// after the first try) before surfacing BrokerUnavailable.
func NewRedisBus(ctx context.Context, client redis.UniversalClient, opts ...Option) (*RedisBus, error) {
	b := &RedisBus{
		client:          client,
		consumerGroup:   "qaorchestrator",
		consumerName:    "conductor",
		blockTimeout:    5 * time.Second,
		reconnectBase:   1 * time.Second,
		reconnectFactor: 2,
		reconnectMax:    3,
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.withReconnect(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RedisBus) withReconnect(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := b.reconnectBase
	for attempt := 0; attempt <= b.reconnectMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = time.Duration(float64(delay) * b.reconnectFactor)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return &BrokerUnavailable{Err: lastErr}
}

func (b *RedisBus) ensureGroup(ctx context.Context, queue string) error {
	err := b.client.XGroupCreateMkStream(ctx, queue, b.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Publish writes command+payload to queue, retrying the connection with
// bounded backoff before surfacing BrokerUnavailable.
func (b *RedisBus) Publish(ctx context.Context, queue, command string, payload interface{}, correlationID string, retryCount int) error {
	msg, err := newMessage(command, payload, correlationID, retryCount)
	if err != nil {
		return fmt.Errorf("bus: marshal payload: %w", err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	return b.withReconnect(ctx, func(ctx context.Context) error {
		if err := b.ensureGroup(ctx, queue); err != nil {
			return err
		}
		return b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: queue,
			Values: map[string]interface{}{"body": string(body)},
		}).Err()
	})
}

// Consume subscribes to queue with prefetch=1 (Count: 1 per read) and
// invokes handler for each delivery until ctx is cancelled. A body that
// fails JSON decoding is dead-lettered immediately without invoking
// handler, per the malformed-message contract.
func (b *RedisBus) Consume(ctx context.Context, queue string, handler Handler) error {
	if err := b.ensureGroup(ctx, queue); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.consumerGroup,
			Consumer: b.consumerName,
			Streams:  []string{queue, ">"},
			Count:    1,
			Block:    b.blockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}

		xmsg := res[0].Messages[0]
		bodyStr, _ := xmsg.Values["body"].(string)

		var msg Message
		if err := json.Unmarshal([]byte(bodyStr), &msg); err != nil {
			env := &Envelope{deliveryID: xmsg.ID, queue: queue}
			_ = b.NackDeadLetter(ctx, queue, xmsg.ID, env, "malformed message: "+err.Error())
			continue
		}

		env := &Envelope{Message: msg, deliveryID: xmsg.ID, queue: queue}
		if err := handler(ctx, env); err != nil {
			continue
		}
		_ = b.Ack(ctx, queue, xmsg.ID)
	}
}

func (b *RedisBus) Ack(ctx context.Context, queue, deliveryID string) error {
	return b.client.XAck(ctx, queue, b.consumerGroup, deliveryID).Err()
}

// NackRequeue does nothing: the delivery stays un-acked in the Pending
// Entries List, and nothing in this package claims or redelivers it.
// Callers that want a retry call Publish with retryCount+1 and then Ack
// the original delivery, which is what internal/workerkit does.
func (b *RedisBus) NackRequeue(ctx context.Context, queue, deliveryID string) error {
	// Redis Streams has no native "nack and redeliver" primitive; leaving
	// the delivery un-acked puts it in the Pending Entries List, where a
	// future XCLAIM (by this or another consumer) redelivers it.
	return nil
}

// NackDeadLetter acks the current delivery (removing it from the primary
// queue's pending list) and republishes it to "<queue>.dlq" with the
// failure reason attached.
func (b *RedisBus) NackDeadLetter(ctx context.Context, queue, deliveryID string, env *Envelope, reason string) error {
	dlq := DLQName(queue)
	if err := b.ensureGroup(ctx, dlq); err != nil {
		return err
	}

	entry := struct {
		Message
		Reason   string `json:"reason"`
		DeadAt   time.Time `json:"dead_at"`
	}{Message: env.Message, Reason: reason, DeadAt: time.Now().UTC()}
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlq,
		Values: map[string]interface{}{"body": string(body)},
	}).Err(); err != nil {
		return err
	}

	if deliveryID != "" {
		_ = b.client.XAck(ctx, queue, b.consumerGroup, deliveryID).Err()
	}
	return nil
}

// DeadLetterEntry is one message sitting in a queue's DLQ stream.
type DeadLetterEntry struct {
	Message
	Reason    string    `json:"reason"`
	DeadAt    time.Time `json:"dead_at"`
	MessageID string    `json:"-"`
}

// ListDeadLettered reads up to count entries from queue's DLQ stream,
// newest last, for the read-only status surface.
func (b *RedisBus) ListDeadLettered(ctx context.Context, queue string, count int64) ([]DeadLetterEntry, error) {
	dlq := DLQName(queue)
	messages, err := b.client.XRange(ctx, dlq, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("bus: read dlq: %w", err)
	}

	entries := make([]DeadLetterEntry, 0, len(messages))
	for _, msg := range messages {
		if count > 0 && int64(len(entries)) >= count {
			break
		}
		bodyStr, _ := msg.Values["body"].(string)
		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(bodyStr), &entry); err != nil {
			continue
		}
		entry.MessageID = msg.ID
		entries = append(entries, entry)
	}
	return entries, nil
}

// QueueDepth reports the number of entries currently in queue's stream.
func (b *RedisBus) QueueDepth(ctx context.Context, queue string) (int64, error) {
	return b.client.XLen(ctx, queue).Result()
}

// Ping verifies the broker is reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	if c, ok := b.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
