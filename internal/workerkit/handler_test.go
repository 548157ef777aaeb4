package workerkit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaorchestrator/internal/bus"
)

// fakeBus is a minimal in-memory bus.Bus sufficient to exercise the
// retry/outcome envelope without a real broker.
type fakeBus struct {
	mu        sync.Mutex
	published []published
	acked     []string
	deadLettered []string
}

type published struct {
	queue, command, correlationID string
	retryCount                    int
	payload                       interface{}
}

func (f *fakeBus) Publish(ctx context.Context, queue, command string, payload interface{}, correlationID string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{queue, command, correlationID, retryCount, payload})
	return nil
}

func (f *fakeBus) Consume(ctx context.Context, queue string, handler bus.Handler) error { return nil }

func (f *fakeBus) Ack(ctx context.Context, queue, deliveryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, deliveryID)
	return nil
}

func (f *fakeBus) NackRequeue(ctx context.Context, queue, deliveryID string) error { return nil }

func (f *fakeBus) NackDeadLetter(ctx context.Context, queue, deliveryID string, env *bus.Envelope, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLettered = append(f.deadLettered, deliveryID)
	return nil
}

func (f *fakeBus) Close() error { return nil }

func envelopeFor(command, correlationID string, retryCount int) *bus.Envelope {
	payload, _ := json.Marshal(map[string]string{"case_id": correlationID})
	msg := bus.Message{Command: command, Payload: payload, CorrelationID: correlationID, RetryCount: retryCount}
	return bus.NewEnvelope(msg, "delivery-1", "remote-executor")
}

func TestRetryThenSuccess(t *testing.T) {
	fb := &fakeBus{}
	sk := New(fb, "remote-executor", "conductor", 3, 1*time.Millisecond)

	attempts := 0
	sk.Register("execute_command", func(ctx context.Context, env *bus.Envelope) error {
		attempts++
		if attempts < 2 {
			return ErrRemoteExecution
		}
		return sk.PublishSuccess(ctx, "execution_succeeded", env.CorrelationID, nil)
	})

	env := envelopeFor("execute_command", "case-1", 0)
	require.NoError(t, sk.onDelivery(context.Background(), env))

	require.Len(t, fb.published, 1, "first attempt should republish for retry")
	assert.Equal(t, 1, fb.published[0].retryCount)

	retry := envelopeFor("execute_command", "case-1", 1)
	require.NoError(t, sk.onDelivery(context.Background(), retry))

	require.Len(t, fb.published, 2, "second attempt should report success")
	assert.Equal(t, "execution_succeeded", fb.published[1].command)
}

func TestExhaustedRetriesDeadLettersAndReportsFailure(t *testing.T) {
	fb := &fakeBus{}
	sk := New(fb, "remote-executor", "conductor", 2, 1*time.Millisecond)

	sk.Register("execute_command", func(ctx context.Context, env *bus.Envelope) error {
		return ErrNetwork
	})

	env := envelopeFor("execute_command", "case-2", 2) // already at max_retries
	require.NoError(t, sk.onDelivery(context.Background(), env))

	require.Len(t, fb.deadLettered, 1)
	require.Len(t, fb.published, 1)
	assert.Equal(t, "execution_failed", fb.published[0].command)
}

func TestUnknownCommandIsMalformed(t *testing.T) {
	fb := &fakeBus{}
	sk := New(fb, "remote-executor", "conductor", 3, time.Millisecond)

	env := envelopeFor("do_something_unregistered", "case-3", 0)
	require.NoError(t, sk.onDelivery(context.Background(), env))

	require.Len(t, fb.published, 1)
	assert.Equal(t, "malformed_message", fb.published[0].command)
	require.Len(t, fb.deadLettered, 1)
}

func TestPanicRecoveredAsFailure(t *testing.T) {
	fb := &fakeBus{}
	sk := New(fb, "remote-executor", "conductor", 3, time.Millisecond)
	sk.Register("execute_command", func(ctx context.Context, env *bus.Envelope) error {
		panic("boom")
	})

	env := envelopeFor("execute_command", "case-4", 3) // no retries left
	require.NoError(t, sk.onDelivery(context.Background(), env))
	require.Len(t, fb.deadLettered, 1)
}
