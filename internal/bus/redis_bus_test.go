package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b, err := NewRedisBus(context.Background(), client, WithBlockTimeout(50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestPublishConsume(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.Publish(ctx, "conductor", "new_case_found", map[string]string{"case_id": "case-1"}, "corr-1", 0))

	received := make(chan *Envelope, 1)
	go func() {
		_ = b.Consume(ctx, "conductor", func(ctx context.Context, env *Envelope) error {
			received <- env
			return b.Ack(ctx, "conductor", env.DeliveryID())
		})
	}()

	select {
	case env := <-received:
		require.Equal(t, "new_case_found", env.Command)
		require.Equal(t, "corr-1", env.CorrelationID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMalformedMessageDeadLettered(t *testing.T) {
	b, mr := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.ensureGroup(ctx, "conductor"))
	_, err := mr.XAdd("conductor", "*", []string{"body", "{not json"})
	require.NoError(t, err)

	called := false
	consumeCtx, consumeCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer consumeCancel()
	_ = b.Consume(consumeCtx, "conductor", func(ctx context.Context, env *Envelope) error {
		called = true
		return nil
	})

	require.False(t, called, "handler must never see a malformed message")

	streams, err := mr.Stream(DLQName("conductor"))
	require.NoError(t, err)
	require.Len(t, streams, 1)
}

func TestDLQNaming(t *testing.T) {
	require.Equal(t, "conductor.dlq", DLQName("conductor"))
}
