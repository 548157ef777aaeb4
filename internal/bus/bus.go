// Package bus implements the Message Bus Contract: a durable queue
// wrapper with Publish/Consume, prefetch=1 delivery, per-queue
// dead-lettering, and bounded reconnect backoff, grounded on the
// teacher's Redis Streams queue and dead-letter implementation.
package bus

import "context"

// Handler processes one delivered Envelope. Returning nil acks the
// delivery. Returning an error triggers the retry-with-backoff envelope
// in internal/workerkit, not this package; Bus.Consume itself only knows
// ack/nack, not retry policy.
type Handler func(ctx context.Context, env *Envelope) error

// Bus is the contract every component depends on; RedisBus is the only
// production implementation, but the interface keeps the Conductor,
// Supervisor, and worker handlers testable against a fake.
type Bus interface {
	// Publish sends command+payload to queue. retryCount is normally 0;
	// callers retrying a delivery pass the incremented count so the
	// envelope's retry_count travels with the message.
	Publish(ctx context.Context, queue, command string, payload interface{}, correlationID string, retryCount int) error

	// Consume subscribes to queue with prefetch=1 and invokes handler for
	// each delivery until ctx is cancelled. JSON-unparseable bodies are
	// dead-lettered immediately, before handler is ever called.
	Consume(ctx context.Context, queue string, handler Handler) error

	// Ack confirms successful processing of a delivery.
	Ack(ctx context.Context, queue, deliveryID string) error

	// NackRequeue returns a delivery to its queue for redelivery.
	NackRequeue(ctx context.Context, queue, deliveryID string) error

	// NackDeadLetter routes a delivery straight to "<queue>.dlq" without
	// requeueing it on the primary queue.
	NackDeadLetter(ctx context.Context, queue, deliveryID string, env *Envelope, reason string) error

	Close() error
}

// DLQName returns the dead-letter queue name for a primary queue, per the
// "<primary>.dlq" naming convention.
func DLQName(queue string) string {
	return queue + ".dlq"
}
