// Package workerkit implements the Worker Handler Skeleton shared by the
// remote-executor, file-transfer, and system-curator workers: subscribe
// (prefetch=1) -> validate -> dispatch -> retry-with-backoff envelope ->
// publish outcome, grounded on the teacher's internal/worker/executor.go
// (panic recovery, per-command handler map) and internal/task/retry.go
// (backoff shape, reused verbatim here).
package workerkit

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"qaorchestrator/internal/bus"
	"qaorchestrator/internal/logger"
	"qaorchestrator/internal/metrics"
)

// CommandHandler processes one command's payload. A returned error that
// satisfies IsRetryable is retried with backoff; any other error fails
// the delivery immediately (same publish-outcome-and-dead-letter path as
// exhausting retries).
type CommandHandler func(ctx context.Context, env *bus.Envelope) error

// Skeleton wires a Bus queue to a set of CommandHandlers under the
// uniform validate/dispatch/retry/outcome envelope.
type Skeleton struct {
	bus            bus.Bus
	queue          string
	conductorQueue string
	handlers       map[string]CommandHandler

	maxRetries int
	retryDelay time.Duration

	log zerolog.Logger
}

func New(b bus.Bus, queue, conductorQueue string, maxRetries int, retryDelay time.Duration) *Skeleton {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 1 * time.Second
	}
	return &Skeleton{
		bus:            b,
		queue:          queue,
		conductorQueue: conductorQueue,
		handlers:       make(map[string]CommandHandler),
		maxRetries:     maxRetries,
		retryDelay:     retryDelay,
		log:            logger.WithComponent("worker:" + queue),
	}
}

func (s *Skeleton) Register(command string, handler CommandHandler) {
	s.handlers[command] = handler
}

// PublishSuccess lets a CommandHandler report its own success outcome to
// the conductor queue (the specific event name depends on which command
// succeeded, so the skeleton can't infer it the way it infers failure
// outcomes).
func (s *Skeleton) PublishSuccess(ctx context.Context, event, correlationID string, payload interface{}) error {
	if err := s.bus.Publish(ctx, s.conductorQueue, event, payload, correlationID, 0); err != nil {
		return err
	}
	metrics.RecordMessagePublished(s.conductorQueue, event)
	return nil
}

// Run subscribes to the worker's queue with prefetch=1 until ctx is
// cancelled.
func (s *Skeleton) Run(ctx context.Context) error {
	return s.bus.Consume(ctx, s.queue, s.onDelivery)
}

func (s *Skeleton) onDelivery(ctx context.Context, env *bus.Envelope) error {
	handler, ok := s.handlers[env.Command]
	if !ok {
		return s.malformed(ctx, env, fmt.Sprintf("no handler registered for command %q", env.Command))
	}

	err := s.invoke(ctx, handler, env)
	if err == nil {
		return s.bus.Ack(ctx, s.queue, env.DeliveryID())
	}

	if IsRetryable(err) && env.RetryCount < s.maxRetries {
		return s.retry(ctx, env, err)
	}

	return s.finalFailure(ctx, env, err)
}

func (s *Skeleton) invoke(ctx context.Context, handler CommandHandler, env *bus.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("command", env.Command).
				Str("correlation_id", env.CorrelationID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("handler panicked")
			err = fmt.Errorf("workerkit: handler panicked: %v", r)
		}
	}()
	return handler(ctx, env)
}

// retry waits retry_delay*2^attempt then republishes the message to the
// same queue with retry_count incremented, and acks the original
// delivery (the redelivery is the new message, not the old one).
func (s *Skeleton) retry(ctx context.Context, env *bus.Envelope, cause error) error {
	delay := s.retryDelay * time.Duration(1<<uint(env.RetryCount))
	s.log.Warn().
		Str("command", env.Command).
		Int("retry_count", env.RetryCount).
		Dur("delay", delay).
		Err(cause).
		Msg("retrying after transient failure")

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.bus.Publish(ctx, s.queue, env.Command, env.Payload, env.CorrelationID, env.RetryCount+1); err != nil {
		return err
	}
	return s.bus.Ack(ctx, s.queue, env.DeliveryID())
}

// finalFailure publishes a failure outcome to the conductor queue and
// dead-letters the delivery, used both when retries are exhausted and
// when the error is not retryable at all.
func (s *Skeleton) finalFailure(ctx context.Context, env *bus.Envelope, cause error) error {
	s.log.Error().
		Str("command", env.Command).
		Str("correlation_id", env.CorrelationID).
		Err(cause).
		Msg("delivery failed permanently")

	outcome := outcomeFor(env.Command, cause)
	payload := map[string]string{
		"case_id": env.CorrelationID,
		"error":   cause.Error(),
	}
	if err := s.bus.Publish(ctx, s.conductorQueue, outcome, payload, env.CorrelationID, 0); err != nil {
		s.log.Error().Err(err).Msg("failed to publish failure outcome")
	} else {
		metrics.RecordMessagePublished(s.conductorQueue, outcome)
	}

	metrics.RecordDeadLetter(s.queue)
	return s.bus.NackDeadLetter(ctx, s.queue, env.DeliveryID(), env, cause.Error())
}

// malformed publishes malformed_message to the conductor queue and
// dead-letters the delivery without ever invoking a handler.
func (s *Skeleton) malformed(ctx context.Context, env *bus.Envelope, reason string) error {
	payload := map[string]string{"case_id": env.CorrelationID, "error": reason}
	if err := s.bus.Publish(ctx, s.conductorQueue, "malformed_message", payload, env.CorrelationID, 0); err != nil {
		s.log.Error().Err(err).Msg("failed to publish malformed_message")
	} else {
		metrics.RecordMessagePublished(s.conductorQueue, "malformed_message")
	}
	metrics.RecordDeadLetter(s.queue)
	return s.bus.NackDeadLetter(ctx, s.queue, env.DeliveryID(), env, reason)
}

// outcomeFor maps a failed command to the conductor event name that
// reports it, per the external-interfaces table in spec.md §6.
func outcomeFor(command string, cause error) string {
	switch command {
	case "execute_command":
		return "execution_failed"
	case "upload_case", "download_results":
		return "file_transfer_failed"
	default:
		return "execution_failed"
	}
}
