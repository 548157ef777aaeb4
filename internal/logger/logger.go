// Package logger wraps zerolog with the orchestrator's contextual
// helpers, grounded on the teacher's logger.go verbatim, extended with an
// optional State-Store sink for the "logs" table.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// StoreSink is implemented by internal/storage.Store; kept as a narrow
// interface here so this package never imports storage directly.
type StoreSink interface {
	AppendLog(ctx context.Context, level, component, message string, caseID, correlationID *string) error
}

var sink StoreSink

func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetStoreSink enables best-effort mirroring of subsequent log events into
// the "logs" table. A sink write failure only emits a console warning; it
// never blocks or fails the caller's real work.
func SetStoreSink(s StoreSink) {
	sink = s
}

func Get() *zerolog.Logger {
	return &log
}

func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func WithWorker(workerID string) zerolog.Logger {
	return log.With().Str("worker_id", workerID).Logger()
}

func WithCase(caseID string) zerolog.Logger {
	return log.With().Str("case_id", caseID).Logger()
}

func WithCorrelation(correlationID string) zerolog.Logger {
	return log.With().Str("correlation_id", correlationID).Logger()
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }

// Mirror writes one line to the store sink, if configured. Components
// call this alongside their normal zerolog event when the line matters
// for the dashboard's log view (spec's LogEntry table).
func Mirror(ctx context.Context, level, component, message string, caseID, correlationID *string) {
	if sink == nil {
		return
	}
	if err := sink.AppendLog(ctx, level, component, message, caseID, correlationID); err != nil {
		log.Warn().Err(err).Msg("store log sink write failed")
	}
}
