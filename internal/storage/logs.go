package storage

import (
	"context"
	"strings"
	"time"
)

// AppendLog writes one LogEntry. Used by the optional logger store-sink;
// callers are expected to treat write failure as a soft error (log a
// warning elsewhere, never block the caller's real work on it).
func (s *Store) AppendLog(ctx context.Context, level, component, message string, caseID, correlationID *string) error {
	entry := &LogEntry{
		Level:         level,
		Component:     component,
		Message:       message,
		CaseID:        caseID,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	// A busy database is retried up to 3 times, waiting 100ms, 200ms, 400ms.
	for wait := 100 * time.Millisecond; err != nil && wait <= 400*time.Millisecond && strings.Contains(err.Error(), "SQLITE_BUSY"); wait *= 2 {
		time.Sleep(wait)
		_, err = s.db.NewInsert().Model(entry).Exec(ctx)
	}
	if err != nil {
		return wrapFailure("append_log", err)
	}
	return nil
}
