package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertProcessStatus records the current PID and status of a supervised
// process, so a restarted Supervisor can adopt it instead of respawning.
func (s *Store) UpsertProcessStatus(ctx context.Context, ps *ProcessStatus) error {
	ps.UpdatedAt = time.Now().UTC()
	_, err := s.db.NewInsert().
		Model(ps).
		On("CONFLICT (name) DO UPDATE").
		Set("pid = EXCLUDED.pid").
		Set("remote = EXCLUDED.remote").
		Set("host = EXCLUDED.host").
		Set("status = EXCLUDED.status").
		Set("restart_count = EXCLUDED.restart_count").
		Set("last_health_check = EXCLUDED.last_health_check").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return wrapFailure("upsert_process_status", err)
	}
	return nil
}

// GetProcessStatus returns the persisted status of a named process, or
// nil if the supervisor has never recorded one (first boot).
func (s *Store) GetProcessStatus(ctx context.Context, name string) (*ProcessStatus, error) {
	ps := new(ProcessStatus)
	err := s.db.NewSelect().Model(ps).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapFailure("get_process_status", err)
	}
	return ps, nil
}

// ListProcessStatuses returns every persisted process record, for the
// supervisor's adoption pass at startup and the read-only status surface.
func (s *Store) ListProcessStatuses(ctx context.Context) ([]*ProcessStatus, error) {
	var rows []*ProcessStatus
	err := s.db.NewSelect().Model(&rows).OrderExpr("name ASC").Scan(ctx)
	if err != nil {
		return nil, wrapFailure("list_process_status", err)
	}
	return rows, nil
}
