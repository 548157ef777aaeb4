package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// CreateCase inserts a new Case row in the NEW status. Returns
// ErrCaseExists if the case_id is already known; the Conductor's
// start-workflow algorithm treats that as its idempotent no-op path.
func (s *Store) CreateCase(ctx context.Context, caseID, correlationID string) error {
	now := time.Now().UTC()
	c := &Case{
		ID:            caseID,
		Status:        StatusNew,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.Tx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(c).Exec(ctx)
		if err != nil {
			return err
		}
		return insertHistory(ctx, tx, caseID, StatusNew, nil, "case created")
	})
	if isUniqueViolation(err) {
		return ErrCaseExists
	}
	return err
}

// GetCase fetches a Case by id. Returns ErrCaseNotFound if absent.
func (s *Store) GetCase(ctx context.Context, caseID string) (*Case, error) {
	c := new(Case)
	err := s.db.NewSelect().Model(c).Where("id = ?", caseID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, wrapFailure("get_case", err)
	}
	return c, nil
}

// ListCases returns every case, ordered by most recently updated, for the
// read-only status surface.
func (s *Store) ListCases(ctx context.Context) ([]*Case, error) {
	var cases []*Case
	err := s.db.NewSelect().Model(&cases).OrderExpr("updated_at DESC").Scan(ctx)
	if err != nil {
		return nil, wrapFailure("list_cases", err)
	}
	return cases, nil
}

// CaseHistoryFor returns the audit trail for one case, oldest first.
func (s *Store) CaseHistoryFor(ctx context.Context, caseID string) ([]*CaseHistory, error) {
	var rows []*CaseHistory
	err := s.db.NewSelect().Model(&rows).Where("case_id = ?", caseID).OrderExpr("id ASC").Scan(ctx)
	if err != nil {
		return nil, wrapFailure("case_history", err)
	}
	return rows, nil
}

// UpdateStatus transitions a Case's status and, in the same transaction,
// appends the matching CaseHistory row (spec invariant: every status
// change has a matching history row in the same transaction). workflowStep
// may be nil to clear the field (e.g. on COMPLETED).
func (s *Store) UpdateStatus(ctx context.Context, caseID string, status CaseStatus, workflowStep *string, note string) error {
	return s.Tx(ctx, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Case)(nil)).
			Set("status = ?", status).
			Set("workflow_step = ?", workflowStep).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", caseID).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrCaseNotFound
		}
		return insertHistory(ctx, tx, caseID, status, workflowStep, note)
	})
}

func insertHistory(ctx context.Context, tx bun.Tx, caseID string, status CaseStatus, workflowStep *string, note string) error {
	h := &CaseHistory{
		CaseID:       caseID,
		Status:       status,
		WorkflowStep: workflowStep,
		Note:         note,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := tx.NewInsert().Model(h).Exec(ctx)
	return err
}

// ReserveGPU atomically claims one available GPU for caseID: inside a
// transaction it re-checks that a GPU is still available (guarding
// against a concurrent reserver), claims it, and sets the case's
// assigned_gpu_id. Returns ErrNoResource if none are free — the expected,
// non-error PENDING_RESOURCE path.
func (s *Store) ReserveGPU(ctx context.Context, caseID string) (string, error) {
	var gpuID string
	err := s.Tx(ctx, func(ctx context.Context, tx bun.Tx) error {
		// Atomic claim: UPDATE the first available row directly from a
		// subquery re-evaluated under this transaction's snapshot, so a
		// racing reserver sees zero rows affected instead of double-claiming.
		var claimed GPUResource
		err := tx.NewUpdate().
			Model(&claimed).
			Set("status = ?", GPUReserved).
			Set("reserved_by_case_id = ?", caseID).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = (SELECT id FROM gpu_resources WHERE status = ? ORDER BY id LIMIT 1)", GPUAvailable).
			Returning("*").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoResource
		}
		if err != nil {
			return err
		}
		gpuID = claimed.ID

		res, err := tx.NewUpdate().
			Model((*Case)(nil)).
			Set("assigned_gpu_id = ?", gpuID).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", caseID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrCaseNotFound
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return gpuID, nil
}

// ReleaseGPUForCase frees whatever GPU is assigned to caseID, if any. It
// is a no-op (not an error) if the case has no assigned GPU, since Fail
// and the terminal Advance step both call it unconditionally.
func (s *Store) ReleaseGPUForCase(ctx context.Context, caseID string) error {
	return s.Tx(ctx, func(ctx context.Context, tx bun.Tx) error {
		c := new(Case)
		if err := tx.NewSelect().Model(c).Where("id = ?", caseID).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrCaseNotFound
			}
			return err
		}
		if c.AssignedGPUID == nil {
			return nil
		}
		if _, err := tx.NewUpdate().
			Model((*GPUResource)(nil)).
			Set("status = ?", GPUAvailable).
			Set("reserved_by_case_id = ?", nil).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", *c.AssignedGPUID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*Case)(nil)).
			Set("assigned_gpu_id = ?", nil).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", caseID).
			Exec(ctx)
		return err
	})
}

// SeedGPUs registers the configured GPU ids as available, used once at
// startup (idempotent: existing rows are left untouched).
func (s *Store) SeedGPUs(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		g := &GPUResource{ID: id, Status: GPUAvailable, UpdatedAt: now}
		_, err := s.db.NewInsert().Model(g).On("CONFLICT (id) DO NOTHING").Exec(ctx)
		if err != nil {
			return wrapFailure("seed_gpu", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sf *StorageFailure
	if errors.As(err, &sf) {
		err = sf.Err
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}

// ListGPUs returns every GPU slot, ordered by id, for the read-only
// status surface.
func (s *Store) ListGPUs(ctx context.Context) ([]*GPUResource, error) {
	var gpus []*GPUResource
	err := s.db.NewSelect().Model(&gpus).OrderExpr("id ASC").Scan(ctx)
	if err != nil {
		return nil, wrapFailure("list_gpus", err)
	}
	return gpus, nil
}

// UpdateGPUTelemetry overwrites the utilization/memory/temperature columns
// for gpuID, leaving status and reservation untouched. A gpuID the store
// doesn't know about is silently ignored, since the telemetry source may
// report hardware the operator hasn't registered as a GPUResource yet.
func (s *Store) UpdateGPUTelemetry(ctx context.Context, gpuID string, utilizationPct, memoryUsedMB, temperatureC float64) error {
	_, err := s.db.NewUpdate().
		Model((*GPUResource)(nil)).
		Set("utilization_pct = ?", utilizationPct).
		Set("memory_used_mb = ?", memoryUsedMB).
		Set("temperature_c = ?", temperatureC).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", gpuID).
		Exec(ctx)
	if err != nil {
		return wrapFailure("update_gpu_telemetry", err)
	}
	return nil
}
