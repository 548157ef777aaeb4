package storage

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Scanner exposes the primitives the external case-scanner collaborator
// needs: record that a path has been submitted this cycle, and check
// whether a case should be skipped as already seen.
type Scanner struct {
	store *Store
}

func (s *Store) Scanner() *Scanner {
	return &Scanner{store: s}
}

// MarkScanned records that caseID (found at path) was submitted this
// cycle. Safe to call repeatedly; it upserts.
func (sc *Scanner) MarkScanned(ctx context.Context, caseID, path string) error {
	row := &ScannedCase{CaseID: caseID, Path: path, ScannedAt: time.Now().UTC()}
	_, err := sc.store.db.NewInsert().
		Model(row).
		On("CONFLICT (case_id) DO UPDATE").
		Set("path = EXCLUDED.path").
		Set("scanned_at = EXCLUDED.scanned_at").
		Exec(ctx)
	if err != nil {
		return wrapFailure("mark_scanned", err)
	}
	return nil
}

// IsSeen reports whether caseID should be skipped by the scanner: per the
// resolved Open Question, any case whose current status is COMPLETED or
// FAILED counts as already seen within the current scan cycle, regardless
// of whether scanned_cases has a row for it yet.
func (sc *Scanner) IsSeen(ctx context.Context, caseID string) (bool, error) {
	count, err := sc.store.db.NewSelect().
		Model((*Case)(nil)).
		Where("id = ?", caseID).
		Where("status IN (?)", bun.In([]CaseStatus{StatusCompleted, StatusFailed})).
		Count(ctx)
	if err != nil {
		return false, wrapFailure("is_seen_status", err)
	}
	if count > 0 {
		return true, nil
	}

	count, err = sc.store.db.NewSelect().
		Model((*ScannedCase)(nil)).
		Where("case_id = ?", caseID).
		Count(ctx)
	if err != nil {
		return false, wrapFailure("is_seen_scanned", err)
	}
	return count > 0, nil
}
