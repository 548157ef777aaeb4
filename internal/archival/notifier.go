// Package archival defines the Conductor's hook onto the archiving
// workflow. The concrete archiving/backup business logic is an external
// collaborator (spec.md §1); this package only specifies the interface
// the Conductor calls on terminal case transitions.
package archival

import (
	"context"

	"qaorchestrator/internal/storage"
)

// Notifier is called when a case reaches a terminal status.
type Notifier interface {
	NotifyCompleted(ctx context.Context, caseID string, status storage.CaseStatus) error
}

// Noop never archives anything; it is the only Notifier this repository
// ships, since the archiver itself is out of scope.
type Noop struct{}

func (Noop) NotifyCompleted(ctx context.Context, caseID string, status storage.CaseStatus) error {
	return nil
}
