package storage

import "errors"

// StorageFailure is the single uniform error kind the State Store
// surfaces to callers, per its contract: callers never branch on driver
// or SQL-specific errors, only on the sentinels below.
type StorageFailure struct {
	Op  string
	Err error
}

func (e *StorageFailure) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageFailure) Unwrap() error {
	return e.Err
}

func wrapFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageFailure{Op: op, Err: err}
}

var (
	// ErrCaseNotFound is returned when a Case lookup misses.
	ErrCaseNotFound = errors.New("case not found")
	// ErrCaseExists is returned by CreateCase when the case_id is already
	// known; the Conductor treats this as the start-workflow no-op path.
	ErrCaseExists = errors.New("case already exists")
	// ErrNoResource is returned by ReserveGPU when no GPU is available;
	// the Conductor treats this as the expected PENDING_RESOURCE path,
	// not a failure.
	ErrNoResource = errors.New("no gpu resource available")
	// ErrInvalidWorkflowStep names a workflow_step value that is not one
	// of the configured steps; no function in this repository returns it.
	ErrInvalidWorkflowStep = errors.New("workflow step not in configured list")
)
