package job

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobCancelled is returned when an operation targets a cancelled job
	ErrJobCancelled = errors.New("job is cancelled")
)

// DuplicateJobError is returned by submit when a completed job with the same
// dedup hash already exists. ExistingID points at the prior result so the
// caller may reuse it instead of resubmitting.
type DuplicateJobError struct {
	ExistingID string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("duplicate job detected, existing job: %s", e.ExistingID)
}

// WorkerFailureError wraps the worker's last error after all retry attempts
// have been exhausted.
type WorkerFailureError struct {
	Attempts int
	Err      error
}

func (e *WorkerFailureError) Error() string {
	return fmt.Sprintf("worker failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *WorkerFailureError) Unwrap() error {
	return e.Err
}
