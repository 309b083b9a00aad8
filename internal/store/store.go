// Package store persists job records. Two implementations share one
// contract: an in-memory map store and a PostgreSQL adapter.
package store

import (
	"context"
	"time"

	"github.com/cuongbtq/docjobs/internal/job"
)

// Store is the job repository consumed by the queue. Implementations must
// guarantee per-row atomicity, an atomic dedup check on SaveNew, and sticky
// terminal statuses on Update (a stale write cannot move a job out of a
// terminal state).
type Store interface {
	// SaveNew inserts a new job. If a COMPLETED job with the same dedup
	// hash already exists it returns *job.DuplicateJobError without
	// inserting. Lookup and insert happen under a single atomic operation.
	SaveNew(ctx context.Context, j *job.Job) error

	// Update persists the job's mutable fields. If the stored row is
	// already terminal and the update would change its status, the write
	// is discarded and Update reports false so the caller can suppress
	// side effects of the stale write.
	Update(ctx context.Context, j *job.Job) (bool, error)

	// UpdateProgress sets progress and current operation for a running job.
	// It returns job.ErrJobCancelled when the job has been cancelled so a
	// running tool can learn its work is no longer wanted.
	UpdateProgress(ctx context.Context, id string, progress int, operation string) error

	FindByID(ctx context.Context, id string) (*job.Job, error)
	FindByHash(ctx context.Context, hash string) (*job.Job, error)
	FindByStatus(ctx context.Context, status job.Status) ([]*job.Job, error)
	FindAll(ctx context.Context) ([]*job.Job, error)
	FindRecent(ctx context.Context, cutoff time.Time) ([]*job.Job, error)

	// DeleteOlderThan removes terminal jobs completed before cutoff and
	// returns how many rows were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	CountActive(ctx context.Context) (int, error)
	StatsByStatus(ctx context.Context) (map[job.Status]int, error)
}
