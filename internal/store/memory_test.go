package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docjobs/internal/job"
)

func newJob(id, hash string, status job.Status) *job.Job {
	return &job.Job{
		ID:        id,
		ToolName:  "pdf-merge",
		Status:    status,
		DedupHash: hash,
		CreatedAt: time.Now(),
	}
}

func TestMemoryStore_SaveNew_Dedup(t *testing.T) {
	tests := []struct {
		name       string
		existing   *job.Job
		incoming   *job.Job
		wantDup    bool
		wantDupID  string
	}{
		{
			name:      "completed job with same hash rejects",
			existing:  newJob("job-1", "abc", job.StatusCompleted),
			incoming:  newJob("job-2", "abc", job.StatusPending),
			wantDup:   true,
			wantDupID: "job-1",
		},
		{
			name:     "pending job with same hash does not reject",
			existing: newJob("job-1", "abc", job.StatusPending),
			incoming: newJob("job-2", "abc", job.StatusPending),
			wantDup:  false,
		},
		{
			name:     "failed job with same hash does not reject",
			existing: newJob("job-1", "abc", job.StatusFailed),
			incoming: newJob("job-2", "abc", job.StatusPending),
			wantDup:  false,
		},
		{
			name:     "different hash does not reject",
			existing: newJob("job-1", "abc", job.StatusCompleted),
			incoming: newJob("job-2", "def", job.StatusPending),
			wantDup:  false,
		},
		{
			name:     "empty hash never dedups",
			existing: newJob("job-1", "", job.StatusCompleted),
			incoming: newJob("job-2", "", job.StatusPending),
			wantDup:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewMemoryStore()
			require.NoError(t, s.SaveNew(ctx, tt.existing))

			err := s.SaveNew(ctx, tt.incoming)
			if tt.wantDup {
				var dup *job.DuplicateJobError
				require.ErrorAs(t, err, &dup)
				assert.Equal(t, tt.wantDupID, dup.ExistingID)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMemoryStore_Update_TerminalSticky(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	j := newJob("job-1", "", job.StatusCancelled)
	require.NoError(t, s.SaveNew(ctx, j))

	// A stale completion must not overwrite the cancellation, and the
	// caller must be told the write was discarded.
	late := j.Clone()
	late.Status = job.StatusCompleted
	late.ResultURL = "/results/job-1.pdf"
	applied, err := s.Update(ctx, late)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.FindByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.Empty(t, got.ResultURL)
}

func TestMemoryStore_Update_AppliedWhenActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	j := newJob("job-1", "", job.StatusPending)
	require.NoError(t, s.SaveNew(ctx, j))

	j.Status = job.StatusProcessing
	applied, err := s.Update(ctx, j)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.FindByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, got.Status)
}

func TestMemoryStore_Update_NotFound(t *testing.T) {
	s := NewMemoryStore()
	applied, err := s.Update(context.Background(), newJob("missing", "", job.StatusPending))
	assert.ErrorIs(t, err, job.ErrJobNotFound)
	assert.False(t, applied)
}

func TestMemoryStore_UpdateProgress(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	j := newJob("job-1", "", job.StatusProcessing)
	j.Progress = 40
	require.NoError(t, s.SaveNew(ctx, j))

	// Progress moves forward.
	require.NoError(t, s.UpdateProgress(ctx, "job-1", 60, "Rendering pages"))
	got, err := s.FindByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)
	assert.Equal(t, "Rendering pages", got.CurrentOperation)

	// Progress never moves backward.
	require.NoError(t, s.UpdateProgress(ctx, "job-1", 30, "Stale update"))
	got, err = s.FindByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)
}

func TestMemoryStore_UpdateProgress_IgnoredWhenNotProcessing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	j := newJob("job-1", "", job.StatusPending)
	require.NoError(t, s.SaveNew(ctx, j))

	require.NoError(t, s.UpdateProgress(ctx, "job-1", 90, "Late progress"))
	got, err := s.FindByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}

func TestMemoryStore_UpdateProgress_CancelledJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	j := newJob("job-1", "", job.StatusCancelled)
	require.NoError(t, s.SaveNew(ctx, j))

	// A running tool pushing progress into a cancelled job is told so.
	err := s.UpdateProgress(ctx, "job-1", 90, "Late progress")
	assert.ErrorIs(t, err, job.ErrJobCancelled)

	got, err := s.FindByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}

func TestMemoryStore_Queries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := newJob("job-old", "", job.StatusCompleted)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	completed := old.CreatedAt.Add(time.Minute)
	old.CompletedAt = &completed

	pending := newJob("job-pending", "", job.StatusPending)
	processing := newJob("job-processing", "", job.StatusProcessing)

	require.NoError(t, s.SaveNew(ctx, old))
	require.NoError(t, s.SaveNew(ctx, pending))
	require.NoError(t, s.SaveNew(ctx, processing))

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byStatus, err := s.FindByStatus(ctx, job.StatusPending)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "job-pending", byStatus[0].ID)

	recent, err := s.FindRecent(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	active, err := s.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	stats, err := s.StatsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[job.StatusCompleted])
	assert.Equal(t, 1, stats[job.StatusPending])
	assert.Equal(t, 1, stats[job.StatusProcessing])
}

func TestMemoryStore_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := newJob("job-old", "", job.StatusCompleted)
	oldDone := time.Now().Add(-48 * time.Hour)
	old.CompletedAt = &oldDone

	fresh := newJob("job-fresh", "", job.StatusCompleted)
	freshDone := time.Now()
	fresh.CompletedAt = &freshDone

	running := newJob("job-running", "", job.StatusProcessing)

	require.NoError(t, s.SaveNew(ctx, old))
	require.NoError(t, s.SaveNew(ctx, fresh))
	require.NoError(t, s.SaveNew(ctx, running))

	deleted, err := s.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.FindByID(ctx, "job-old")
	assert.ErrorIs(t, err, job.ErrJobNotFound)

	_, err = s.FindByID(ctx, "job-fresh")
	assert.NoError(t, err)
}
