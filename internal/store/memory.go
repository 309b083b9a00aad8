package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/docjobs/internal/job"
)

// MemoryStore keeps jobs in a mutex-guarded map. It is the default store for
// embedded use and the store every test runs against.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*job.Job),
	}
}

func (s *MemoryStore) SaveNew(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Dedup check and insert under one lock so two concurrent submissions
	// of identical content cannot both slip past a completed prior result.
	if j.DedupHash != "" {
		for _, existing := range s.jobs {
			if existing.DedupHash == j.DedupHash && existing.Status == job.StatusCompleted {
				return &job.DuplicateJobError{ExistingID: existing.ID}
			}
		}
	}

	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, j *job.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[j.ID]
	if !ok {
		return false, job.ErrJobNotFound
	}

	// Terminal statuses are sticky: a late write from a stale execution
	// must not override a cancellation or a prior terminal result.
	if existing.Status.Terminal() && j.Status != existing.Status {
		return false, nil
	}

	s.jobs[j.ID] = j.Clone()
	return true, nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress int, operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if existing.Status == job.StatusCancelled {
		return job.ErrJobCancelled
	}
	if existing.Status != job.StatusProcessing {
		return nil
	}
	// Progress is monotonically non-decreasing while processing.
	if progress > existing.Progress {
		existing.Progress = progress
	}
	if operation != "" {
		existing.CurrentOperation = operation
	}
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, hash string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, j := range s.jobs {
		if j.DedupHash == hash {
			return j.Clone(), nil
		}
	}
	return nil, job.ErrJobNotFound
}

func (s *MemoryStore) FindByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, j.Clone())
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) FindAll(ctx context.Context) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) FindRecent(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if j.CreatedAt.After(cutoff) {
			out = append(out, j.Clone())
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) CountActive(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) StatsByStatus(ctx context.Context) (map[job.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[job.Status]int)
	for _, j := range s.jobs {
		stats[j.Status]++
	}
	return stats, nil
}

func sortByCreatedAt(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}
