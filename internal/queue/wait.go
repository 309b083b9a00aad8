package queue

import (
	"context"
	"time"

	"github.com/cuongbtq/docjobs/internal/job"
)

// WaitForCompletion blocks until the job reaches a terminal state or the
// timeout elapses, and reports whether it ended COMPLETED. The wait is
// signaled by the terminal transition itself, not by polling.
func (q *Queue) WaitForCompletion(ctx context.Context, jobID string, timeout time.Duration) (bool, error) {
	j, err := q.store.FindByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if j.Status.Terminal() {
		return j.Status == job.StatusCompleted, nil
	}

	ch := q.addWaiter(jobID)

	// The job may have gone terminal between the lookup and registration;
	// re-check so the waiter cannot be stranded.
	j, err = q.store.FindByID(ctx, jobID)
	if err == nil && j.Status.Terminal() {
		q.removeWaiter(jobID, ch)
		return j.Status == job.StatusCompleted, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		q.removeWaiter(jobID, ch)
		return false, ctx.Err()
	case <-timer.C:
		q.removeWaiter(jobID, ch)
		return false, nil
	case status := <-ch:
		return status == job.StatusCompleted, nil
	}
}

func (q *Queue) addWaiter(jobID string) chan job.Status {
	ch := make(chan job.Status, 1)
	q.mu.Lock()
	q.waiters[jobID] = append(q.waiters[jobID], ch)
	q.mu.Unlock()
	return ch
}

func (q *Queue) removeWaiter(jobID string, ch chan job.Status) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.waiters[jobID]
	for i, c := range list {
		if c == ch {
			q.waiters[jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(q.waiters[jobID]) == 0 {
		delete(q.waiters, jobID)
	}
}

// signalTerminal wakes every waiter exactly once on the job's terminal
// transition.
func (q *Queue) signalTerminal(jobID string, status job.Status) {
	q.mu.Lock()
	list := q.waiters[jobID]
	delete(q.waiters, jobID)
	q.mu.Unlock()

	for _, ch := range list {
		ch <- status
	}
}
