package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/docjobs/internal/job"
)

// Enqueue hands a persisted job to the worker pool. It is called by the
// local dispatcher and by transport consumers feeding jobs from other
// processes.
func (q *Queue) Enqueue(jobID string) error {
	select {
	case q.tasks <- jobID:
		return nil
	case <-q.stopChan:
		return context.Canceled
	}
}

// execLoop is the processing loop for one pool goroutine.
func (q *Queue) execLoop(workerNum int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopChan:
			q.logger.Debug("Queue worker stopping",
				slog.Int("worker_num", workerNum),
			)
			return
		case jobID := <-q.tasks:
			q.runAttempt(jobID)
		}
	}
}

// runAttempt performs one execution attempt for the job. On worker failure
// it either arms a delayed re-dispatch (attempts remaining) or records the
// terminal failure. The pool goroutine never sleeps between attempts.
func (q *Queue) runAttempt(jobID string) {
	ctx := context.Background()

	j, err := q.store.FindByID(ctx, jobID)
	if err != nil {
		q.logger.Error("Cannot execute job - lookup failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if j.Status.Terminal() {
		// Lost a race with cancel; nothing to do.
		return
	}

	attempt := j.Attempts + 1
	now := time.Now()
	wasPending := j.Status == job.StatusPending

	j.Status = job.StatusProcessing
	j.Attempts = attempt
	j.CurrentOperation = "Starting processing"
	if j.Progress < 5 {
		j.Progress = 5
	}
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	applied, err := q.store.Update(ctx, j)
	if err != nil {
		q.logger.Error("Failed to mark job processing",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !applied {
		// The job reached a terminal state between lookup and write.
		return
	}
	if wasPending {
		q.notifier.JobStatusChanged(j.Clone())
	}

	q.logger.Info("Executing job",
		slog.String("job_id", jobID),
		slog.String("tool_name", j.ToolName),
		slog.Int("attempt", attempt),
		slog.Int("max_retries", q.cfg.MaxRetries),
	)

	result, workErr := q.worker.Process(ctx, j.ToolName, j.InputPath, j.Parameters, q.progressReporter(j))

	// Cancellation is sticky: if the job was cancelled while the worker
	// ran, its result is discarded.
	fresh, err := q.store.FindByID(ctx, jobID)
	if err == nil && fresh.Status == job.StatusCancelled {
		q.logger.Info("Discarding result of cancelled job",
			slog.String("job_id", jobID),
		)
		return
	}

	if workErr == nil {
		q.completeJob(ctx, j, result.ResultURL)
		return
	}

	q.logger.Warn("Job attempt failed",
		slog.String("job_id", jobID),
		slog.String("tool_name", j.ToolName),
		slog.Int("attempt", attempt),
		slog.String("error", workErr.Error()),
	)

	if attempt >= q.cfg.MaxRetries {
		q.failJob(ctx, j, &job.WorkerFailureError{Attempts: attempt, Err: workErr})
		return
	}

	// Persist the attempt count, then re-dispatch after the retry delay
	// without blocking a pool goroutine.
	j.ErrorMessage = workErr.Error()
	applied, err = q.store.Update(ctx, j)
	if err != nil {
		q.logger.Error("Failed to persist retry state",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	if err == nil && !applied {
		// Cancelled while the attempt ran; do not arm a retry.
		return
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.retryTimers[jobID] = time.AfterFunc(q.cfg.RetryDelay, func() {
		q.mu.Lock()
		delete(q.retryTimers, jobID)
		q.mu.Unlock()
		if err := q.Enqueue(jobID); err != nil {
			q.logger.Warn("Retry dropped - queue stopped",
				slog.String("job_id", jobID),
			)
		}
	})
	q.mu.Unlock()
}

func (q *Queue) completeJob(ctx context.Context, j *job.Job, resultURL string) {
	now := time.Now()
	j.Status = job.StatusCompleted
	j.Progress = 100
	j.CurrentOperation = "Completed"
	j.ResultURL = resultURL
	j.ErrorMessage = ""
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.ProcessingTime = now.Sub(*j.StartedAt)
	}

	applied, err := q.store.Update(ctx, j)
	if err != nil {
		q.logger.Error("Failed to mark job completed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !applied {
		// A cancellation won the race to the store; the job must not be
		// reported as completed.
		q.logger.Info("Discarding completion of terminal job",
			slog.String("job_id", j.ID),
		)
		return
	}

	q.logger.Info("Job completed",
		slog.String("job_id", j.ID),
		slog.String("tool_name", j.ToolName),
		slog.Duration("processing_time", j.ProcessingTime),
		slog.Int("attempts", j.Attempts),
	)
	q.notifier.JobStatusChanged(j.Clone())
	q.signalTerminal(j.ID, job.StatusCompleted)
}

func (q *Queue) failJob(ctx context.Context, j *job.Job, cause error) {
	now := time.Now()
	j.Status = job.StatusFailed
	j.CurrentOperation = "Failed"
	j.ErrorMessage = cause.Error()
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.ProcessingTime = now.Sub(*j.StartedAt)
	}

	applied, err := q.store.Update(ctx, j)
	if err != nil {
		q.logger.Error("Failed to mark job failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !applied {
		q.logger.Info("Discarding failure of terminal job",
			slog.String("job_id", j.ID),
		)
		return
	}

	q.logger.Error("Job failed",
		slog.String("job_id", j.ID),
		slog.String("tool_name", j.ToolName),
		slog.Int("attempts", j.Attempts),
		slog.String("error", cause.Error()),
	)
	q.notifier.JobStatusChanged(j.Clone())
	q.signalTerminal(j.ID, job.StatusFailed)
}

// progressReporter returns the callback handed to the worker so a running
// tool can push progress into the job record and to webhook subscribers.
func (q *Queue) progressReporter(j *job.Job) func(progress int, operation string) {
	jobID := j.ID
	toolName := j.ToolName
	return func(progress int, operation string) {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		if err := q.store.UpdateProgress(context.Background(), jobID, progress, operation); err != nil {
			if errors.Is(err, job.ErrJobCancelled) {
				// The tool is still running but its job was cancelled;
				// drop the update silently.
				return
			}
			q.logger.Warn("Failed to update job progress",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return
		}
		q.notifier.JobProgress(jobID, toolName, progress, operation)
	}
}
