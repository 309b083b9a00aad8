// Package queue accepts job submissions, deduplicates them by content hash,
// and drives asynchronous execution with bounded retries.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/docjobs/internal/job"
	"github.com/cuongbtq/docjobs/internal/store"
	"github.com/cuongbtq/docjobs/internal/worker"
)

// Config holds queue tuning parameters.
type Config struct {
	Workers         int
	QueueSize       int
	MaxRetries      int
	RetryDelay      time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	return c
}

// Notifier receives job lifecycle notifications. The webhook dispatcher
// implements it; a no-op is used when webhooks are disabled.
type Notifier interface {
	JobStatusChanged(j *job.Job)
	JobProgress(jobID, toolName string, progress int, operation string)
}

type noopNotifier struct{}

func (noopNotifier) JobStatusChanged(*job.Job)               {}
func (noopNotifier) JobProgress(string, string, int, string) {}

// Dispatcher hands a persisted job off for asynchronous execution. The
// default dispatcher feeds the queue's own worker pool; an AMQP dispatcher
// can route job IDs to pools in other processes instead.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

type localDispatcher struct {
	q *Queue
}

func (d localDispatcher) Dispatch(ctx context.Context, jobID string) error {
	return d.q.Enqueue(jobID)
}

// Queue persists jobs and executes them on a fixed worker pool.
type Queue struct {
	cfg      Config
	store    store.Store
	worker   worker.Worker
	notifier Notifier
	logger   *slog.Logger

	dispatcher Dispatcher
	tasks      chan string
	stopChan   chan struct{}
	wg         sync.WaitGroup

	mu          sync.Mutex
	waiters     map[string][]chan job.Status
	retryTimers map[string]*time.Timer
	stopped     bool
}

// New creates a queue. Call Start before submitting.
func New(cfg Config, st store.Store, w worker.Worker, notifier Notifier, logger *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	if notifier == nil {
		notifier = noopNotifier{}
	}
	q := &Queue{
		cfg:         cfg,
		store:       st,
		worker:      w,
		notifier:    notifier,
		logger:      logger,
		tasks:       make(chan string, cfg.QueueSize),
		stopChan:    make(chan struct{}),
		waiters:     make(map[string][]chan job.Status),
		retryTimers: make(map[string]*time.Timer),
	}
	q.dispatcher = localDispatcher{q: q}
	return q
}

// SetDispatcher replaces the execution transport. Must be called before Start.
func (q *Queue) SetDispatcher(d Dispatcher) {
	q.dispatcher = d
}

// Start spawns the worker pool and the optional cleanup sweep.
func (q *Queue) Start() {
	q.logger.Info("Starting job queue",
		slog.Int("workers", q.cfg.Workers),
		slog.Int("max_retries", q.cfg.MaxRetries),
		slog.Duration("retry_delay", q.cfg.RetryDelay),
	)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.execLoop(i)
	}

	if q.cfg.CleanupInterval > 0 && q.cfg.Retention > 0 {
		q.wg.Add(1)
		go q.cleanupLoop()
	}
}

// Stop drains the pool and cancels pending retry timers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for id, t := range q.retryTimers {
		t.Stop()
		delete(q.retryTimers, id)
	}
	q.mu.Unlock()

	close(q.stopChan)
	q.wg.Wait()
	q.logger.Info("Job queue stopped")
}

// Submit persists a new job and schedules it for asynchronous execution.
// Returns the job in PENDING, or *job.DuplicateJobError when a completed job
// with identical input content already exists.
func (q *Queue) Submit(ctx context.Context, req job.Request) (*job.Job, error) {
	if req.ToolName == "" {
		return nil, fmt.Errorf("tool name is required")
	}

	j := &job.Job{
		ID:         uuid.New().String(),
		ToolName:   req.ToolName,
		FileName:   req.FileName,
		InputPath:  req.InputPath,
		Parameters: req.Parameters,
		Status:     job.StatusPending,
		CreatedAt:  time.Now(),
	}
	if j.FileName == "" && req.InputPath != "" {
		j.FileName = filepath.Base(req.InputPath)
	}

	if req.InputPath != "" {
		hash, size, err := hashInput(req.InputPath)
		if err != nil {
			// Dedup is best-effort: a missing hash only disables it.
			q.logger.Warn("Could not hash job input for deduplication",
				slog.String("input_path", req.InputPath),
				slog.String("error", err.Error()),
			)
		} else {
			j.DedupHash = hash
			j.FileSize = size
		}
	}

	if err := q.store.SaveNew(ctx, j); err != nil {
		return nil, err
	}

	q.logger.Info("Job submitted",
		slog.String("job_id", j.ID),
		slog.String("tool_name", j.ToolName),
	)
	q.notifier.JobStatusChanged(j.Clone())

	if err := q.dispatcher.Dispatch(ctx, j.ID); err != nil {
		q.failJob(ctx, j, fmt.Errorf("failed to dispatch job: %w", err))
		return nil, fmt.Errorf("failed to dispatch job %s: %w", j.ID, err)
	}

	return j.Clone(), nil
}

// Status returns the current job record.
func (q *Queue) Status(ctx context.Context, jobID string) (*job.Job, error) {
	return q.store.FindByID(ctx, jobID)
}

// Cancel marks a PENDING or PROCESSING job as CANCELLED. It returns false
// for unknown IDs and jobs already in a terminal state. An in-flight worker
// call is not interrupted; its late result is discarded by the store.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	j, err := q.store.FindByID(ctx, jobID)
	if err != nil {
		if err == job.ErrJobNotFound {
			return false, nil
		}
		return false, err
	}
	if !j.Status.Cancellable() {
		return false, nil
	}

	now := time.Now()
	j.Status = job.StatusCancelled
	j.CurrentOperation = "Cancelled"
	j.CompletedAt = &now
	// The update races against a concurrent terminal write; only report
	// success if the cancellation actually landed.
	applied, err := q.store.Update(ctx, j)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	q.stopRetryTimer(jobID)
	q.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
	)
	q.notifier.JobStatusChanged(j.Clone())
	q.signalTerminal(jobID, job.StatusCancelled)
	return true, nil
}

// List returns jobs, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status *job.Status) ([]*job.Job, error) {
	if status != nil {
		return q.store.FindByStatus(ctx, *status)
	}
	return q.store.FindAll(ctx)
}

// Recent returns jobs created within the last given number of days.
func (q *Queue) Recent(ctx context.Context, days int) ([]*job.Job, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	return q.store.FindRecent(ctx, cutoff)
}

// Statistics returns job counts grouped by status.
func (q *Queue) Statistics(ctx context.Context) (map[job.Status]int, error) {
	return q.store.StatsByStatus(ctx)
}

// ActiveCount returns the number of jobs not yet in a terminal state.
func (q *Queue) ActiveCount(ctx context.Context) (int, error) {
	return q.store.CountActive(ctx)
}

// CleanupOldJobs removes terminal jobs completed before now-olderThan.
func (q *Queue) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	deleted, err := q.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		q.logger.Info("Cleaned up old jobs",
			slog.Int("deleted", deleted),
		)
	}
	return deleted, nil
}

func (q *Queue) cleanupLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopChan:
			return
		case <-ticker.C:
			if _, err := q.CleanupOldJobs(context.Background(), q.cfg.Retention); err != nil {
				q.logger.Error("Job cleanup sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (q *Queue) stopRetryTimer(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.retryTimers[jobID]; ok {
		t.Stop()
		delete(q.retryTimers, jobID)
	}
}

func hashInput(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
