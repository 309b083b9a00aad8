package schedule

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/docjobs/internal/job"
)

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowCreated   WorkflowStatus = "CREATED"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowPartial   WorkflowStatus = "PARTIAL"
	WorkflowFailed    WorkflowStatus = "FAILED"
)

// StepResult records the outcome of one workflow step.
type StepResult struct {
	Step     int        `json:"step"`
	ToolName string     `json:"tool_name"`
	JobID    string     `json:"job_id,omitempty"`
	Status   job.Status `json:"status,omitempty"`
	Success  bool       `json:"success"`
	Error    string     `json:"error,omitempty"`
}

// Workflow is an ordered chain of job requests executed as one logical unit.
type Workflow struct {
	ID              string         `json:"workflow_id"`
	Name            string         `json:"name"`
	Steps           []job.Request  `json:"steps"`
	ContinueOnError bool           `json:"continue_on_error"`
	Status          WorkflowStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Duration        time.Duration  `json:"duration,omitempty"`
	Results         []StepResult   `json:"results,omitempty"`
}

func (w *Workflow) clone() *Workflow {
	c := *w
	c.Steps = append([]job.Request(nil), w.Steps...)
	c.Results = append([]StepResult(nil), w.Results...)
	if w.StartedAt != nil {
		t := *w.StartedAt
		c.StartedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// CreateWorkflow registers a workflow without executing it.
func (m *Manager) CreateWorkflow(name string, steps []job.Request, continueOnError bool) (*Workflow, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	w := &Workflow{
		ID:              uuid.New().String(),
		Name:            name,
		Steps:           append([]job.Request(nil), steps...),
		ContinueOnError: continueOnError,
		Status:          WorkflowCreated,
		CreatedAt:       time.Now(),
	}

	m.mu.Lock()
	m.workflows[w.ID] = w
	m.mu.Unlock()

	m.logger.Info("Workflow created",
		slog.String("workflow_id", w.ID),
		slog.String("name", name),
		slog.Int("steps", len(steps)),
	)
	return w.clone(), nil
}

// GetWorkflow returns a snapshot of the workflow.
func (m *Manager) GetWorkflow(workflowID string) (*Workflow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workflows[workflowID]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// ListWorkflows returns snapshots of all workflows, newest first.
func (m *Manager) ListWorkflows() []*Workflow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		out = append(out, w.clone())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// ExecuteWorkflow runs the workflow's steps strictly in order, waiting for
// each job to reach a terminal state before starting the next. A failed
// step halts the workflow unless ContinueOnError is set.
func (m *Manager) ExecuteWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	m.mu.Lock()
	w, ok := m.workflows[workflowID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrWorkflowNotFound
	}

	started := time.Now()
	w.Status = WorkflowRunning
	w.StartedAt = &started
	w.Results = nil
	steps := append([]job.Request(nil), w.Steps...)
	continueOnError := w.ContinueOnError
	m.mu.Unlock()

	m.logger.Info("Workflow started",
		slog.String("workflow_id", workflowID),
		slog.Int("steps", len(steps)),
	)

	var results []StepResult
	succeeded, failed := 0, 0

	for i, step := range steps {
		res := m.runStep(ctx, workflowID, i, step)
		results = append(results, res)

		if res.Success {
			succeeded++
			continue
		}
		failed++
		if !continueOnError {
			break
		}
	}

	status := WorkflowCompleted
	switch {
	case failed == 0:
		status = WorkflowCompleted
	case continueOnError && succeeded > 0:
		status = WorkflowPartial
	default:
		status = WorkflowFailed
	}

	completed := time.Now()

	m.mu.Lock()
	w.Status = status
	w.Results = results
	w.CompletedAt = &completed
	w.Duration = completed.Sub(started)
	snapshot := w.clone()
	m.mu.Unlock()

	m.logger.Info("Workflow finished",
		slog.String("workflow_id", workflowID),
		slog.String("status", string(status)),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Duration("duration", snapshot.Duration),
	)
	return snapshot, nil
}

func (m *Manager) runStep(ctx context.Context, workflowID string, index int, step job.Request) StepResult {
	res := StepResult{
		Step:     index + 1,
		ToolName: step.ToolName,
	}

	m.logger.Info("Workflow executing step",
		slog.String("workflow_id", workflowID),
		slog.Int("step", index+1),
		slog.String("tool_name", step.ToolName),
	)

	submitted, err := m.queue.Submit(ctx, step)
	if err != nil {
		res.Error = err.Error()
		m.logger.Error("Workflow step submission failed",
			slog.String("workflow_id", workflowID),
			slog.Int("step", index+1),
			slog.String("error", err.Error()),
		)
		return res
	}
	res.JobID = submitted.ID

	ok, err := m.queue.WaitForCompletion(ctx, submitted.ID, m.cfg.StepTimeout)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	final, err := m.queue.Status(ctx, submitted.ID)
	if err == nil {
		res.Status = final.Status
		res.Error = final.ErrorMessage
	}
	res.Success = ok

	if !ok && res.Error == "" {
		res.Error = "step did not complete within timeout"
	}
	return res
}
