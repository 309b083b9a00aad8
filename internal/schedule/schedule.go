// Package schedule manages one-time, cron and fixed-interval triggers that
// submit jobs to the queue, plus multi-step workflows.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/docjobs/internal/job"
)

// Kind distinguishes the trigger types.
type Kind string

const (
	KindOneTime  Kind = "ONE_TIME"
	KindCron     Kind = "CRON"
	KindInterval Kind = "INTERVAL"
)

// Status is the lifecycle state of a schedule.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var (
	// ErrScheduleNotFound is returned for unknown schedule IDs
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrWorkflowNotFound is returned for unknown workflow IDs
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrPastExecutionTime rejects one-time schedules in the past
	ErrPastExecutionTime = errors.New("scheduled time must be in the future")

	// ErrInvalidInterval rejects non-positive interval schedules
	ErrInvalidInterval = errors.New("interval must be at least one minute")

	// ErrNoSteps rejects workflows without steps
	ErrNoSteps = errors.New("workflow needs at least one step")
)

// Schedule is a recurring or deferred trigger that produces job submissions.
type Schedule struct {
	ID             string        `json:"schedule_id"`
	Name           string        `json:"name,omitempty"`
	Request        job.Request   `json:"request"`
	Kind           Kind          `json:"kind"`
	CronExpr       string        `json:"cron_expression,omitempty"`
	Interval       time.Duration `json:"interval,omitempty"`
	ExecuteAt      time.Time     `json:"execute_at,omitempty"`
	Timezone       string        `json:"timezone,omitempty"`
	Status         Status        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	NextRunAt      time.Time     `json:"next_run_at,omitempty"`
	LastExecutedAt *time.Time    `json:"last_executed_at,omitempty"`
	ExecutionCount int           `json:"execution_count"`
	LastJobID      string        `json:"last_job_id,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

func (s *Schedule) clone() *Schedule {
	c := *s
	if s.LastExecutedAt != nil {
		t := *s.LastExecutedAt
		c.LastExecutedAt = &t
	}
	return &c
}

// Submitter is the slice of the job queue the schedule manager depends on.
type Submitter interface {
	Submit(ctx context.Context, req job.Request) (*job.Job, error)
	Status(ctx context.Context, jobID string) (*job.Job, error)
	WaitForCompletion(ctx context.Context, jobID string, timeout time.Duration) (bool, error)
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(timezone)
}
