package job

import "time"

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal statuses are
// immutable once set.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Cancellable reports whether a job in this status may still be cancelled.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// Request describes a unit of work to submit: which tool to run, on which
// input, with which parameters.
type Request struct {
	ToolName   string                 `json:"tool_name" yaml:"tool_name"`
	InputPath  string                 `json:"input_path" yaml:"input_path"`
	FileName   string                 `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Job is one asynchronous unit of work tracked by the queue.
type Job struct {
	ID               string                 `json:"job_id" db:"job_id"`
	ToolName         string                 `json:"tool_name" db:"tool_name"`
	FileName         string                 `json:"file_name,omitempty" db:"file_name"`
	FileSize         int64                  `json:"file_size,omitempty" db:"file_size"`
	InputPath        string                 `json:"input_path,omitempty" db:"input_path"`
	Parameters       map[string]interface{} `json:"parameters,omitempty" db:"-"`
	Status           Status                 `json:"status" db:"status"`
	Progress         int                    `json:"progress" db:"progress"`
	CurrentOperation string                 `json:"current_operation,omitempty" db:"current_operation"`
	ResultURL        string                 `json:"result_url,omitempty" db:"result_url"`
	ErrorMessage     string                 `json:"error_message,omitempty" db:"error_message"`
	DedupHash        string                 `json:"dedup_hash,omitempty" db:"dedup_hash"`
	Attempts         int                    `json:"attempts" db:"attempts"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	StartedAt        *time.Time             `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	ProcessingTime   time.Duration          `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the stored row to concurrent mutation.
func (j *Job) Clone() *Job {
	c := *j
	if j.Parameters != nil {
		c.Parameters = make(map[string]interface{}, len(j.Parameters))
		for k, v := range j.Parameters {
			c.Parameters[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
