// Package worker defines the collaborator that performs the actual
// document transformation for a job. The orchestration core treats it as an
// opaque, synchronous call per attempt.
package worker

import "context"

// Result describes the outcome of a successful tool run.
type Result struct {
	// ResultURL is the handle callers use to fetch the produced artifact.
	ResultURL string
	// Output carries tool-specific metadata about the run.
	Output map[string]interface{}
}

// ProgressFunc lets a running tool push progress updates (0-100 plus a short
// operation label) back into the job record.
type ProgressFunc func(progress int, operation string)

// Worker executes one transformation attempt for a job.
type Worker interface {
	Process(ctx context.Context, toolName, inputPath string, params map[string]interface{}, report ProgressFunc) (*Result, error)
}
