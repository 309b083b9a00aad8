package webhook

import (
	"github.com/cuongbtq/docjobs/internal/job"
)

// JobStatusChanged translates a job state transition into its lifecycle
// event and fans it out. It satisfies the queue's Notifier interface.
func (d *Dispatcher) JobStatusChanged(j *job.Job) {
	event, ok := job.EventForStatus(j.Status)
	if !ok {
		return
	}

	data := map[string]interface{}{
		"job_id":    j.ID,
		"tool_name": j.ToolName,
		"status":    string(j.Status),
		"progress":  j.Progress,
	}
	if j.CurrentOperation != "" {
		data["current_operation"] = j.CurrentOperation
	}
	if j.ResultURL != "" {
		data["result_url"] = j.ResultURL
	}
	if j.ErrorMessage != "" {
		data["error"] = j.ErrorMessage
	}

	d.Trigger(event, j.ID, j.ToolName, data)
}

// JobProgress fans out a JOB_PROGRESS event.
func (d *Dispatcher) JobProgress(jobID, toolName string, progress int, operation string) {
	data := map[string]interface{}{
		"job_id":    jobID,
		"tool_name": toolName,
		"status":    string(job.StatusProcessing),
		"progress":  progress,
	}
	if operation != "" {
		data["current_operation"] = operation
	}

	d.Trigger(job.EventJobProgress, jobID, toolName, data)
}
