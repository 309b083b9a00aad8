package job

// EventType identifies a lifecycle event pushed to webhook subscribers.
type EventType string

const (
	EventJobCreated   EventType = "JOB_CREATED"
	EventJobStarted   EventType = "JOB_STARTED"
	EventJobProgress  EventType = "JOB_PROGRESS"
	EventJobCompleted EventType = "JOB_COMPLETED"
	EventJobFailed    EventType = "JOB_FAILED"
	EventJobCancelled EventType = "JOB_CANCELLED"
)

// EventForStatus maps a job status to the lifecycle event it raises.
func EventForStatus(s Status) (EventType, bool) {
	switch s {
	case StatusPending:
		return EventJobCreated, true
	case StatusProcessing:
		return EventJobStarted, true
	case StatusCompleted:
		return EventJobCompleted, true
	case StatusFailed:
		return EventJobFailed, true
	case StatusCancelled:
		return EventJobCancelled, true
	default:
		return "", false
	}
}
