// Package webhook delivers signed job lifecycle events to subscriber URLs
// with linear-backoff retries and a bounded delivery history.
package webhook

import (
	"errors"
	"time"

	"github.com/cuongbtq/docjobs/internal/job"
)

// ContentType selects the encoding of the delivery body.
type ContentType string

const (
	ContentJSON ContentType = "JSON"
	ContentForm ContentType = "FORM"
	ContentXML  ContentType = "XML"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 5 * time.Second
	defaultTimeout    = 10 * time.Second

	// historySize bounds the per-registration delivery log.
	historySize = 100

	// maxBodyCapture caps how much of a subscriber response is retained.
	maxBodyCapture = 1000
)

var (
	// ErrWebhookNotFound is returned for unknown webhook IDs
	ErrWebhookNotFound = errors.New("webhook not found")

	// ErrInvalidURL rejects registrations without a usable endpoint
	ErrInvalidURL = errors.New("webhook url must be a valid http or https address")

	// ErrNoEvents rejects registrations that subscribe to nothing
	ErrNoEvents = errors.New("webhook must subscribe to at least one event")
)

// Registration describes one webhook subscriber.
type Registration struct {
	ID          string            `json:"webhook_id"`
	URL         string            `json:"url"`
	Events      []job.EventType   `json:"events"`
	Secret      string            `json:"-"`
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType ContentType       `json:"content_type"`
	Active      bool              `json:"active"`
	MaxRetries  int               `json:"max_retries"`
	RetryDelay  time.Duration     `json:"retry_delay"`
	Timeout     time.Duration     `json:"timeout"`
	Description string            `json:"description,omitempty"`

	// Allow-lists; empty means no filtering on that dimension.
	FilterJobIDs    []string `json:"filter_job_ids,omitempty"`
	FilterToolNames []string `json:"filter_tool_names,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TotalDeliveries int        `json:"total_deliveries"`
	TotalFailures   int        `json:"total_failures"`
}

func (r *Registration) clone() *Registration {
	c := *r
	c.Events = append([]job.EventType(nil), r.Events...)
	c.FilterJobIDs = append([]string(nil), r.FilterJobIDs...)
	c.FilterToolNames = append([]string(nil), r.FilterToolNames...)
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	if r.LastTriggeredAt != nil {
		t := *r.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	return &c
}

func (r *Registration) subscribesTo(event job.EventType) bool {
	for _, e := range r.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (r *Registration) allows(jobID, toolName string) bool {
	if len(r.FilterJobIDs) > 0 && !contains(r.FilterJobIDs, jobID) {
		return false
	}
	if len(r.FilterToolNames) > 0 && !contains(r.FilterToolNames, toolName) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// DeliveryAttempt records one HTTP delivery try, including the payload that
// was sent so the history can show exactly what a subscriber received.
type DeliveryAttempt struct {
	DeliveryID    string                 `json:"delivery_id"`
	Event         job.EventType          `json:"event"`
	AttemptNumber int                    `json:"attempt_number"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Success       bool                   `json:"success"`
	ResponseCode  int                    `json:"response_code,omitempty"`
	ResponseBody  string                 `json:"response_body,omitempty"`
	Latency       time.Duration          `json:"latency"`
	Error         string                 `json:"error,omitempty"`
}
