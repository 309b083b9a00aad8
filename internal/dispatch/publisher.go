// Package dispatch routes job IDs over RabbitMQ so execution can run in a
// separate process from submission. It is an optional transport; without it
// the queue executes jobs in-process.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/docjobs/shared/rabbitmq"
)

// message is the wire format carried on the job exchange.
type message struct {
	JobID string `json:"job_id"`
}

// Publisher sends job IDs to the execution queue. It satisfies the job
// queue's Dispatcher interface.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher on top of an established client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// Dispatch publishes the job ID for asynchronous execution.
func (p *Publisher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(message{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to dispatch job %s: %w", jobID, err)
	}

	p.logger.Debug("Job dispatched",
		slog.String("job_id", jobID),
	)
	return nil
}
