package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/docjobs/shared/rabbitmq"
)

// Enqueuer is the slice of the job queue the consumer feeds.
type Enqueuer interface {
	Enqueue(jobID string) error
}

// Consumer reads dispatched job IDs off RabbitMQ and hands them to the
// local worker pool.
type Consumer struct {
	client   *rabbitmq.Client
	queue    Enqueuer
	logger   *slog.Logger
	prefetch int

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a consumer. prefetch bounds unacknowledged deliveries.
func NewConsumer(client *rabbitmq.Client, queue Enqueuer, prefetch int, logger *slog.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{
		client:   client,
		queue:    queue,
		logger:   logger,
		prefetch: prefetch,
		stopChan: make(chan struct{}),
	}
}

// Start begins consuming. It returns once the consumer goroutine is running.
func (c *Consumer) Start(consumerTag string) error {
	if err := c.client.GetChannel().Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := c.client.Consume(consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.wg.Add(1)
	go c.loop(deliveries)
	return nil
}

// Stop signals the consumer loop and waits for it to drain.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	c.logger.Info("Dispatch consumer stopped")
}

func (c *Consumer) loop(deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Dispatch delivery channel closed")
				return
			}
			c.handle(delivery)
		}
	}
}

func (c *Consumer) handle(delivery amqp.Delivery) {
	var msg message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse dispatch message, discarding",
			slog.String("error", err.Error()),
		)
		delivery.Nack(false, false)
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		c.logger.Error("Dispatch message carries invalid job ID, discarding",
			slog.String("job_id", msg.JobID),
		)
		delivery.Nack(false, false)
		return
	}

	if err := c.queue.Enqueue(msg.JobID); err != nil {
		// The local pool is stopping or full; requeue for another consumer.
		c.logger.Warn("Failed to enqueue dispatched job, requeueing",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		delivery.Nack(false, true)
		return
	}

	delivery.Ack(false)
	c.logger.Debug("Dispatched job accepted",
		slog.String("job_id", msg.JobID),
	)
}
