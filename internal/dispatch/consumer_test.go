package dispatch

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEnqueuer struct {
	enqueued []string
	err      error
}

func (f *fakeEnqueuer) Enqueue(jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

// fakeAck records the acknowledgement outcome of one delivery.
type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func TestConsumer_Handle(t *testing.T) {
	validID := uuid.New().String()

	tests := []struct {
		name         string
		body         string
		enqueueErr   error
		wantEnqueued bool
		wantAck      bool
		wantRequeue  bool
	}{
		{
			name:         "valid message enqueued and acked",
			body:         `{"job_id": "` + validID + `"}`,
			wantEnqueued: true,
			wantAck:      true,
		},
		{
			name: "malformed json discarded",
			body: `{not json`,
		},
		{
			name: "invalid job id discarded",
			body: `{"job_id": "not-a-uuid"}`,
		},
		{
			name:        "enqueue failure requeued",
			body:        `{"job_id": "` + validID + `"}`,
			enqueueErr:  errors.New("queue stopped"),
			wantRequeue: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enq := &fakeEnqueuer{err: tt.enqueueErr}
			c := NewConsumer(nil, enq, 1, testLogger())

			ack := &fakeAck{}
			c.handle(amqp.Delivery{
				Acknowledger: ack,
				Body:         []byte(tt.body),
			})

			if tt.wantEnqueued {
				assert.Equal(t, []string{validID}, enq.enqueued)
			} else {
				assert.Empty(t, enq.enqueued)
			}
			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, !tt.wantAck, ack.nacked)
			assert.Equal(t, tt.wantRequeue, ack.requeue)
		})
	}
}
