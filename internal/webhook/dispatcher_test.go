package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docjobs/internal/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(Config{
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		Timeout:    2 * time.Second,
	}, testLogger())
	t.Cleanup(d.Stop)
	return d
}

// capturingServer records every request body and headers it receives.
type capturingServer struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	respCode int
}

func newCapturingServer(t *testing.T, respCode int) *capturingServer {
	t.Helper()
	cs := &capturingServer{respCode: respCode}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.bodies = append(cs.bodies, body)
		cs.headers = append(cs.headers, r.Header.Clone())
		code := cs.respCode
		cs.mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *capturingServer) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.bodies)
}

func (cs *capturingServer) request(i int) ([]byte, http.Header) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.bodies[i], cs.headers[i]
}

func TestRegister_Validation(t *testing.T) {
	d := newTestDispatcher(t)

	tests := []struct {
		name    string
		reg     *Registration
		wantErr error
	}{
		{
			name:    "missing scheme",
			reg:     &Registration{URL: "example.com/hook", Events: []job.EventType{job.EventJobCompleted}},
			wantErr: ErrInvalidURL,
		},
		{
			name:    "unsupported scheme",
			reg:     &Registration{URL: "ftp://example.com/hook", Events: []job.EventType{job.EventJobCompleted}},
			wantErr: ErrInvalidURL,
		},
		{
			name:    "no events",
			reg:     &Registration{URL: "https://example.com/hook"},
			wantErr: ErrNoEvents,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Register(tt.reg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegister_AppliesDefaults(t *testing.T) {
	d := newTestDispatcher(t)

	reg, err := d.Register(&Registration{
		URL:    "https://example.com/hook",
		Events: []job.EventType{job.EventJobCompleted},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, reg.ID)
	assert.True(t, reg.Active)
	assert.Equal(t, ContentJSON, reg.ContentType)
	assert.Equal(t, 3, reg.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, reg.RetryDelay)
	assert.Equal(t, 2*time.Second, reg.Timeout)
	assert.False(t, reg.CreatedAt.IsZero())
}

func TestTrigger_DeliversSignedPayload(t *testing.T) {
	server := newCapturingServer(t, http.StatusOK)
	d := newTestDispatcher(t)

	reg, err := d.Register(&Registration{
		URL:     server.URL,
		Events:  []job.EventType{job.EventJobCompleted},
		Secret:  "s3cret",
		Headers: map[string]string{"X-Team": "docs"},
	})
	require.NoError(t, err)

	d.Trigger(job.EventJobCompleted, "job-1", "pdf-merge", map[string]interface{}{
		"job_id": "job-1",
		"status": "COMPLETED",
	})

	require.Eventually(t, func() bool {
		return server.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	body, headers := server.request(0)

	// Envelope shape.
	var env struct {
		Event     string                 `json:"event"`
		Timestamp string                 `json:"timestamp"`
		Data      map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "JOB_COMPLETED", env.Event)
	assert.Equal(t, "job-1", env.Data["job_id"])
	_, err = time.Parse(time.RFC3339, env.Timestamp)
	assert.NoError(t, err)

	// Signature over the raw body verifies, and only for the raw body.
	sig := headers.Get("X-Webhook-Signature")
	require.NotEmpty(t, sig)
	assert.True(t, hmac.Equal([]byte(sig), []byte(Sign("s3cret", body))))
	mutated := append(append([]byte(nil), body...), ' ')
	assert.False(t, hmac.Equal([]byte(sig), []byte(Sign("s3cret", mutated))))
	assert.False(t, hmac.Equal([]byte(sig), []byte(Sign("wrong-secret", body))))

	// Delivery headers.
	assert.Equal(t, reg.ID, headers.Get("X-Webhook-Id"))
	assert.NotEmpty(t, headers.Get("X-Delivery-Id"))
	assert.Equal(t, "JOB_COMPLETED", headers.Get("X-Event-Type"))
	assert.Equal(t, "docs", headers.Get("X-Team"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))

	// Bookkeeping.
	got, err := d.Get(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalDeliveries)
	assert.Equal(t, 0, got.TotalFailures)
	assert.NotNil(t, got.LastTriggeredAt)

	history, err := d.History(reg.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, http.StatusOK, history[0].ResponseCode)
	// The history keeps the payload that was delivered.
	assert.Equal(t, map[string]interface{}{
		"job_id": "job-1",
		"status": "COMPLETED",
	}, history[0].Payload)
}

func TestTrigger_RetriesThenGivesUp(t *testing.T) {
	server := newCapturingServer(t, http.StatusInternalServerError)
	d := newTestDispatcher(t)

	reg, err := d.Register(&Registration{
		URL:    server.URL,
		Events: []job.EventType{job.EventJobFailed},
	})
	require.NoError(t, err)

	d.Trigger(job.EventJobFailed, "job-1", "pdf-merge", map[string]interface{}{"job_id": "job-1"})

	// Exactly MaxRetries attempts, then no more.
	require.Eventually(t, func() bool {
		return server.count() == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Never(t, func() bool {
		return server.count() > 3
	}, 200*time.Millisecond, 20*time.Millisecond)

	history, err := d.History(reg.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, attempt := range history {
		assert.Equal(t, i+1, attempt.AttemptNumber)
		assert.False(t, attempt.Success)
		assert.Equal(t, http.StatusInternalServerError, attempt.ResponseCode)
		assert.Equal(t, map[string]interface{}{"job_id": "job-1"}, attempt.Payload)
	}
	// All attempts share the delivery ID.
	assert.Equal(t, history[0].DeliveryID, history[2].DeliveryID)

	got, err := d.Get(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalDeliveries)
	assert.Equal(t, 3, got.TotalFailures)

	stats, err := d.Statistics(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDeliveries)
	assert.Equal(t, 3, stats.TotalFailures)
	assert.Equal(t, 0.0, stats.SuccessRate)
}

func TestTrigger_Filters(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Registration)
		event    job.EventType
		jobID    string
		toolName string
		want     bool
	}{
		{
			name:  "unsubscribed event skipped",
			event: job.EventJobCreated,
			want:  false,
		},
		{
			name:  "subscribed event delivered",
			event: job.EventJobCompleted,
			want:  true,
		},
		{
			name: "job id allow-list passes",
			mutate: func(r *Registration) {
				r.FilterJobIDs = []string{"job-1"}
			},
			event: job.EventJobCompleted,
			jobID: "job-1",
			want:  true,
		},
		{
			name: "job id allow-list blocks",
			mutate: func(r *Registration) {
				r.FilterJobIDs = []string{"job-2"}
			},
			event: job.EventJobCompleted,
			jobID: "job-1",
			want:  false,
		},
		{
			name: "tool allow-list passes",
			mutate: func(r *Registration) {
				r.FilterToolNames = []string{"pdf-merge"}
			},
			event:    job.EventJobCompleted,
			toolName: "pdf-merge",
			want:     true,
		},
		{
			name: "tool allow-list blocks",
			mutate: func(r *Registration) {
				r.FilterToolNames = []string{"pdf-split"}
			},
			event:    job.EventJobCompleted,
			toolName: "pdf-merge",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newCapturingServer(t, http.StatusOK)
			d := newTestDispatcher(t)

			reg := &Registration{
				URL:    server.URL,
				Events: []job.EventType{job.EventJobCompleted},
			}
			if tt.mutate != nil {
				tt.mutate(reg)
			}
			_, err := d.Register(reg)
			require.NoError(t, err)

			d.Trigger(tt.event, tt.jobID, tt.toolName, map[string]interface{}{"job_id": tt.jobID})

			if tt.want {
				require.Eventually(t, func() bool {
					return server.count() == 1
				}, 2*time.Second, 10*time.Millisecond)
			} else {
				assert.Never(t, func() bool {
					return server.count() > 0
				}, 150*time.Millisecond, 20*time.Millisecond)
			}
		})
	}
}

func TestSetActive(t *testing.T) {
	server := newCapturingServer(t, http.StatusOK)
	d := newTestDispatcher(t)

	reg, err := d.Register(&Registration{
		URL:    server.URL,
		Events: []job.EventType{job.EventJobCompleted},
	})
	require.NoError(t, err)

	require.NoError(t, d.SetActive(reg.ID, false))
	d.Trigger(job.EventJobCompleted, "job-1", "pdf-merge", nil)
	assert.Never(t, func() bool {
		return server.count() > 0
	}, 150*time.Millisecond, 20*time.Millisecond)

	require.NoError(t, d.SetActive(reg.ID, true))
	d.Trigger(job.EventJobCompleted, "job-1", "pdf-merge", nil)
	require.Eventually(t, func() bool {
		return server.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, d.SetActive("no-such-webhook", true), ErrWebhookNotFound)
}

func TestUnregister(t *testing.T) {
	d := newTestDispatcher(t)

	reg, err := d.Register(&Registration{
		URL:    "https://example.com/hook",
		Events: []job.EventType{job.EventJobCompleted},
	})
	require.NoError(t, err)

	assert.True(t, d.Unregister(reg.ID))
	assert.False(t, d.Unregister(reg.ID))

	_, err = d.Get(reg.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)

	_, err = d.History(reg.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestHistoryRing_Bounded(t *testing.T) {
	d := newTestDispatcher(t)

	reg, err := d.Register(&Registration{
		URL:    "https://example.com/hook",
		Events: []job.EventType{job.EventJobCompleted},
	})
	require.NoError(t, err)

	for i := 0; i < historySize+5; i++ {
		d.record(reg.ID, DeliveryAttempt{AttemptNumber: i, Success: true})
	}

	history, err := d.History(reg.ID)
	require.NoError(t, err)
	assert.Len(t, history, historySize)
	// Oldest entries fell off the front.
	assert.Equal(t, 5, history[0].AttemptNumber)
	assert.Equal(t, historySize+4, history[historySize-1].AttemptNumber)
}

func TestEncodeBody(t *testing.T) {
	env := envelope{
		Event:     job.EventJobCompleted,
		Timestamp: "2026-09-01T10:00:00Z",
		Data:      map[string]interface{}{"job_id": "job-1", "note": "a<b"},
	}

	t.Run("json", func(t *testing.T) {
		body, ct, err := encodeBody(ContentJSON, env)
		require.NoError(t, err)
		assert.Equal(t, "application/json", ct)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Equal(t, "JOB_COMPLETED", decoded["event"])
	})

	t.Run("form", func(t *testing.T) {
		body, ct, err := encodeBody(ContentForm, env)
		require.NoError(t, err)
		assert.Equal(t, "application/x-www-form-urlencoded", ct)
		assert.Contains(t, string(body), "event=JOB_COMPLETED")
		assert.Contains(t, string(body), "job_id=job-1")
	})

	t.Run("xml", func(t *testing.T) {
		body, ct, err := encodeBody(ContentXML, env)
		require.NoError(t, err)
		assert.Equal(t, "application/xml", ct)
		assert.Contains(t, string(body), "<event>JOB_COMPLETED</event>")
		assert.Contains(t, string(body), "<job_id>job-1</job_id>")
		// Markup in values is escaped.
		assert.Contains(t, string(body), "a&lt;b")
	})
}

func TestNotifier_JobStatusChanged(t *testing.T) {
	server := newCapturingServer(t, http.StatusOK)
	d := newTestDispatcher(t)

	_, err := d.Register(&Registration{
		URL:    server.URL,
		Events: []job.EventType{job.EventJobCompleted},
	})
	require.NoError(t, err)

	d.JobStatusChanged(&job.Job{
		ID:        "job-1",
		ToolName:  "pdf-merge",
		Status:    job.StatusCompleted,
		Progress:  100,
		ResultURL: "/results/out.pdf",
	})

	require.Eventually(t, func() bool {
		return server.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	body, _ := server.request(0)
	var env struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "JOB_COMPLETED", env.Event)
	assert.Equal(t, "job-1", env.Data["job_id"])
	assert.Equal(t, "pdf-merge", env.Data["tool_name"])
	assert.Equal(t, "COMPLETED", env.Data["status"])
	assert.Equal(t, float64(100), env.Data["progress"])
	assert.Equal(t, "/results/out.pdf", env.Data["result_url"])
}

func TestNotifier_JobProgress(t *testing.T) {
	server := newCapturingServer(t, http.StatusOK)
	d := newTestDispatcher(t)

	_, err := d.Register(&Registration{
		URL:    server.URL,
		Events: []job.EventType{job.EventJobProgress},
	})
	require.NoError(t, err)

	d.JobProgress("job-1", "pdf-merge", 42, "Rendering pages")

	require.Eventually(t, func() bool {
		return server.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	body, headers := server.request(0)
	assert.Equal(t, "JOB_PROGRESS", headers.Get("X-Event-Type"))

	var env struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, float64(42), env.Data["progress"])
	assert.Equal(t, "Rendering pages", env.Data["current_operation"])
}
