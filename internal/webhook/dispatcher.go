package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/docjobs/internal/job"
)

// Config holds dispatcher-wide defaults applied to registrations that do
// not set their own values.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// envelope is the wire format posted to subscribers.
type envelope struct {
	Event     job.EventType          `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Dispatcher fans job lifecycle events out to registered webhooks.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu       sync.RWMutex
	webhooks map[string]*Registration
	history  map[string][]DeliveryAttempt
	timers   map[string]map[string]*time.Timer
	stopped  bool

	wg sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:   logger,
		webhooks: make(map[string]*Registration),
		history:  make(map[string][]DeliveryAttempt),
		timers:   make(map[string]map[string]*time.Timer),
	}
}

// Stop cancels pending retry timers and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, byDelivery := range d.timers {
		for _, t := range byDelivery {
			t.Stop()
		}
	}
	d.timers = make(map[string]map[string]*time.Timer)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Webhook dispatcher stopped")
}

// Register validates and stores a new webhook subscription.
func (d *Dispatcher) Register(reg *Registration) (*Registration, error) {
	parsed, err := url.Parse(reg.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, ErrInvalidURL
	}
	if len(reg.Events) == 0 {
		return nil, ErrNoEvents
	}

	stored := reg.clone()
	stored.ID = uuid.New().String()
	stored.Active = true
	stored.CreatedAt = time.Now()
	stored.LastTriggeredAt = nil
	stored.TotalDeliveries = 0
	stored.TotalFailures = 0
	if stored.ContentType == "" {
		stored.ContentType = ContentJSON
	}
	if stored.MaxRetries <= 0 {
		stored.MaxRetries = d.cfg.MaxRetries
	}
	if stored.RetryDelay <= 0 {
		stored.RetryDelay = d.cfg.RetryDelay
	}
	if stored.Timeout <= 0 {
		stored.Timeout = d.cfg.Timeout
	}

	d.mu.Lock()
	d.webhooks[stored.ID] = stored
	d.mu.Unlock()

	d.logger.Info("Webhook registered",
		slog.String("webhook_id", stored.ID),
		slog.String("url", stored.URL),
		slog.Int("events", len(stored.Events)),
	)
	return stored.clone(), nil
}

// Unregister removes a webhook and cancels its pending retries.
func (d *Dispatcher) Unregister(webhookID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.webhooks[webhookID]; !ok {
		return false
	}
	delete(d.webhooks, webhookID)
	delete(d.history, webhookID)
	for _, t := range d.timers[webhookID] {
		t.Stop()
	}
	delete(d.timers, webhookID)

	d.logger.Info("Webhook unregistered",
		slog.String("webhook_id", webhookID),
	)
	return true
}

// Get returns a snapshot of one registration.
func (d *Dispatcher) Get(webhookID string) (*Registration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	reg, ok := d.webhooks[webhookID]
	if !ok {
		return nil, ErrWebhookNotFound
	}
	return reg.clone(), nil
}

// List returns snapshots of all registrations, newest first.
func (d *Dispatcher) List() []*Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Registration, 0, len(d.webhooks))
	for _, reg := range d.webhooks {
		out = append(out, reg.clone())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// SetActive toggles delivery for a registration without losing its history.
func (d *Dispatcher) SetActive(webhookID string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg, ok := d.webhooks[webhookID]
	if !ok {
		return ErrWebhookNotFound
	}
	reg.Active = active
	return nil
}

// Stats summarizes a registration's cumulative delivery outcomes.
type Stats struct {
	TotalDeliveries int        `json:"total_deliveries"`
	TotalFailures   int        `json:"total_failures"`
	SuccessRate     float64    `json:"success_rate"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// Statistics returns cumulative delivery counters and the success rate for
// one registration.
func (d *Dispatcher) Statistics(webhookID string) (*Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	reg, ok := d.webhooks[webhookID]
	if !ok {
		return nil, ErrWebhookNotFound
	}

	st := &Stats{
		TotalDeliveries: reg.TotalDeliveries,
		TotalFailures:   reg.TotalFailures,
	}
	if reg.TotalDeliveries > 0 {
		st.SuccessRate = float64(reg.TotalDeliveries-reg.TotalFailures) / float64(reg.TotalDeliveries)
	}
	if reg.LastTriggeredAt != nil {
		t := *reg.LastTriggeredAt
		st.LastTriggeredAt = &t
	}
	return st, nil
}

// History returns the recorded delivery attempts for a webhook, most
// recent last. At most the latest 100 attempts are kept.
func (d *Dispatcher) History(webhookID string) ([]DeliveryAttempt, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.webhooks[webhookID]; !ok {
		return nil, ErrWebhookNotFound
	}
	return append([]DeliveryAttempt(nil), d.history[webhookID]...), nil
}

// Trigger fans the event out to every active registration that subscribes
// to it and passes its filters. Delivery happens asynchronously.
func (d *Dispatcher) Trigger(event job.EventType, jobID, toolName string, data map[string]interface{}) {
	now := time.Now()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	var targets []*Registration
	for _, reg := range d.webhooks {
		if !reg.Active || !reg.subscribesTo(event) || !reg.allows(jobID, toolName) {
			continue
		}
		reg.LastTriggeredAt = &now
		targets = append(targets, reg.clone())
	}
	d.mu.Unlock()

	for _, reg := range targets {
		deliveryID := uuid.New().String()
		d.wg.Add(1)
		go d.attempt(reg, deliveryID, event, data, 1)
	}
}

// attempt performs one delivery try and arms the next retry on failure.
func (d *Dispatcher) attempt(reg *Registration, deliveryID string, event job.EventType, data map[string]interface{}, attemptNumber int) {
	defer d.wg.Done()

	env := envelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	record := DeliveryAttempt{
		DeliveryID:    deliveryID,
		Event:         event,
		AttemptNumber: attemptNumber,
		Timestamp:     time.Now(),
		Payload:       data,
	}

	start := time.Now()
	code, body, err := d.post(reg, deliveryID, event, env)
	record.Latency = time.Since(start)
	record.ResponseCode = code
	record.ResponseBody = body

	success := err == nil && code >= 200 && code < 300
	record.Success = success
	if err != nil {
		record.Error = err.Error()
	} else if !success {
		record.Error = fmt.Sprintf("endpoint returned status %d", code)
	}

	d.record(reg.ID, record)

	if success {
		d.logger.Debug("Webhook delivered",
			slog.String("webhook_id", reg.ID),
			slog.String("delivery_id", deliveryID),
			slog.String("event", string(event)),
			slog.Int("attempt", attemptNumber),
		)
		return
	}

	d.logger.Warn("Webhook delivery failed",
		slog.String("webhook_id", reg.ID),
		slog.String("delivery_id", deliveryID),
		slog.String("event", string(event)),
		slog.Int("attempt", attemptNumber),
		slog.String("error", record.Error),
	)

	if attemptNumber >= reg.MaxRetries {
		return
	}

	// Linear backoff: delay grows with the attempt number.
	delay := reg.RetryDelay * time.Duration(attemptNumber)
	d.armRetry(reg, deliveryID, event, data, attemptNumber+1, delay)
}

func (d *Dispatcher) armRetry(reg *Registration, deliveryID string, event job.EventType, data map[string]interface{}, nextAttempt int, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, ok := d.webhooks[reg.ID]; !ok {
		return
	}

	timer := time.AfterFunc(delay, func() {
		d.mu.Lock()
		if byDelivery, ok := d.timers[reg.ID]; ok {
			delete(byDelivery, deliveryID)
		}
		if d.stopped {
			d.mu.Unlock()
			return
		}
		if _, ok := d.webhooks[reg.ID]; !ok {
			d.mu.Unlock()
			return
		}
		d.wg.Add(1)
		d.mu.Unlock()

		d.attempt(reg, deliveryID, event, data, nextAttempt)
	})

	if d.timers[reg.ID] == nil {
		d.timers[reg.ID] = make(map[string]*time.Timer)
	}
	d.timers[reg.ID][deliveryID] = timer
}

func (d *Dispatcher) post(reg *Registration, deliveryID string, event job.EventType, env envelope) (int, string, error) {
	body, contentType, err := encodeBody(reg.ContentType, env)
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), reg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Webhook-Id", reg.ID)
	req.Header.Set("X-Delivery-Id", deliveryID)
	req.Header.Set("X-Event-Type", string(event))
	if reg.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(reg.Secret, body))
	}
	for k, v := range reg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	captured, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
	return resp.StatusCode, string(captured), nil
}

func (d *Dispatcher) record(webhookID string, attempt DeliveryAttempt) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg, ok := d.webhooks[webhookID]
	if !ok {
		return
	}
	reg.TotalDeliveries++
	if !attempt.Success {
		reg.TotalFailures++
	}

	log := append(d.history[webhookID], attempt)
	if len(log) > historySize {
		log = log[len(log)-historySize:]
	}
	d.history[webhookID] = log
}

// Sign computes the delivery signature over the raw request body:
// "sha256=" followed by hex-encoded HMAC-SHA256.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func encodeBody(ct ContentType, env envelope) ([]byte, string, error) {
	switch ct {
	case ContentForm:
		values := url.Values{}
		values.Set("event", string(env.Event))
		values.Set("timestamp", env.Timestamp)
		for k, v := range env.Data {
			values.Set(k, fmt.Sprintf("%v", v))
		}
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	case ContentXML:
		return encodeXML(env), "application/xml", nil
	default:
		body, err := json.Marshal(env)
		return body, "application/json", err
	}
}

func encodeXML(env envelope) []byte {
	var b strings.Builder
	b.WriteString("<webhook>")
	b.WriteString("<event>" + xmlEscape(string(env.Event)) + "</event>")
	b.WriteString("<timestamp>" + xmlEscape(env.Timestamp) + "</timestamp>")
	b.WriteString("<data>")
	keys := make([]string, 0, len(env.Data))
	for k := range env.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tag := xmlEscape(k)
		b.WriteString("<" + tag + ">" + xmlEscape(fmt.Sprintf("%v", env.Data[k])) + "</" + tag + ">")
	}
	b.WriteString("</data>")
	b.WriteString("</webhook>")
	return []byte(b.String())
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
