package schedule

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/docjobs/internal/job"
)

// Config holds schedule manager tuning parameters.
type Config struct {
	CleanupInterval time.Duration
	Retention       time.Duration
	StepTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 10 * time.Minute
	}
	return c
}

// Manager owns the schedule and workflow registries. Every schedule has at
// most one outstanding timer at any moment; cron schedules re-arm a fresh
// one-shot timer after each fire so a pause takes effect before the next
// fire with no race window.
type Manager struct {
	cfg    Config
	queue  Submitter
	logger *slog.Logger

	mu        sync.RWMutex
	schedules map[string]*Schedule
	cancels   map[string]func()
	workflows map[string]*Workflow

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager creates a schedule manager submitting to the given queue.
func NewManager(cfg Config, queue Submitter, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		queue:     queue,
		logger:    logger,
		schedules: make(map[string]*Schedule),
		cancels:   make(map[string]func()),
		workflows: make(map[string]*Workflow),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the periodic cleanup sweep.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.cleanupLoop()
	m.logger.Info("Schedule manager started",
		slog.Duration("cleanup_interval", m.cfg.CleanupInterval),
		slog.Duration("retention", m.cfg.Retention),
	)
}

// Stop cancels all outstanding timers and stops background loops.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})

	m.mu.Lock()
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Schedule manager stopped")
}

// ScheduleOneTime arms a single trigger at executeAt. Times in the past are
// rejected.
func (m *Manager) ScheduleOneTime(req job.Request, executeAt time.Time, timezone string) (*Schedule, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}
	executeAt = executeAt.In(loc)

	delay := time.Until(executeAt)
	if delay <= 0 {
		return nil, ErrPastExecutionTime
	}

	s := &Schedule{
		ID:        uuid.New().String(),
		Request:   req,
		Kind:      KindOneTime,
		ExecuteAt: executeAt,
		Timezone:  loc.String(),
		Status:    StatusActive,
		CreatedAt: time.Now(),
		NextRunAt: executeAt,
	}

	m.mu.Lock()
	m.schedules[s.ID] = s
	m.armTimer(s.ID, delay)
	m.mu.Unlock()

	m.logger.Info("One-time job scheduled",
		slog.String("schedule_id", s.ID),
		slog.Time("execute_at", executeAt),
	)
	return s.clone(), nil
}

// ScheduleCron arms a recurring trigger driven by a cron expression.
func (m *Manager) ScheduleCron(req job.Request, cronExpr, timezone, name string) (*Schedule, error) {
	cron, err := ParseCron(cronExpr)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if name == "" {
		name = "Scheduled-" + id[:8]
	}

	next, _ := cron.Next(time.Now().In(loc))
	s := &Schedule{
		ID:        id,
		Name:      name,
		Request:   req,
		Kind:      KindCron,
		CronExpr:  cron.String(),
		Timezone:  loc.String(),
		Status:    StatusActive,
		CreatedAt: time.Now(),
		NextRunAt: next,
	}

	m.mu.Lock()
	m.schedules[id] = s
	m.armTimer(id, time.Until(next))
	m.mu.Unlock()

	m.logger.Info("Cron job scheduled",
		slog.String("schedule_id", id),
		slog.String("cron_expression", cron.String()),
		slog.Time("next_run", next),
	)
	return s.clone(), nil
}

// ScheduleInterval arms a fixed-rate trigger firing every given number of
// minutes.
func (m *Manager) ScheduleInterval(req job.Request, minutes int, name string) (*Schedule, error) {
	if minutes <= 0 {
		return nil, ErrInvalidInterval
	}

	id := uuid.New().String()
	if name == "" {
		name = "Interval-" + id[:8]
	}

	interval := time.Duration(minutes) * time.Minute
	s := &Schedule{
		ID:        id,
		Name:      name,
		Request:   req,
		Kind:      KindInterval,
		Interval:  interval,
		Status:    StatusActive,
		CreatedAt: time.Now(),
		NextRunAt: time.Now().Add(interval),
	}

	m.mu.Lock()
	m.schedules[id] = s
	m.armTicker(id, interval)
	m.mu.Unlock()

	m.logger.Info("Interval job scheduled",
		slog.String("schedule_id", id),
		slog.Int("interval_minutes", minutes),
	)
	return s.clone(), nil
}

// Pause cancels the outstanding timer without forgetting the schedule.
func (m *Manager) Pause(scheduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID]
	if !ok || s.Status != StatusActive {
		return false
	}

	m.cancelTimerLocked(scheduleID)
	s.Status = StatusPaused
	m.logger.Info("Schedule paused",
		slog.String("schedule_id", scheduleID),
	)
	return true
}

// Resume re-arms a paused schedule according to its kind.
func (m *Manager) Resume(scheduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID]
	if !ok || s.Status != StatusPaused {
		return false
	}

	switch s.Kind {
	case KindCron:
		cron, err := ParseCron(s.CronExpr)
		if err != nil {
			return false
		}
		loc, err := loadLocation(s.Timezone)
		if err != nil {
			loc = time.Local
		}
		next, _ := cron.Next(time.Now().In(loc))
		s.NextRunAt = next
		m.armTimer(scheduleID, time.Until(next))
	case KindInterval:
		s.NextRunAt = time.Now().Add(s.Interval)
		m.armTicker(scheduleID, s.Interval)
	case KindOneTime:
		delay := time.Until(s.ExecuteAt)
		if delay <= 0 {
			s.Status = StatusFailed
			s.LastError = "scheduled time elapsed while paused"
			return false
		}
		s.NextRunAt = s.ExecuteAt
		m.armTimer(scheduleID, delay)
	}

	s.Status = StatusActive
	m.logger.Info("Schedule resumed",
		slog.String("schedule_id", scheduleID),
	)
	return true
}

// Cancel removes the schedule and its pending timer. Jobs it already
// submitted are unaffected.
func (m *Manager) Cancel(scheduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[scheduleID]; !ok {
		return false
	}

	m.cancelTimerLocked(scheduleID)
	delete(m.schedules, scheduleID)
	m.logger.Info("Schedule cancelled",
		slog.String("schedule_id", scheduleID),
	)
	return true
}

// Get returns a snapshot of the schedule.
func (m *Manager) Get(scheduleID string) (*Schedule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[scheduleID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// List returns snapshots of all schedules, newest first.
func (m *Manager) List() []*Schedule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// armTimer arms a one-shot timer for the schedule. Caller holds m.mu.
func (m *Manager) armTimer(scheduleID string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		m.fire(scheduleID)
	})
	m.cancels[scheduleID] = func() { timer.Stop() }
}

// armTicker arms a fixed-rate ticker loop for an interval schedule. Caller
// holds m.mu.
func (m *Manager) armTicker(scheduleID string, interval time.Duration) {
	done := make(chan struct{})
	var once sync.Once
	m.cancels[scheduleID] = func() {
		once.Do(func() { close(done) })
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.fire(scheduleID)
			}
		}
	}()
}

// cancelTimerLocked stops the schedule's outstanding timer, if any. Caller
// holds m.mu.
func (m *Manager) cancelTimerLocked(scheduleID string) {
	if cancel, ok := m.cancels[scheduleID]; ok {
		cancel()
		delete(m.cancels, scheduleID)
	}
}

// fire executes one trigger. A schedule that is no longer ACTIVE (lost race
// with pause or cancel) is a silent no-op.
func (m *Manager) fire(scheduleID string) {
	m.mu.Lock()
	s, ok := m.schedules[scheduleID]
	if !ok || s.Status != StatusActive {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	s.LastExecutedAt = &now
	s.ExecutionCount++
	req := s.Request
	kind := s.Kind
	m.mu.Unlock()

	submitted, err := m.queue.Submit(context.Background(), req)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check: the schedule may have been cancelled while submitting.
	s, ok = m.schedules[scheduleID]
	if !ok {
		return
	}

	if err != nil {
		s.LastError = err.Error()
		m.logger.Error("Scheduled job submission failed",
			slog.String("schedule_id", scheduleID),
			slog.String("error", err.Error()),
		)
	} else {
		s.LastJobID = submitted.ID
		s.LastError = ""
		m.logger.Info("Scheduled job fired",
			slog.String("schedule_id", scheduleID),
			slog.String("job_id", submitted.ID),
			slog.Int("execution_count", s.ExecutionCount),
		)
	}

	switch kind {
	case KindOneTime:
		s.Status = StatusCompleted
		m.cancelTimerLocked(scheduleID)
	case KindCron:
		if s.Status != StatusActive {
			return
		}
		cron, perr := ParseCron(s.CronExpr)
		if perr != nil {
			s.Status = StatusFailed
			s.LastError = perr.Error()
			return
		}
		loc, lerr := loadLocation(s.Timezone)
		if lerr != nil {
			loc = time.Local
		}
		next, _ := cron.Next(time.Now().In(loc))
		s.NextRunAt = next
		m.armTimer(scheduleID, time.Until(next))
	case KindInterval:
		s.NextRunAt = time.Now().Add(s.Interval)
	}
}

// cleanupLoop periodically drops COMPLETED schedules older than the
// retention window to bound memory.
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.cleanupCompleted()
		}
	}
}

func (m *Manager) cleanupCompleted() {
	cutoff := time.Now().Add(-m.cfg.Retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.schedules {
		if s.Status == StatusCompleted && s.CreatedAt.Before(cutoff) {
			m.cancelTimerLocked(id)
			delete(m.schedules, id)
			m.logger.Debug("Cleaned up completed schedule",
				slog.String("schedule_id", id),
			)
		}
	}
}
