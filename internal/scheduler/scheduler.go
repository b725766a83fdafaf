// Package scheduler runs named recurring tasks on independent cadences.
// Generalized from a single hardcoded periodic-run loop into a registry:
// each task gets its own clock-driven timer goroutine, runs handlers
// sequentially (a tardy handler postpones its own next tick, it never
// re-enters concurrently), and recovers from handler panics without
// stopping the task.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/metrics"
	"github.com/rs/zerolog"
)

// Handler is the work a task performs on each tick.
type Handler func(ctx context.Context) error

// Clock abstracts time so tests can control tick timing deterministically.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer abstracts time.Timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// taskSpec is the runtime state for one registered task.
type taskSpec struct {
	id      string
	label   string
	handler Handler

	mu              sync.Mutex
	interval        time.Duration
	currentInterval time.Duration
	maxInterval     time.Duration
	jitter          time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler is a single-process, non-persisted registry of recurring tasks.
// Re-registration on startup is the owner's responsibility.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*taskSpec
	clock  Clock
	logger zerolog.Logger
}

// New creates a Scheduler using the real wall clock.
func New() *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*taskSpec),
		clock:  RealClock{},
		logger: log.WithComponent("scheduler"),
	}
}

// NewWithClock creates a Scheduler driven by a custom Clock, for tests.
func NewWithClock(clock Clock) *Scheduler {
	s := New()
	s.clock = clock
	return s
}

// Register adds a task with the given id, human-readable label, and initial
// interval, and starts its loop immediately. Registering an id that already
// exists replaces it (the old loop is stopped first).
func (s *Scheduler) Register(ctx context.Context, id, label string, interval time.Duration, handler Handler) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: register %q: interval must be positive", id)
	}

	s.mu.Lock()
	if existing, ok := s.tasks[id]; ok {
		s.mu.Unlock()
		s.stopTask(existing)
		s.mu.Lock()
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &taskSpec{
		id:          id,
		label:       label,
		handler:     handler,
		interval:    interval,
		maxInterval: interval * 8,
		jitter:      interval / 10,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.tasks[id] = t
	s.mu.Unlock()

	go s.loop(taskCtx, t)
	return nil
}

// Unregister stops and removes a task. It is a no-op if id is unknown.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if ok {
		s.stopTask(t)
	}
}

// UpdateInterval changes the base interval of a running task; it takes
// effect on the task's next scheduled tick.
func (s *Scheduler) UpdateInterval(id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: update %q: interval must be positive", id)
	}
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown task %q", id)
	}
	t.mu.Lock()
	t.interval = interval
	t.currentInterval = 0
	t.mu.Unlock()
	return nil
}

func (s *Scheduler) stopTask(t *taskSpec) {
	t.cancel()
	<-t.done
}

func (s *Scheduler) loop(ctx context.Context, t *taskSpec) {
	defer close(t.done)

	logger := s.logger.With().Str("task_id", t.id).Str("label", t.label).Logger()
	logger.Info().Msg("scheduler task started")

	timer := s.clock.NewTimer(t.nextDuration())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler task stopping")
			return
		case <-timer.C():
			s.runOnce(ctx, t, logger)
			timer.Reset(t.nextDuration())
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *taskSpec, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("scheduler task handler panicked")
			metrics.RecordSchedulerTaskRun(t.id, "panic")
			t.increaseBackoff()
		}
	}()

	if err := t.handler(ctx); err != nil {
		logger.Error().Err(err).Msg("scheduler task handler failed, backing off")
		metrics.RecordSchedulerTaskRun(t.id, "error")
		t.increaseBackoff()
		return
	}
	metrics.RecordSchedulerTaskRun(t.id, "ok")
	t.resetBackoff()
}

func (t *taskSpec) nextDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	interval := t.currentInterval
	if interval == 0 {
		interval = t.interval
	}
	return interval + t.jitterDuration()
}

func (t *taskSpec) jitterDuration() time.Duration {
	if t.jitter <= 0 {
		return 0
	}
	ms := int64(t.jitter / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	delta := rand.Int63n(ms*2) - ms
	return time.Duration(delta) * time.Millisecond
}

func (t *taskSpec) increaseBackoff() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentInterval == 0 {
		t.currentInterval = t.interval
	}
	t.currentInterval *= 2
	if t.currentInterval > t.maxInterval {
		t.currentInterval = t.maxInterval
	}
}

func (t *taskSpec) resetBackoff() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentInterval = 0
}

// Stop stops every registered task and waits for their loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	tasks := make([]*taskSpec, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*taskSpec)
	s.mu.Unlock()

	for _, t := range tasks {
		s.stopTask(t)
	}
}
