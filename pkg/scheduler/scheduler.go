// Package scheduler provides the runtime's shared timer facility. Every
// timer is tracked so Shutdown can cancel all pending fires, and fires are
// dispatched to a worker pool rather than run on the timer goroutine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/metric"
	"github.com/c360/edgestreams/pkg/worker"
)

// Timers is the capability oplets and windows borrow from the runtime:
// cancelable one-shot and periodic callbacks.
type Timers interface {
	Schedule(delay time.Duration, fn func()) (*Handle, error)
	Every(period time.Duration, fn func()) (*Handle, error)
}

var _ Timers = (*Scheduler)(nil)

// Scheduler runs one-shot and periodic callbacks.
type Scheduler struct {
	pool    *worker.Pool[func()]
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.Mutex
	handles map[uint64]*Handle
	nextID  uint64
	started bool
	closed  bool
}

type config struct {
	workers   int
	queueSize int
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
}

// Option configures a Scheduler.
type Option func(*config)

// WithWorkers sets the number of goroutines that run fired callbacks.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithQueueSize bounds the number of fires waiting for a worker.
func WithQueueSize(n int) Option {
	return func(c *config) { c.queueSize = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithMetricsRegistry records pool and timer metrics.
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(c *config) { c.registry = r }
}

// New creates a scheduler. It accepts work only after Start.
func New(opts ...Option) *Scheduler {
	cfg := config{workers: 2, queueSize: 256, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	logger := cfg.logger.With("component", "scheduler")
	poolOpts := []worker.Option[func()]{worker.WithLogger[func()](logger)}
	s := &Scheduler{
		logger:  logger,
		handles: make(map[uint64]*Handle),
	}
	if cfg.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[func()](cfg.registry, "edgestreams_scheduler"))
		s.metrics = cfg.registry.CoreMetrics()
	}
	s.pool = worker.NewPool(cfg.workers, cfg.queueSize, run, poolOpts...)
	return s
}

func run(_ context.Context, fn func()) error {
	fn()
	return nil
}

// Start launches the workers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WrapInvalid(errors.ErrClosed, "Scheduler", "Start", "start workers")
	}
	if err := s.pool.Start(ctx); err != nil {
		return errors.WrapInvalid(err, "Scheduler", "Start", "start workers")
	}
	s.started = true
	return nil
}

// Execute hands fn to a worker. It never blocks; a full queue is reported
// as a transient error.
func (s *Scheduler) Execute(fn func()) error {
	if err := s.pool.Submit(fn); err != nil {
		if errors.IsTransient(err) {
			return errors.WrapTransient(err, "Scheduler", "Execute", "enqueue task")
		}
		return errors.WrapInvalid(err, "Scheduler", "Execute", "enqueue task")
	}
	return nil
}

// Schedule runs fn once after delay.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) (*Handle, error) {
	return s.add(delay, 0, fn)
}

// Every runs fn every period, first after one period.
func (s *Scheduler) Every(period time.Duration, fn func()) (*Handle, error) {
	if period <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("period must be positive, got %s", period),
			"Scheduler", "Every", "validate period")
	}
	return s.add(period, period, fn)
}

func (s *Scheduler) add(delay, period time.Duration, fn func()) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.WrapInvalid(errors.ErrClosed, "Scheduler", "Schedule", "arm timer")
	}
	if !s.started {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "Scheduler", "Schedule", "arm timer")
	}

	h := &Handle{id: s.nextID, sched: s, period: period, fn: fn}
	s.nextID++
	s.handles[h.id] = h
	h.mu.Lock()
	h.timer = time.AfterFunc(delay, h.fire)
	h.mu.Unlock()
	s.recordTimers()
	return h, nil
}

func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	delete(s.handles, id)
	s.recordTimers()
	s.mu.Unlock()
}

func (s *Scheduler) recordTimers() {
	if s.metrics != nil {
		s.metrics.SchedulerTimers.Set(float64(len(s.handles)))
	}
}

// Pending returns the number of live timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Stats returns the worker pool statistics.
func (s *Scheduler) Stats() worker.PoolStats {
	return s.pool.Stats()
}

// Shutdown cancels every pending timer and stops the workers.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	s.logger.Debug("Scheduler shut down", "cancelled_timers", len(handles))

	if err := s.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Scheduler", "Shutdown", "stop workers")
	}
	return nil
}

// Handle is a cancelable scheduled callback.
type Handle struct {
	id     uint64
	sched  *Scheduler
	period time.Duration
	fn     func()

	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	done      bool
	fires     atomic.Int64
}

func (h *Handle) fire() {
	h.mu.Lock()
	if h.cancelled || h.done {
		h.mu.Unlock()
		return
	}
	if h.period > 0 {
		h.timer.Reset(h.period)
	} else {
		h.done = true
	}
	h.mu.Unlock()

	if h.period == 0 {
		h.sched.remove(h.id)
	}

	err := h.sched.Execute(func() {
		h.mu.Lock()
		cancelled := h.cancelled
		h.mu.Unlock()
		if cancelled {
			return
		}
		h.fires.Add(1)
		h.fn()
	})
	if err != nil {
		h.sched.logger.Warn("Timer fire dropped", "timer", h.id, "error", err)
	}
}

// Cancel stops future fires, including fires queued but not yet run. It
// reports whether the handle was still pending.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return false
	}
	h.cancelled = true
	pending := !h.done
	h.timer.Stop()
	h.mu.Unlock()

	if pending {
		h.sched.remove(h.id)
	}
	return pending
}

// Fires returns how many times the callback has run.
func (h *Handle) Fires() int64 {
	return h.fires.Load()
}

// Period returns the repeat period, zero for one-shot timers.
func (h *Handle) Period() time.Duration {
	return h.period
}

// Pending reports whether the handle may still fire.
func (h *Handle) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.cancelled && !h.done
}
