// Package window implements partitioned tuple windows. Each partition keeps
// its items in strict insertion order; an eviction policy bounds what is
// retained and a trigger policy decides when the registered processor sees
// the contents.
//
// Time-based policies borrow timers from a runtime-owned Scheduler, so
// closing the window (or shutting the scheduler down) cancels every pending
// fire.
package window

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/pkg/scheduler"
)

// Scheduler is the timer facility a window borrows.
type Scheduler = scheduler.Timers

// Processor receives a copy of a partition's contents and its key.
type Processor[T any, K comparable] func(items []T, key K)

// Option configures a Window.
type Option func(*options)

type options struct {
	expiry time.Duration
	now    func() time.Time
	logger *slog.Logger
	onFire func()
}

// WithPartitionExpiry forgets partitions that are empty and have seen no
// insert for idle. Without it, empty partitions stay known.
func WithPartitionExpiry(idle time.Duration) Option {
	return func(o *options) { o.expiry = idle }
}

// WithClock overrides the time source used to stamp inserts.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFireHook is called after every processor invocation.
func WithFireHook(fn func()) Option {
	return func(o *options) { o.onFire = fn }
}

// Window is a set of partitions keyed by K.
type Window[T any, K comparable] struct {
	key      func(T) K
	eviction Eviction
	trigger  Trigger
	opts     options

	processor atomic.Pointer[Processor[T, K]]

	mu         sync.Mutex
	partitions map[K]*partition[T]
	sched      Scheduler
	sweeper    *scheduler.Handle
	closed     bool
}

type partition[T any] struct {
	mu         sync.Mutex
	items      []T
	stamps     []time.Time
	pending    int
	lastInsert time.Time
	trigger    *scheduler.Handle
	ageOut     *scheduler.Handle
	gone       bool
}

// New creates a window partitioned by key.
func New[T any, K comparable](key func(T) K, eviction Eviction, trigger Trigger, opts ...Option) (*Window[T, K], error) {
	if key == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil key function", errors.ErrInvalidConfig),
			"Window", "New", "validate key")
	}
	if err := eviction.validate(); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Window", "New", "validate eviction")
	}
	if err := trigger.validate(); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Window", "New", "validate trigger")
	}

	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.expiry < 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: negative partition expiry", errors.ErrInvalidConfig),
			"Window", "New", "validate expiry")
	}

	return &Window[T, K]{
		key:        key,
		eviction:   eviction,
		trigger:    trigger,
		opts:       o,
		partitions: make(map[K]*partition[T]),
	}, nil
}

// RegisterPartitionProcessor sets the aggregation callback. Only one may be
// registered; a second registration fails with ErrProcessorRegistered.
func (w *Window[T, K]) RegisterPartitionProcessor(fn Processor[T, K]) error {
	if fn == nil {
		return errors.WrapInvalid(fmt.Errorf("nil processor"), "Window", "RegisterPartitionProcessor", "validate processor")
	}
	if !w.processor.CompareAndSwap(nil, &fn) {
		return errors.WrapInvalid(errors.ErrProcessorRegistered, "Window", "RegisterPartitionProcessor", "register processor")
	}
	return nil
}

// NeedsScheduler reports whether Start must be given a scheduler.
func (w *Window[T, K]) NeedsScheduler() bool {
	return w.eviction.maxAge > 0 || w.trigger.interval > 0 || w.opts.expiry > 0
}

// Start attaches the scheduler used by time-based policies.
func (w *Window[T, K]) Start(s Scheduler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.WrapInvalid(errors.ErrClosed, "Window", "Start", "attach scheduler")
	}
	if w.sched != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Window", "Start", "attach scheduler")
	}
	if s == nil {
		if w.NeedsScheduler() {
			return errors.WrapInvalid(fmt.Errorf("time-based policy requires a scheduler"),
				"Window", "Start", "attach scheduler")
		}
		return nil
	}
	w.sched = s

	if w.opts.expiry > 0 {
		h, err := s.Every(w.opts.expiry, w.sweep)
		if err != nil {
			return errors.Wrap(err, "Window", "Start", "arm expiry sweep")
		}
		w.sweeper = h
	}
	return nil
}

// Insert adds t to its partition, then applies eviction and trigger policy.
func (w *Window[T, K]) Insert(t T) error {
	k := w.key(t)
	for {
		p, err := w.partitionFor(k)
		if err != nil {
			return err
		}

		p.mu.Lock()
		if p.gone {
			// expired between lookup and lock; look it up again
			p.mu.Unlock()
			continue
		}
		err = w.insertLocked(k, p, t)
		p.mu.Unlock()
		return err
	}
}

func (w *Window[T, K]) partitionFor(k K) (*partition[T], error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, errors.WrapInvalid(errors.ErrClosed, "Window", "Insert", "insert tuple")
	}
	if p, ok := w.partitions[k]; ok {
		return p, nil
	}
	if w.NeedsScheduler() && w.sched == nil {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "Window", "Insert", "create partition")
	}

	p := &partition[T]{}
	if w.trigger.interval > 0 {
		h, err := w.sched.Every(w.trigger.interval, func() { w.onInterval(k, p) })
		if err != nil {
			return nil, errors.Wrap(err, "Window", "Insert", "arm interval trigger")
		}
		p.trigger = h
	}
	w.partitions[k] = p
	return p, nil
}

func (w *Window[T, K]) insertLocked(k K, p *partition[T], t T) error {
	now := w.opts.now()
	p.items = append(p.items, t)
	p.stamps = append(p.stamps, now)
	p.lastInsert = now

	w.evictLocked(p, now)

	if w.eviction.maxAge > 0 && p.ageOut == nil && len(p.items) > 0 {
		if err := w.armAgeOutLocked(k, p, now); err != nil {
			return err
		}
	}

	if w.trigger.count > 0 {
		p.pending++
		if p.pending >= w.trigger.count {
			p.pending = 0
			w.fireLocked(k, p)
		}
	}
	return nil
}

// evictLocked applies the retention policy and returns the number of items removed.
func (w *Window[T, K]) evictLocked(p *partition[T], now time.Time) int {
	drop := 0
	if n := w.eviction.lastN; n > 0 && len(p.items) > n {
		drop = len(p.items) - n
	}
	if age := w.eviction.maxAge; age > 0 {
		cutoff := now.Add(-age)
		for drop < len(p.stamps) && !p.stamps[drop].After(cutoff) {
			drop++
		}
	}
	if drop > 0 {
		p.items = shift(p.items, drop)
		p.stamps = shift(p.stamps, drop)
	}
	return drop
}

func shift[E any](s []E, n int) []E {
	kept := copy(s, s[n:])
	clear(s[kept:])
	return s[:kept]
}

func (w *Window[T, K]) armAgeOutLocked(k K, p *partition[T], now time.Time) error {
	delay := p.stamps[0].Add(w.eviction.maxAge).Sub(now)
	if delay < 0 {
		delay = 0
	}
	h, err := w.sched.Schedule(delay, func() { w.onAgeOut(k, p) })
	if err != nil {
		return errors.Wrap(err, "Window", "Insert", "arm age-out timer")
	}
	p.ageOut = h
	return nil
}

func (w *Window[T, K]) onAgeOut(k K, p *partition[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gone {
		return
	}
	p.ageOut = nil
	now := w.opts.now()
	evicted := w.evictLocked(p, now)

	// Items leaving the window are a change for every-insert windows.
	if evicted > 0 && w.trigger.count == 1 {
		w.fireLocked(k, p)
	}
	if len(p.items) > 0 {
		if err := w.armAgeOutLocked(k, p, now); err != nil {
			w.opts.logger.Warn("Window age-out not re-armed", "error", err)
		}
	}
}

func (w *Window[T, K]) onInterval(k K, p *partition[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gone || len(p.items) == 0 {
		return
	}
	w.fireLocked(k, p)
}

func (w *Window[T, K]) fireLocked(k K, p *partition[T]) {
	fn := w.processor.Load()
	if fn == nil {
		return
	}

	items := make([]T, len(p.items))
	copy(items, p.items)
	(*fn)(items, k)

	if w.eviction.clearOnTrigger {
		p.items = shift(p.items, len(p.items))
		p.stamps = shift(p.stamps, len(p.stamps))
	}
	if w.opts.onFire != nil {
		w.opts.onFire()
	}
}

func (w *Window[T, K]) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	now := w.opts.now()
	for k, p := range w.partitions {
		p.mu.Lock()
		if len(p.items) == 0 && now.Sub(p.lastInsert) >= w.opts.expiry {
			p.retireLocked()
			delete(w.partitions, k)
		}
		p.mu.Unlock()
	}
}

// Expire forgets partition k and its contents. It reports whether k was known.
func (w *Window[T, K]) Expire(k K) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.partitions[k]
	if !ok {
		return false
	}
	p.mu.Lock()
	p.retireLocked()
	p.mu.Unlock()
	delete(w.partitions, k)
	return true
}

func (p *partition[T]) retireLocked() {
	p.gone = true
	if p.trigger != nil {
		p.trigger.Cancel()
	}
	if p.ageOut != nil {
		p.ageOut.Cancel()
	}
}

// Keys returns the known partition keys in no particular order.
func (w *Window[T, K]) Keys() []K {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]K, 0, len(w.partitions))
	for k := range w.partitions {
		keys = append(keys, k)
	}
	return keys
}

// Contents returns a copy of partition k's items in insertion order.
func (w *Window[T, K]) Contents(k K) ([]T, bool) {
	w.mu.Lock()
	p, ok := w.partitions[k]
	w.mu.Unlock()
	if !ok {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]T, len(p.items))
	copy(out, p.items)
	return out, true
}

// Close cancels all timers and forgets every partition. No processor call
// is in progress once Close returns.
func (w *Window[T, K]) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	if w.sweeper != nil {
		w.sweeper.Cancel()
	}
	for k, p := range w.partitions {
		p.mu.Lock()
		p.retireLocked()
		p.mu.Unlock()
		delete(w.partitions, k)
	}
}

// String describes the window's policies.
func (w *Window[T, K]) String() string {
	return fmt.Sprintf("window[%s, %s]", w.eviction, w.trigger)
}
