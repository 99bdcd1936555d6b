package oplet

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360/edgestreams/control"
	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/pkg/scheduler"
)

// PeriodicControl is the control type registered by periodic sources.
const PeriodicControl = "periodic"

// PeriodicSource polls a function on a fixed period and submits what it
// returns. Its timer is borrowed from the runtime scheduler and cancelled
// on Close.
type PeriodicSource[T any] struct {
	Base
	poll func() (T, bool)

	mu        sync.Mutex
	period    time.Duration
	timers    scheduler.Timers
	handle    *scheduler.Handle
	running   bool
	paused    bool
	registry  *control.Registry
	controlID string
}

// NewPeriodicSource creates a 0-in/1-out source. poll returning false
// emits nothing for that tick.
func NewPeriodicSource[T any](period time.Duration, poll func() (T, bool)) *PeriodicSource[T] {
	return &PeriodicSource[T]{period: period, poll: poll}
}

func (p *PeriodicSource[T]) Kind() string { return "PeriodicSource" }

func (p *PeriodicSource[T]) Shape() Shape { return ShapeSource }

// Initialize looks up the scheduler and registers the pause/resume control.
func (p *PeriodicSource[T]) Initialize(ctx Context) error {
	if err := p.Base.Initialize(ctx); err != nil {
		return err
	}
	if p.period <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: period must be positive, got %s", errors.ErrInvalidConfig, p.period),
			"PeriodicSource", "Initialize", "validate period")
	}
	timers, ok := ServiceOf[scheduler.Timers](ctx)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: scheduler service", errors.ErrNotFound),
			"PeriodicSource", "Initialize", "lookup scheduler")
	}
	p.timers = timers

	if reg, ok := ServiceOf[*control.Registry](ctx); ok {
		id, err := control.Register(reg, PeriodicControl, ctx.Uniquify("poll"), "",
			control.Interface[*PeriodicSource[T]]{
				Name: "PeriodicMXBean",
				Operations: map[string]func(*PeriodicSource[T]) error{
					"pause":  (*PeriodicSource[T]).Pause,
					"resume": (*PeriodicSource[T]).Resume,
				},
			}, p)
		if err != nil {
			return errors.Wrap(err, "PeriodicSource", "Initialize", "register control")
		}
		p.registry = reg
		p.controlID = id
	}
	return nil
}

// Inputs returns no handles; a source has no input ports.
func (p *PeriodicSource[T]) Inputs() []graph.Consumer { return nil }

// Start arms the timer.
func (p *PeriodicSource[T]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = true
	return p.armLocked()
}

func (p *PeriodicSource[T]) armLocked() error {
	if p.handle != nil {
		p.handle.Cancel()
		p.handle = nil
	}
	if !p.running || p.paused {
		return nil
	}
	h, err := p.timers.Every(p.period, p.tick)
	if err != nil {
		return errors.Wrap(err, "PeriodicSource", "Start", "arm timer")
	}
	p.handle = h
	return nil
}

func (p *PeriodicSource[T]) tick() {
	v, ok := p.poll()
	if ok {
		p.Submit(0, v)
	}
}

// Pause stops polling until Resume.
func (p *PeriodicSource[T]) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.paused = true
	return p.armLocked()
}

// Resume restarts polling.
func (p *PeriodicSource[T]) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.paused = false
	return p.armLocked()
}

// Period returns the poll period.
func (p *PeriodicSource[T]) Period() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.period
}

// SetPeriod changes the poll period, re-arming the timer when running.
func (p *PeriodicSource[T]) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: period must be positive, got %s", errors.ErrInvalidConfig, d),
			"PeriodicSource", "SetPeriod", "validate period")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.period = d
	return p.armLocked()
}

// Close cancels the timer and removes the control registration.
func (p *PeriodicSource[T]) Close() error {
	p.mu.Lock()
	p.running = false
	if p.handle != nil {
		p.handle.Cancel()
		p.handle = nil
	}
	reg, id := p.registry, p.controlID
	p.registry = nil
	p.mu.Unlock()

	if reg != nil {
		return reg.Unregister(id)
	}
	return nil
}

// Generator runs a blocking producer on its own goroutine. The producer's
// context is cancelled on Close, which waits for it to return and reports
// any error other than context.Canceled.
type Generator[T any] struct {
	Base
	run func(ctx context.Context, emit func(T)) error

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewGenerator creates a 0-in/1-out source driven by run.
func NewGenerator[T any](run func(ctx context.Context, emit func(T)) error) *Generator[T] {
	return &Generator[T]{run: run}
}

func (g *Generator[T]) Kind() string { return "Generator" }

func (g *Generator[T]) Shape() Shape { return ShapeSource }

func (g *Generator[T]) Inputs() []graph.Consumer { return nil }

// Start launches the producer.
func (g *Generator[T]) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})

	go func() {
		defer close(g.done)
		err := g.run(ctx, func(v T) { g.Submit(0, v) })
		if err != nil && !stderrors.Is(err, context.Canceled) {
			g.err = err
			g.Logger().Error("Generator stopped", "error", err)
		}
	}()
	return nil
}

// Close cancels the producer and waits for it to return.
func (g *Generator[T]) Close() error {
	if g.cancel == nil {
		return nil
	}
	g.cancel()
	<-g.done
	if g.err != nil {
		return errors.Wrap(g.err, "Generator", "Close", "run producer")
	}
	return nil
}

// Events submits tuples pushed by an external callback. register is called
// at Start with the emit function and returns the function that removes it.
type Events[T any] struct {
	Base
	register func(emit func(T)) (remove func())
	remove   func()
}

// NewEvents creates a 0-in/1-out source fed by an external event API.
func NewEvents[T any](register func(emit func(T)) (remove func())) *Events[T] {
	return &Events[T]{register: register}
}

func (e *Events[T]) Kind() string { return "Events" }

func (e *Events[T]) Shape() Shape { return ShapeSource }

func (e *Events[T]) Inputs() []graph.Consumer { return nil }

// Start registers the emit callback.
func (e *Events[T]) Start() error {
	e.remove = e.register(func(v T) { e.Submit(0, v) })
	return nil
}

// Close removes the callback.
func (e *Events[T]) Close() error {
	if e.remove != nil {
		e.remove()
		e.remove = nil
	}
	return nil
}
