package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/edgestreams/control"
	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/health"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/service"
)

// JobControl is the control type jobs register under.
const JobControl = "job"

// defaultCloseDrain bounds how long CLOSE waits for deliveries already
// inside an input handle before closing oplets. A delivery held longer,
// such as a submitter parked on a full isolate queue, is released by its
// oplet's Close instead.
const defaultCloseDrain = 100 * time.Millisecond

// jobControlInterface builds the operation table jobs register with.
func jobControlInterface() control.Interface[*Job] {
	return control.Interface[*Job]{
		Name: "JobMXBean",
		Operations: map[string]func(*Job) error{
			"start":  func(j *Job) error { return j.StateChange(context.Background(), Start) },
			"pause":  func(j *Job) error { return j.StateChange(context.Background(), Pause) },
			"resume": (*Job).resume,
			"close":  func(j *Job) error { return j.StateChange(context.Background(), Close) },
		},
	}
}

// Job is one running instance of a submitted graph.
type Job struct {
	id     string
	name   string
	graph  *graph.Graph
	logger *slog.Logger

	services *service.Container
	registry *control.Registry
	timers   *jobTimers
	metrics  *engineMetrics
	health   *health.Monitor

	// transitions run one at a time under tmu; mu guards the state pair
	tmu     sync.Mutex
	mu      sync.RWMutex
	current State
	next    State

	submitting atomic.Bool
	oplets     []*runtimeOplet
	controlID  string

	drain    time.Duration
	done     chan struct{}
	closeErr error
}

type runtimeOplet struct {
	vertex *graph.Vertex
	oplet  oplet.Oplet
	ctx    *opletContext
}

type jobDeps struct {
	services *service.Container
	registry *control.Registry
	timers   *jobTimers
	metrics  *engineMetrics
	health   *health.Monitor
	logger   *slog.Logger
	drain    time.Duration
}

func newJob(id, name string, g *graph.Graph, deps jobDeps) *Job {
	j := &Job{
		id:       id,
		name:     name,
		graph:    g,
		services: deps.services,
		registry: deps.registry,
		timers:   deps.timers,
		metrics:  deps.metrics,
		health:   deps.health,
		logger:   deps.logger.With("job_id", id, "job_name", name),
		drain:    deps.drain,
		done:     make(chan struct{}),
	}
	if j.drain <= 0 {
		j.drain = defaultCloseDrain
	}
	if j.health != nil {
		j.health.ObserveJob(id, Constructed.String(), nil)
	}
	return j
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Graph returns the job's graph.
func (j *Job) Graph() *graph.Graph { return j.graph }

// CurrentState returns the state the job is in, or is transitioning from.
func (j *Job) CurrentState() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.current
}

// NextState returns the destination of an in-progress transition, or the
// current state when none is in progress.
func (j *Job) NextState() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.next
}

// States returns the current and next state read together.
func (j *Job) States() (current, next State) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.current, j.next
}

// GraphSnapshot describes the graph as currently connected.
func (j *Job) GraphSnapshot() graph.Snapshot {
	return j.graph.Snapshot()
}

// Done is closed once the job reaches CLOSED.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job is closed and returns the close error, if any.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StateChange applies action. Transitions are serialized; INITIALIZE,
// START or PAUSE requested while another transition is in progress fails
// with ErrInvalidTransition, while CLOSE waits for it to finish. A failed
// INITIALIZE, START or PAUSE leaves the job in its prior state. CLOSE
// always reaches CLOSED and reports close failures as a CloseError.
func (j *Job) StateChange(ctx context.Context, action Action) error {
	if action == Close {
		j.tmu.Lock()
	} else if !j.tmu.TryLock() {
		next := j.NextState()
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s while transitioning to %s", errors.ErrInvalidTransition, action, next),
			"Job", "StateChange", "begin transition")
	}
	defer j.tmu.Unlock()

	from := j.CurrentState()
	if action == Close && from == Closed {
		return nil
	}
	to, ok := target(from, action)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s from %s", errors.ErrInvalidTransition, action, from),
			"Job", "StateChange", "validate transition")
	}
	if action != Close {
		if err := ctx.Err(); err != nil {
			return errors.WrapTransient(err, "Job", "StateChange", "begin transition")
		}
	}

	j.mu.Lock()
	j.next = to
	j.mu.Unlock()

	started := time.Now()
	var err error
	switch action {
	case Initialize:
		err = j.initialize()
	case Start:
		err = j.start(from)
	case Pause:
		err = j.pause()
	case Close:
		err = j.close()
	}

	j.mu.Lock()
	if err == nil || action == Close {
		j.current = to
	}
	j.next = j.current
	state := j.current
	j.mu.Unlock()

	j.metrics.recordTransition(j.id, action, state, err, time.Since(started).Seconds())
	if j.health != nil {
		var failure error
		if action == Close {
			failure = err
		}
		j.health.ObserveJob(j.id, state.String(), failure)
	}

	if err != nil {
		j.logger.Error("Job transition failed", "action", action.String(), "from", from.String(), "error", err)
	} else {
		j.logger.Info("Job transition complete", "action", action.String(), "from", from.String(), "to", state.String())
	}

	if action == Close {
		j.closeErr = err
		close(j.done)
	}
	return err
}

func (j *Job) resume() error {
	if j.CurrentState() != Paused {
		return errors.WrapInvalid(
			fmt.Errorf("%w: resume from %s", errors.ErrInvalidTransition, j.CurrentState()),
			"Job", "resume", "validate transition")
	}
	return j.StateChange(context.Background(), Start)
}

// guard runs fn, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (j *Job) initialize() error {
	for i, v := range j.graph.Vertices() {
		var ro *runtimeOplet
		if i < len(j.oplets) {
			// already initialized by an earlier, failed attempt
			ro = j.oplets[i]
		} else {
			o, ok := v.Instance().(oplet.Oplet)
			if !ok {
				return errors.NewLifecycleError(v.ID(), "initialize",
					fmt.Errorf("%w: %T is not an oplet", errors.ErrInvalidConfig, v.Instance()))
			}
			octx := newOpletContext(j, v)
			if err := guard(func() error { return o.Initialize(octx) }); err != nil {
				return errors.NewLifecycleError(v.ID(), "initialize", err)
			}
			ro = &runtimeOplet{vertex: v, oplet: o, ctx: octx}
			j.oplets = append(j.oplets, ro)
		}

		if s, ok := ro.oplet.(oplet.Shaped); ok && !s.Shape().Fits(v.InputCount(), v.OutputCount()) {
			return errors.NewLifecycleError(v.ID(), "initialize", fmt.Errorf("%w: %s oplet on %d-in/%d-out vertex",
				errors.ErrInvalidArity, s.Shape(), v.InputCount(), v.OutputCount()))
		}

		var inputs []graph.Consumer
		if err := guard(func() error { inputs = ro.oplet.Inputs(); return nil }); err != nil {
			return errors.NewLifecycleError(v.ID(), "initialize", err)
		}
		if len(inputs) != v.InputCount() {
			return errors.NewLifecycleError(v.ID(), "initialize", fmt.Errorf("%w: %d input handles for %d ports",
				errors.ErrInvalidArity, len(inputs), v.InputCount()))
		}
		v.Bind(inputs)
	}

	j.graph.Seal()
	if j.registry != nil {
		id, err := control.Register(j.registry, JobControl, j.id, "", jobControlInterface(), j)
		if err != nil {
			return errors.Wrap(err, "Job", "StateChange", "register job control")
		}
		j.controlID = id
	}
	return nil
}

func (j *Job) start(from State) error {
	if from == Paused {
		for _, ro := range j.oplets {
			p, ok := ro.oplet.(oplet.Pausable)
			if !ok {
				continue
			}
			if err := guard(p.Resume); err != nil {
				return errors.NewLifecycleError(ro.vertex.ID(), "resume", err)
			}
		}
		return nil
	}

	j.submitting.Store(true)
	for _, ro := range j.oplets {
		if err := guard(ro.oplet.Start); err != nil {
			j.submitting.Store(false)
			return errors.NewLifecycleError(ro.vertex.ID(), "start", err)
		}
	}
	return nil
}

func (j *Job) pause() error {
	for _, ro := range j.oplets {
		p, ok := ro.oplet.(oplet.Pausable)
		if !ok {
			continue
		}
		if err := guard(p.Pause); err != nil {
			return errors.NewLifecycleError(ro.vertex.ID(), "pause", err)
		}
	}
	return nil
}

func (j *Job) close() error {
	j.submitting.Store(false)
	cancelled := j.timers.cancelAll()

	if j.controlID != "" {
		if err := j.registry.Unregister(j.controlID); err != nil {
			j.logger.Warn("Job control not unregistered", "error", err)
		}
		j.controlID = ""
	}

	for _, ro := range j.oplets {
		ro.vertex.Unbind()
	}
	idleCtx, cancel := context.WithTimeout(context.Background(), j.drain)
	if err := j.graph.AwaitIdle(idleCtx); err != nil {
		j.logger.Warn("Closing oplets with deliveries in progress", "error", err)
	}
	cancel()

	var ce errors.CloseError
	for _, ro := range j.oplets {
		if err := guard(ro.oplet.Close); err != nil {
			ce.Add(ro.vertex.ID(), err)
			ro.ctx.logger.Error("Oplet close failed", "error", err)
		}
		j.services.CleanOplet(j.id, ro.vertex.ID())
	}

	j.metrics.recordCloseFailures(j.id, len(ce.Failures))
	j.metrics.jobClosed()
	j.logger.Debug("Job closed", "oplets", len(j.oplets), "cancelled_timers", cancelled,
		"close_failures", len(ce.Failures))
	return ce.ErrOrNil()
}
