package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/control"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/health"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/pkg/scheduler"
	"github.com/c360/edgestreams/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// journal records lifecycle calls across stages in order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.calls = append(j.calls, s)
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

// stage is a configurable oplet that journals its lifecycle and forwards
// tuples from its input to its output.
type stage struct {
	oplet.Base
	name    string
	shape   oplet.Shape
	journal *journal

	failInit   error
	failStart  error
	failClose  error
	panicOn    string
	blockStart chan struct{}
	started    chan struct{}
	// hold parks the first delivery until closed; holding signals it
	hold    chan struct{}
	holding chan struct{}

	mu       sync.Mutex
	received []any
}

func newStage(name string, shape oplet.Shape, j *journal) *stage {
	return &stage{name: name, shape: shape, journal: j}
}

func (p *stage) Kind() string       { return "Stage" }
func (p *stage) Shape() oplet.Shape { return p.shape }

func (p *stage) step(action string) {
	p.journal.add(p.name + "." + action)
	if p.panicOn == action {
		panic(p.name + " " + action)
	}
}

func (p *stage) Initialize(ctx oplet.Context) error {
	p.step("init")
	if p.failInit != nil {
		return p.failInit
	}
	return p.Base.Initialize(ctx)
}

func (p *stage) Start() error {
	p.step("start")
	if p.started != nil {
		close(p.started)
	}
	if p.blockStart != nil {
		<-p.blockStart
	}
	return p.failStart
}

func (p *stage) Pause() error {
	p.step("pause")
	return nil
}

func (p *stage) Resume() error {
	p.step("resume")
	return nil
}

func (p *stage) Close() error {
	p.step("close")
	return p.failClose
}

func (p *stage) Inputs() []graph.Consumer {
	if p.shape == oplet.ShapeSource {
		return nil
	}
	return []graph.Consumer{func(tuple any) {
		if p.hold != nil {
			close(p.holding)
			<-p.hold
			p.journal.add(p.name + ".delivered")
		}
		p.mu.Lock()
		p.received = append(p.received, tuple)
		p.mu.Unlock()
		if p.OutputCount() > 0 {
			p.Submit(0, tuple)
		}
	}}
}

func (p *stage) got() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.received...)
}

// chain builds source -> pipe -> sink from three stages.
func chain(t *testing.T, j *journal) (*graph.Graph, []*stage) {
	t.Helper()
	stages := []*stage{
		newStage("src", oplet.ShapeSource, j),
		newStage("mid", oplet.ShapePipe, j),
		newStage("dst", oplet.ShapeSink, j),
	}
	g := graph.New()
	c, err := g.Source(stages[0])
	require.NoError(t, err)
	c, err = g.Pipe(c, stages[1])
	require.NoError(t, err)
	_, err = g.Sink(c, stages[2])
	require.NoError(t, err)
	return g, stages
}

type jobFixture struct {
	registry *control.Registry
	services *service.Container
	health   *health.Monitor
	sched    *scheduler.Scheduler
	drain    time.Duration
}

func newFixture(t *testing.T) *jobFixture {
	t.Helper()
	sched := scheduler.New(scheduler.WithWorkers(2), scheduler.WithLogger(discardLogger()))
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { _ = sched.Shutdown(time.Second) })

	return &jobFixture{
		registry: control.NewRegistry(discardLogger()),
		services: service.NewContainer(),
		health:   health.NewMonitor(),
		sched:    sched,
	}
}

func (f *jobFixture) job(id string, g *graph.Graph) *Job {
	return newJob(id, "test_"+id, g, jobDeps{
		services: f.services,
		registry: f.registry,
		timers:   newJobTimers(f.sched),
		health:   f.health,
		logger:   discardLogger(),
		drain:    f.drain,
	})
}

func drive(t *testing.T, j *Job, actions ...Action) {
	t.Helper()
	for _, a := range actions {
		require.NoError(t, j.StateChange(context.Background(), a), "action %s", a)
	}
}
