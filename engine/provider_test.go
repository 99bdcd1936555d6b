package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/config"
	"github.com/c360/edgestreams/control"
	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/metric"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/pkg/scheduler"
	"github.com/c360/edgestreams/processor/metrics"
	"github.com/c360/edgestreams/pubsub"
	"github.com/c360/edgestreams/service"
	"github.com/c360/edgestreams/topology"
)

func newTestProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger()), WithScheduler(2, 64)}, opts...)
	p, err := NewProvider(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

// feed is an Events registration the test drives by hand.
type feed[T any] struct {
	mu   sync.Mutex
	emit func(T)
}

func (f *feed[T]) register(emit func(T)) func() {
	f.mu.Lock()
	f.emit = emit
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.emit = nil
		f.mu.Unlock()
	}
}

func (f *feed[T]) send(v T) bool {
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	if emit == nil {
		return false
	}
	emit(v)
	return true
}

type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.mu.Unlock()
}

func (c *collector[T]) all() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func TestProvider_Services(t *testing.T) {
	p := newTestProvider(t, WithMetricsRegistry(metric.NewMetricsRegistry()))

	_, ok := service.Get[*scheduler.Scheduler](p.Services())
	assert.True(t, ok)
	timers, ok := service.Get[scheduler.Timers](p.Services())
	require.True(t, ok)
	assert.Same(t, p.Scheduler(), timers)
	reg, ok := service.Get[*control.Registry](p.Services())
	require.True(t, ok)
	assert.Same(t, p.Registry(), reg)
	_, ok = service.Get[*pubsub.TopicHandler](p.Services())
	assert.True(t, ok)
	_, ok = service.Get[*metric.Metrics](p.Services())
	assert.True(t, ok)
	assert.NotEmpty(t, p.ID())
}

func TestProvider_SubmitRunsJob(t *testing.T) {
	p := newTestProvider(t)
	var in feed[int]
	var out collector[string]

	top := p.NewTopology("")
	s := topology.Events(top, in.register)
	s = topology.Filter(s, func(v int) bool { return v%2 == 0 })
	labels := topology.Map(s, func(v int) string { return time.Duration(v).String() })
	topology.Sink(labels, out.add)

	job, err := p.Submit(context.Background(), top)
	require.NoError(t, err)
	assert.Equal(t, "JOB_0", job.ID())
	assert.Equal(t, "app_JOB_0", job.Name())
	assert.Equal(t, Running, job.CurrentState())

	for i := 1; i <= 4; i++ {
		require.True(t, in.send(i))
	}
	assert.Equal(t, []string{"2ns", "4ns"}, out.all())

	got, ok := p.Job("JOB_0")
	require.True(t, ok)
	assert.Same(t, job, got)

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, Closed, job.CurrentState())
	assert.False(t, in.send(5), "event source deregistered on close")
}

func TestProvider_NamesAndOrder(t *testing.T) {
	p := newTestProvider(t, WithAppName("edge"))
	for _, name := range []string{"", "named", ""} {
		top := p.NewTopology(name)
		topology.Sink(topology.Events(top, (&feed[int]{}).register), func(int) {})
		_, err := p.Submit(context.Background(), top)
		require.NoError(t, err)
	}

	var names []string
	for _, j := range p.Jobs() {
		names = append(names, j.ID()+"="+j.Name())
	}
	assert.Equal(t, []string{"JOB_0=edge_JOB_0", "JOB_1=named", "JOB_2=edge_JOB_2"}, names)
}

func TestProvider_SubmitRejectsBrokenTopology(t *testing.T) {
	p := newTestProvider(t)
	a := p.NewTopology("a")
	b := p.NewTopology("b")
	sa := topology.Events(a, (&feed[int]{}).register)
	sb := topology.Events(b, (&feed[int]{}).register)
	topology.Union(sa, sb)
	require.Error(t, a.Err())

	_, err := p.Submit(context.Background(), a)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, p.Jobs())
}

func TestProvider_SubmitReturnsFailedJob(t *testing.T) {
	p := newTestProvider(t)
	top := p.NewTopology("broken")
	// a periodic source needs a positive period
	topology.Sink(topology.Poll(top, 0, func() (int, bool) { return 0, false }), func(int) {})

	job, err := p.Submit(context.Background(), top)
	require.Error(t, err)
	require.NotNil(t, job)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Equal(t, Constructed, job.CurrentState())
}

func TestProvider_SubmitRejectsResubmission(t *testing.T) {
	p := newTestProvider(t)
	var in feed[int]
	var out collector[int]
	top := p.NewTopology("once")
	topology.Sink(topology.Events(top, in.register), out.add)

	first, err := p.Submit(context.Background(), top)
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), top)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrGraphSealed)
	assert.True(t, errors.IsInvalid(err))
	assert.Len(t, p.Jobs(), 1)

	require.True(t, in.send(1))
	assert.Equal(t, []int{1}, out.all())
	assert.Equal(t, Running, first.CurrentState())

	// a sealed graph from another provider is refused as well
	other := newTestProvider(t)
	_, err = other.Submit(context.Background(), top)
	assert.ErrorIs(t, err, errors.ErrGraphSealed)
}

func TestProvider_SubmitAfterClose(t *testing.T) {
	p := newTestProvider(t)
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))

	_, err := p.Submit(context.Background(), p.NewTopology("late"))
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestProvider_Counters(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	p := newTestProvider(t, WithMetricsRegistry(registry), WithCounters(true))
	var in feed[int]

	top := p.NewTopology("counted")
	s := topology.Events(top, in.register)
	s = topology.Filter(s, func(v int) bool { return v > 2 })
	topology.Sink(s, func(int) {})

	before := top.Graph().Snapshot().KindCounts()
	assert.Zero(t, before["CounterTap"])

	job, err := p.Submit(context.Background(), top)
	require.NoError(t, err)
	after := job.GraphSnapshot().KindCounts()
	assert.Equal(t, 2, after["CounterTap"])
	assert.Equal(t, 1, after["Events"])
	assert.Equal(t, 1, after["Filter"])
	assert.Equal(t, 1, after["Sink"])

	for i := 1; i <= 5; i++ {
		in.send(i)
	}

	counts := map[string]int64{}
	for _, c := range metrics.Counters(job.Graph()) {
		counts[c.Source()] = c.Count()
	}
	assert.Equal(t, map[string]int64{"OP_0": 5, "OP_1": 3}, counts)

	core := registry.CoreMetrics()
	assert.Equal(t, 5.0, testutil.ToFloat64(core.TuplesTotal.WithLabelValues("JOB_0", "OP_0")))
	assert.Equal(t, 3.0, testutil.ToFloat64(core.TuplesTotal.WithLabelValues("JOB_0", "OP_1")))
}

func TestProvider_PubSubAcrossJobs(t *testing.T) {
	p := newTestProvider(t)
	var in feed[string]
	var out collector[string]

	consumer := p.NewTopology("consumer")
	topology.Sink(topology.Source[string](consumer, pubsub.NewSubscriber[string]("readings")), out.add)
	_, err := p.Submit(context.Background(), consumer)
	require.NoError(t, err)

	producer := p.NewTopology("producer")
	topology.SinkOplet(topology.Events(producer, in.register), pubsub.NewPublisher[string]("readings"))
	pj, err := p.Submit(context.Background(), producer)
	require.NoError(t, err)

	in.send("a")
	in.send("b")
	assert.Equal(t, []string{"a", "b"}, out.all())

	require.NoError(t, pj.StateChange(context.Background(), Close))
	assert.False(t, in.send("c"))
	assert.Equal(t, 1, p.Topics().Subscribers("readings"))
}

func TestProvider_JobControlThroughRegistry(t *testing.T) {
	p := newTestProvider(t)
	var polls collector[int]
	top := p.NewTopology("ticker")
	var n atomic.Int64
	topology.Sink(topology.Poll(top, 5*time.Millisecond, func() (int, bool) {
		return int(n.Add(1)), true
	}), polls.add)

	job, err := p.Submit(context.Background(), top)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(polls.all()) > 0 }, time.Second, 5*time.Millisecond)

	assert.True(t, p.Registry().Handle(control.Request{Type: JobControl, Alias: job.ID(), Op: "pause"}))
	assert.Equal(t, Paused, job.CurrentState())
	assert.True(t, p.Registry().Handle(control.Request{Type: oplet.PeriodicControl, Alias: "poll." + job.ID() + ".OP_0", Op: "resume"}))
	assert.True(t, p.Registry().Handle(control.Request{Type: JobControl, Alias: job.ID(), Op: "close"}))
	assert.Equal(t, Closed, job.CurrentState())
	assert.Equal(t, 0, p.Scheduler().Pending())
}

func TestProvider_Health(t *testing.T) {
	p := newTestProvider(t)
	top := p.NewTopology("h")
	topology.Sink(topology.Events(top, (&feed[int]{}).register), func(int) {})
	job, err := p.Submit(context.Background(), top)
	require.NoError(t, err)

	agg := p.Health().AggregateHealth("edgestreams")
	assert.True(t, agg.IsHealthy())
	require.Len(t, agg.SubStatuses, 1)
	assert.Equal(t, job.ID(), agg.SubStatuses[0].Component)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Jobs.AppName = "plant"
	cfg.Metrics.Counters = true

	p := newTestProvider(t, FromConfig(cfg)...)
	assert.NotNil(t, p.MetricsRegistry())

	top := p.NewTopology("")
	topology.Sink(topology.Events(top, (&feed[int]{}).register), func(int) {})
	job, err := p.Submit(context.Background(), top)
	require.NoError(t, err)
	assert.Equal(t, "plant_JOB_0", job.Name())
	assert.Len(t, metrics.Counters(job.Graph()), 1)
}
