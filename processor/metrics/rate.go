package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/metric"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/pkg/scheduler"
	"github.com/c360/edgestreams/topology"
)

// RateTick is how often a RateMeter folds new tuples into its average.
const RateTick = 5 * time.Second

// decay weight of one tick in a one-minute exponentially weighted average
var rateAlpha = 1 - math.Exp(-RateTick.Seconds()/time.Minute.Seconds())

// RateMeter measures the rate of tuples passing through it: a mean rate
// since Start and a one-minute moving average updated every RateTick on
// the runtime scheduler.
type RateMeter struct {
	oplet.Base
	gauge  prometheus.Gauge
	timers scheduler.Timers
	handle *scheduler.Handle

	count     atomic.Int64
	uncounted atomic.Int64

	mu      sync.Mutex
	started time.Time
	rate    float64
	primed  bool
}

// NewRateMeter creates a 1-in/1-out rate meter.
func NewRateMeter() *RateMeter {
	return &RateMeter{}
}

func (m *RateMeter) Kind() string { return "RateMeter" }

func (m *RateMeter) Shape() oplet.Shape { return oplet.ShapePipe }

// Initialize resolves the rate gauge and the scheduler. Without a
// scheduler only the mean rate is kept.
func (m *RateMeter) Initialize(ctx oplet.Context) error {
	if err := m.Base.Initialize(ctx); err != nil {
		return err
	}
	if core, ok := oplet.ServiceOf[*metric.Metrics](ctx); ok {
		m.gauge = core.TupleRate.WithLabelValues(ctx.JobID(), ctx.ID())
	}
	if timers, ok := oplet.ServiceOf[scheduler.Timers](ctx); ok {
		m.timers = timers
	}
	return nil
}

// Start begins the measuring period and arms the averaging tick.
func (m *RateMeter) Start() error {
	m.mu.Lock()
	m.started = time.Now()
	m.mu.Unlock()

	if m.timers == nil {
		return nil
	}
	h, err := m.timers.Every(RateTick, m.tick)
	if err != nil {
		return err
	}
	m.handle = h
	return nil
}

func (m *RateMeter) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		m.count.Add(1)
		m.uncounted.Add(1)
		m.Submit(0, tuple)
	}}
}

func (m *RateMeter) tick() {
	instant := float64(m.uncounted.Swap(0)) / RateTick.Seconds()

	m.mu.Lock()
	if m.primed {
		m.rate += rateAlpha * (instant - m.rate)
	} else {
		m.rate = instant
		m.primed = true
	}
	rate := m.rate
	m.mu.Unlock()

	if m.gauge != nil {
		m.gauge.Set(rate)
	}
}

// Count returns the number of tuples seen.
func (m *RateMeter) Count() int64 {
	return m.count.Load()
}

// Rate returns the one-minute moving average in tuples per second. It is
// zero until the first tick.
func (m *RateMeter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// MeanRate returns tuples per second since Start.
func (m *RateMeter) MeanRate() float64 {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if started.IsZero() {
		return 0
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.count.Load()) / elapsed
}

// Close cancels the averaging tick.
func (m *RateMeter) Close() error {
	if m.handle != nil {
		m.handle.Cancel()
		m.handle = nil
	}
	return nil
}

// RateMeterStream passes s through a new RateMeter.
func RateMeterStream[T any](s topology.Stream[T]) topology.Stream[T] {
	return topology.Pipe[T, T](s, NewRateMeter())
}
