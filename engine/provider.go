package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/edgestreams/config"
	"github.com/c360/edgestreams/control"
	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/health"
	"github.com/c360/edgestreams/metric"
	"github.com/c360/edgestreams/pkg/scheduler"
	"github.com/c360/edgestreams/processor/metrics"
	"github.com/c360/edgestreams/pubsub"
	"github.com/c360/edgestreams/service"
	"github.com/c360/edgestreams/topology"
)

// Provider owns the services shared by the jobs it runs: the service
// container, control registry, scheduler, metrics, health monitor and
// topic handler.
type Provider struct {
	id      string
	logger  *slog.Logger
	opts    options
	started time.Time

	services        *service.Container
	registry        *control.Registry
	sched           *scheduler.Scheduler
	metricsRegistry *metric.MetricsRegistry
	metrics         *engineMetrics
	health          *health.Monitor
	topics          *pubsub.TopicHandler

	mu        sync.Mutex
	jobs      map[string]*Job
	order     []string
	submitted map[*graph.Graph]string
	nextJob   int
	closed    bool
}

type options struct {
	logger          *slog.Logger
	metricsRegistry *metric.MetricsRegistry
	counters        bool
	appName         string
	workers         int
	queueSize       int
	closeTimeout    time.Duration
}

// Option configures a Provider.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsRegistry records runtime metrics in r.
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(o *options) { o.metricsRegistry = r }
}

// WithCounters inserts counter taps into every submitted job.
func WithCounters(enabled bool) Option {
	return func(o *options) { o.counters = enabled }
}

// WithAppName sets the prefix of generated job names.
func WithAppName(name string) Option {
	return func(o *options) { o.appName = name }
}

// WithScheduler sizes the shared scheduler's worker pool.
func WithScheduler(workers, queueSize int) Option {
	return func(o *options) {
		o.workers = workers
		o.queueSize = queueSize
	}
}

// WithCloseTimeout bounds how long Close waits for the scheduler to drain.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}

// FromConfig translates a runtime configuration into options. Metrics
// need a registry, which is created here when enabled.
func FromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithAppName(cfg.Jobs.AppName),
		WithScheduler(cfg.Scheduler.Workers, cfg.Scheduler.QueueSize),
		WithCloseTimeout(cfg.Jobs.CloseTimeout),
		WithCounters(cfg.Metrics.Counters),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, WithMetricsRegistry(metric.NewMetricsRegistry(metric.WithRuntimeCollectors())))
	}
	return opts
}

// NewProvider creates a provider and starts its scheduler.
func NewProvider(opts ...Option) (*Provider, error) {
	o := options{
		logger:       slog.Default(),
		appName:      "app",
		workers:      4,
		queueSize:    256,
		closeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	id := uuid.NewString()
	p := &Provider{
		id:              id,
		logger:          o.logger.With("component", "engine", "provider_id", id),
		opts:            o,
		started:         time.Now(),
		services:        service.NewContainer(),
		metricsRegistry: o.metricsRegistry,
		health:          health.NewMonitor(),
		jobs:            make(map[string]*Job),
		submitted:       make(map[*graph.Graph]string),
	}
	p.registry = control.NewRegistry(p.logger)
	p.topics = pubsub.NewTopicHandler(p.logger)

	m, err := newEngineMetrics(o.metricsRegistry)
	if err != nil {
		p.logger.Error("Failed to initialize engine metrics", "error", err)
		m = nil // Continue without metrics
	}
	p.metrics = m

	schedOpts := []scheduler.Option{
		scheduler.WithWorkers(o.workers),
		scheduler.WithQueueSize(o.queueSize),
		scheduler.WithLogger(p.logger),
	}
	if o.metricsRegistry != nil {
		schedOpts = append(schedOpts, scheduler.WithMetricsRegistry(o.metricsRegistry))
	}
	p.sched = scheduler.New(schedOpts...)
	if err := p.sched.Start(context.Background()); err != nil {
		return nil, errors.Wrap(err, "Provider", "NewProvider", "start scheduler")
	}

	if err := p.registerServices(); err != nil {
		_ = p.sched.Shutdown(o.closeTimeout)
		return nil, err
	}
	return p, nil
}

func (p *Provider) registerServices() error {
	regs := []error{
		service.Add[scheduler.Timers](p.services, p.sched),
		service.Add(p.services, p.sched),
		service.Add(p.services, p.registry),
		service.Add(p.services, p.topics),
		service.Add(p.services, p.health),
	}
	if p.metricsRegistry != nil {
		regs = append(regs,
			service.Add(p.services, p.metricsRegistry),
			service.Add(p.services, p.metricsRegistry.CoreMetrics()))
	}
	if err := stderrors.Join(regs...); err != nil {
		return errors.Wrap(err, "Provider", "NewProvider", "register services")
	}
	return nil
}

// ID returns the provider's instance id.
func (p *Provider) ID() string { return p.id }

// Services returns the service container oplets resolve capabilities from.
func (p *Provider) Services() *service.Container { return p.services }

// Registry returns the control registry.
func (p *Provider) Registry() *control.Registry { return p.registry }

// Scheduler returns the shared scheduler.
func (p *Provider) Scheduler() *scheduler.Scheduler { return p.sched }

// Health returns the health monitor.
func (p *Provider) Health() *health.Monitor { return p.health }

// Topics returns the topic handler connecting jobs.
func (p *Provider) Topics() *pubsub.TopicHandler { return p.topics }

// MetricsRegistry returns the metrics registry, nil when metrics are disabled.
func (p *Provider) MetricsRegistry() *metric.MetricsRegistry { return p.metricsRegistry }

// Uptime returns the time since the provider was created.
func (p *Provider) Uptime() time.Duration { return time.Since(p.started) }

// NewTopology creates an empty topology. An empty name lets Submit name
// the job.
func (p *Provider) NewTopology(name string) *topology.Topology {
	return topology.New(name)
}

// Submit turns t into a job and drives it through INITIALIZE and START.
// The job is returned even when a transition fails, so the caller can
// inspect or close it. A topology runs as at most one job; submitting it
// again fails with ErrGraphSealed.
func (p *Provider) Submit(ctx context.Context, t *topology.Topology) (*Job, error) {
	if err := t.Err(); err != nil {
		return nil, errors.WrapInvalid(err, "Provider", "Submit", "build topology")
	}

	g := t.Graph()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrClosed, "Provider", "Submit", "submit job")
	}
	if _, ok := p.submitted[g]; ok || g.Sealed() {
		p.mu.Unlock()
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: topology %q already submitted", errors.ErrGraphSealed, t.Name()),
			"Provider", "Submit", "claim topology")
	}
	id := fmt.Sprintf("JOB_%d", p.nextJob)
	p.nextJob++
	p.submitted[g] = id
	p.mu.Unlock()

	name := t.Name()
	if name == "" {
		name = p.opts.appName + "_" + id
	}

	if p.opts.counters {
		if err := metrics.AddCounters(g); err != nil {
			return nil, errors.Wrap(err, "Provider", "Submit", "insert counter taps")
		}
	}

	job := newJob(id, name, g, jobDeps{
		services: p.services,
		registry: p.registry,
		timers:   newJobTimers(p.sched),
		metrics:  p.metrics,
		health:   p.health,
		logger:   p.logger,
	})

	p.mu.Lock()
	p.jobs[id] = job
	p.order = append(p.order, id)
	p.mu.Unlock()
	p.metrics.jobOpened()

	if err := job.StateChange(ctx, Initialize); err != nil {
		return job, err
	}
	if err := job.StateChange(ctx, Start); err != nil {
		return job, err
	}
	return job, nil
}

// Jobs returns the submitted jobs in submission order.
func (p *Provider) Jobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	jobs := make([]*Job, 0, len(p.order))
	for _, id := range p.order {
		jobs = append(jobs, p.jobs[id])
	}
	return jobs
}

// Job returns the job with the given id.
func (p *Provider) Job(id string) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	j, ok := p.jobs[id]
	return j, ok
}

// Close closes every job concurrently, then stops the scheduler. Close
// failures of all jobs are joined.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	jobs := p.Jobs()
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(8)
	for _, j := range jobs {
		g.Go(func() error {
			if err := j.StateChange(ctx, Close); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", j.ID(), err))
				mu.Unlock()
			}
			return nil
		})
	}

	waited := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Provider", "Close", "close jobs")
	}

	if err := p.sched.Shutdown(p.opts.closeTimeout); err != nil {
		errs = append(errs, err)
	}
	for _, j := range jobs {
		p.metrics.forget(j.ID())
	}
	p.logger.Info("Provider closed", "jobs", len(jobs), "uptime", p.Uptime().String())

	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Provider", "Close", "close jobs")
	}
	return nil
}
