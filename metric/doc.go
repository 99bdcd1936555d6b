// Package metric provides the Prometheus metrics registry used by the runtime.
//
// MetricsRegistry wraps a private prometheus.Registry and deduplicates
// registrations by "service.metric" key. The runtime metrics (job state,
// transitions, tuple counts, window fires, scheduler timers) are registered
// on construction; components register their own collectors through
// MetricsRegistrar.
package metric
