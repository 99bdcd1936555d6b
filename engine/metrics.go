package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/edgestreams/metric"
)

// engineMetrics holds Prometheus metrics for job lifecycle operations.
type engineMetrics struct {
	core *metric.Metrics

	// Transition latency by action
	transitionDuration *prometheus.HistogramVec

	// Jobs submitted and not yet closed
	activeJobs prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		core: registry.CoreMetrics(),

		transitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edgestreams",
			Subsystem: "job",
			Name:      "transition_duration_seconds",
			Help:      "Job state transition duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		}, []string{"action"}),

		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgestreams",
			Subsystem: "job",
			Name:      "active",
			Help:      "Jobs submitted and not yet closed",
		}),
	}

	if err := registry.RegisterHistogramVec("engine", "transition_duration", m.transitionDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "active_jobs", m.activeJobs); err != nil {
		return nil, err
	}

	return m, nil
}

// recordTransition records one transition attempt and the resulting state.
func (m *engineMetrics) recordTransition(job string, action Action, state State, err error, duration float64) {
	if m == nil {
		return
	}

	m.transitionDuration.WithLabelValues(action.String()).Observe(duration)
	m.core.RecordTransition(job, action.String(), err)
	m.core.RecordJobState(job, int(state))
}

// recordCloseFailures counts oplets that failed to close.
func (m *engineMetrics) recordCloseFailures(job string, n int) {
	if m != nil {
		m.core.RecordCloseFailures(job, n)
	}
}

// recordDropped counts a tuple the runtime dropped.
func (m *engineMetrics) recordDropped(job, reason string) {
	if m != nil {
		m.core.RecordDropped(job, reason)
	}
}

// jobOpened tracks a newly submitted job.
func (m *engineMetrics) jobOpened() {
	if m != nil {
		m.activeJobs.Inc()
	}
}

// jobClosed tracks a job reaching CLOSED.
func (m *engineMetrics) jobClosed() {
	if m != nil {
		m.activeJobs.Dec()
	}
}

// forget drops every series of a discarded job.
func (m *engineMetrics) forget(job string) {
	if m != nil {
		m.core.Forget(job)
	}
}
