package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edgestreams"

// Metrics contains the runtime-level metrics shared by every job
type Metrics struct {
	JobState         *prometheus.GaugeVec
	StateTransitions *prometheus.CounterVec
	CloseFailures    *prometheus.CounterVec
	TuplesTotal      *prometheus.CounterVec
	TupleRate        *prometheus.GaugeVec
	TuplesDropped    *prometheus.CounterVec
	WindowFires      *prometheus.CounterVec
	SchedulerTimers  prometheus.Gauge
}

// NewMetrics creates the runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		JobState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "state",
				Help:      "Job state (0=constructed, 1=initialized, 2=running, 3=paused, 4=closed)",
			},
			[]string{"job"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "transitions_total",
				Help:      "Job state transitions by action and outcome",
			},
			[]string{"job", "action", "result"},
		),

		CloseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "close_failures_total",
				Help:      "Oplets that failed to close",
			},
			[]string{"job"},
		),

		TuplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tuples_total",
				Help:      "Tuples observed by counter taps",
			},
			[]string{"job", "oplet"},
		),

		TupleRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tuple_rate",
				Help:      "Tuples per second seen by rate meters, one-minute moving average",
			},
			[]string{"job", "oplet"},
		),

		TuplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tuples_dropped_total",
				Help:      "Tuples dropped by the runtime",
			},
			[]string{"job", "reason"},
		),

		WindowFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "window",
				Name:      "fires_total",
				Help:      "Partition processor invocations",
			},
			[]string{"job", "oplet"},
		),

		SchedulerTimers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "timers",
				Help:      "Pending scheduled timers",
			},
		),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.JobState,
		m.StateTransitions,
		m.CloseFailures,
		m.TuplesTotal,
		m.TupleRate,
		m.TuplesDropped,
		m.WindowFires,
		m.SchedulerTimers,
	)
}

// RecordJobState updates the job state gauge
func (m *Metrics) RecordJobState(job string, state int) {
	m.JobState.WithLabelValues(job).Set(float64(state))
}

// RecordTransition counts one state transition attempt
func (m *Metrics) RecordTransition(job, action string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.StateTransitions.WithLabelValues(job, action, result).Inc()
}

// RecordCloseFailures counts oplets that failed to close
func (m *Metrics) RecordCloseFailures(job string, n int) {
	if n > 0 {
		m.CloseFailures.WithLabelValues(job).Add(float64(n))
	}
}

// RecordDropped counts a tuple dropped by the runtime
func (m *Metrics) RecordDropped(job, reason string) {
	m.TuplesDropped.WithLabelValues(job, reason).Inc()
}

// Forget removes every series labelled with job
func (m *Metrics) Forget(job string) {
	labels := prometheus.Labels{"job": job}
	m.JobState.DeletePartialMatch(labels)
	m.StateTransitions.DeletePartialMatch(labels)
	m.CloseFailures.DeletePartialMatch(labels)
	m.TuplesTotal.DeletePartialMatch(labels)
	m.TupleRate.DeletePartialMatch(labels)
	m.TuplesDropped.DeletePartialMatch(labels)
	m.WindowFires.DeletePartialMatch(labels)
}
