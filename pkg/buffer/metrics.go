package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/edgestreams/metric"
)

// bufferMetrics mirrors Statistics into Prometheus.
type bufferMetrics struct {
	writes prometheus.Counter
	reads  prometheus.Counter
	drops  prometheus.Counter
	size   prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgestreams",
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Items accepted by the buffer",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgestreams",
			Subsystem:   "buffer",
			Name:        "reads_total",
			ConstLabels: labels,
			Help:        "Items read from the buffer",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgestreams",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Items discarded by the overflow policy",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "edgestreams",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Items currently queued",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}

// release unregisters the collectors so the component label can be reused.
func (m *bufferMetrics) release(registry *metric.MetricsRegistry, prefix string) {
	for _, name := range []string{"buffer_writes", "buffer_reads", "buffer_drops", "buffer_size"} {
		registry.Unregister(prefix, name)
	}
}
