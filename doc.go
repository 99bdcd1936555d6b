// Package edgestreams is a streaming dataflow runtime for single devices.
//
// Applications declare a topology of typed streams. The topology lowers to a
// directed graph of oplets joined by connectors, and the engine runs that
// graph as a job with an explicit lifecycle.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   topology.Topology / Stream[T]     │  Typed authoring surface
//	└─────────────────────────────────────┘
//	           ↓ lowers to
//	┌─────────────────────────────────────┐
//	│   graph.Graph (vertices, ports)     │  Structure, tags, snapshot
//	└─────────────────────────────────────┘
//	           ↓ submitted to
//	┌─────────────────────────────────────┐
//	│   engine.Provider / engine.Job      │  Lifecycle, services, control
//	└─────────────────────────────────────┘
//	           ↓ drives
//	┌─────────────────────────────────────┐
//	│   oplet.Oplet implementations       │  Map, filter, windows, sources
//	└─────────────────────────────────────┘
//
// A job moves CONSTRUCTED → INITIALIZED → RUNNING ⇄ PAUSED and finally
// CLOSED. Tuples submitted before a job starts or after it closes are
// dropped and counted.
//
// # Packages
//
//   - graph: vertices, connectors, tags and the JSON snapshot format
//   - oplet: the oplet contract and the built-in oplets
//   - window: keyed windows with eviction and trigger policies
//   - engine: jobs, the provider and the per-oplet context
//   - control: the control registry; control/natsctl serves it over NATS
//   - topology: typed stream construction
//   - processor/...: counter taps, plumbing and sensor oplets
//   - pkg/scheduler, pkg/worker, pkg/buffer: timers, pools and queues
//
// # Example
//
//	provider, err := engine.NewProvider(engine.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer provider.Close(ctx)
//
//	top := provider.NewTopology("thermostat")
//	readings := topology.Poll(top, time.Second, sensor.Read)
//	alerts := sensors.DeadbandStream(readings, celsius, sensors.ClosedRange(18.0, 22.0).InBand())
//	topology.Sink(alerts, notify)
//
//	job, err := provider.Submit(ctx, top)
//
// The edgestreams command in cmd/edgestreams runs a demonstration job and
// inspects configuration files and graph snapshots.
package edgestreams
