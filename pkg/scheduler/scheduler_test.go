package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/metric"
)

func startedScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := New(opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })
	return s
}

func TestScheduler_RequiresStart(t *testing.T) {
	s := New()

	_, err := s.Schedule(time.Millisecond, func() {})
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestScheduler_ScheduleOnce(t *testing.T) {
	s := startedScheduler(t)

	var runs atomic.Int32
	h, err := s.Schedule(10*time.Millisecond, func() { runs.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), h.Period())

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 0, s.Pending())
	assert.False(t, h.Cancel(), "fired one-shot is no longer pending")
}

func TestScheduler_Every(t *testing.T) {
	s := startedScheduler(t)

	var runs atomic.Int32
	h, err := s.Every(5*time.Millisecond, func() { runs.Add(1) })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())

	time.Sleep(20 * time.Millisecond)
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no fires after cancel")
	assert.GreaterOrEqual(t, h.Fires(), int64(3))
}

func TestScheduler_EveryRejectsNonPositive(t *testing.T) {
	s := startedScheduler(t)

	_, err := s.Every(0, func() {})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestScheduler_CancelBeforeFire(t *testing.T) {
	s := startedScheduler(t)

	var runs atomic.Int32
	h, err := s.Schedule(50*time.Millisecond, func() { runs.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending())

	assert.True(t, h.Cancel())
	assert.Equal(t, 0, s.Pending())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestScheduler_ShutdownCancelsAll(t *testing.T) {
	s := New(WithWorkers(1))
	require.NoError(t, s.Start(context.Background()))

	var runs atomic.Int32
	for i := 0; i < 5; i++ {
		_, err := s.Every(10*time.Millisecond, func() { runs.Add(1) })
		require.NoError(t, err)
	}
	_, err := s.Schedule(time.Hour, func() { runs.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 6, s.Pending())

	require.NoError(t, s.Shutdown(time.Second))
	assert.Equal(t, 0, s.Pending())

	after := runs.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, runs.Load())

	_, err = s.Schedule(time.Millisecond, func() {})
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.NoError(t, s.Shutdown(time.Second))
}

func TestScheduler_ExecuteRunsOnWorker(t *testing.T) {
	s := startedScheduler(t)

	done := make(chan struct{})
	require.NoError(t, s.Execute(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestScheduler_ExecuteQueueFull(t *testing.T) {
	s := startedScheduler(t, WithWorkers(1), WithQueueSize(1))

	block := make(chan struct{})
	defer close(block)

	var sawFull bool
	for i := 0; i < 5; i++ {
		if err := s.Execute(func() { <-block }); err != nil {
			assert.True(t, errors.IsTransient(err))
			sawFull = true
		}
	}
	assert.True(t, sawFull)
}

func TestScheduler_PanickingCallbackDoesNotKillWorkers(t *testing.T) {
	s := startedScheduler(t, WithWorkers(1))

	require.NoError(t, s.Execute(func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, s.Execute(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, int64(1), s.Stats().Panicked)
}

func TestScheduler_TimerGauge(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := startedScheduler(t, WithMetricsRegistry(registry))

	h, err := s.Every(time.Hour, func() {})
	require.NoError(t, err)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	var value float64
	for _, mf := range families {
		if mf.GetName() == "edgestreams_scheduler_timers" {
			value = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1.0, value)
	h.Cancel()
}
