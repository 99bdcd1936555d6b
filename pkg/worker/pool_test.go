package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	rterrors "github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
	panic bool
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewPool(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	if pool.workers != 5 {
		t.Errorf("Expected 5 workers, got %d", pool.workers)
	}
	if pool.queueSize != 100 {
		t.Errorf("Expected queue size 100, got %d", pool.queueSize)
	}

	pool = NewPool(0, 0, processor)
	if pool.workers != 4 {
		t.Errorf("Expected default 4 workers, got %d", pool.workers)
	}
	if pool.queueSize != 256 {
		t.Errorf("Expected default queue size 256, got %d", pool.queueSize)
	}
}

func TestNewPool_NilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for nil processor")
		}
	}()
	NewPool[testWork](5, 100, nil)
}

func TestPool_StartStop(t *testing.T) {
	var processedCount int64
	processor := func(_ context.Context, _ testWork) error {
		atomic.AddInt64(&processedCount, 1)
		return nil
	}

	pool := NewPool(2, 10, processor)

	if err := pool.Submit(testWork{}); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("Expected ErrPoolNotStarted, got %v", err)
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	if err := pool.Start(ctx); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Errorf("Expected ErrPoolAlreadyStarted, got %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := pool.Submit(testWork{id: i}); err != nil {
			t.Errorf("Failed to submit work %d: %v", i, err)
		}
	}

	// Stop drains the queue
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	if processed := atomic.LoadInt64(&processedCount); processed != 5 {
		t.Errorf("Expected 5 processed items, got %d", processed)
	}

	if err := pool.Submit(testWork{id: 999}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped, got %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Second stop should be a no-op, got %v", err)
	}
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	processor := func(_ context.Context, _ testWork) error {
		<-release
		return nil
	}

	pool := NewPool(1, 2, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)
	defer close(release)

	submitted, dropped := 0, 0
	for i := 0; i < 6; i++ {
		err := pool.Submit(testWork{id: i})
		switch {
		case err == nil:
			submitted++
		case errors.Is(err, ErrQueueFull):
			dropped++
			if !rterrors.IsTransient(err) {
				t.Error("queue full should classify as transient")
			}
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if dropped == 0 {
		t.Error("Expected some work to be dropped due to full queue")
	}
	if submitted == 0 {
		t.Error("Expected some work to be submitted successfully")
	}
	if pool.Stats().Dropped != int64(dropped) {
		t.Errorf("Stats should show %d dropped, got %d", dropped, pool.Stats().Dropped)
	}
}

func TestPool_ErrorsAndPanics(t *testing.T) {
	var successCount int64

	processor := func(_ context.Context, work testWork) error {
		if work.panic {
			panic("task exploded")
		}
		if work.fail {
			return errors.New("simulated error")
		}
		atomic.AddInt64(&successCount, 1)
		return nil
	}

	pool := NewPool(2, 20, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	for i := 0; i < 12; i++ {
		work := testWork{id: i, fail: i%3 == 1, panic: i%3 == 2}
		if err := pool.Submit(work); err != nil {
			t.Errorf("Failed to submit work %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return pool.Stats().Processed == 12 })

	stats := pool.Stats()
	if atomic.LoadInt64(&successCount) != 4 {
		t.Errorf("Expected 4 successes, got %d", successCount)
	}
	if stats.Failed != 8 {
		t.Errorf("Expected 8 failures, got %d", stats.Failed)
	}
	if stats.Panicked != 4 {
		t.Errorf("Expected 4 panics, got %d", stats.Panicked)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	processor := func(_ context.Context, _ testWork) error {
		<-block
		return nil
	}

	pool := NewPool(1, 1, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	if err := pool.Submit(testWork{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return pool.Stats().QueueDepth == 0 })

	if err := pool.Stop(50 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Expected ErrStopTimeout, got %v", err)
	}
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(1, 4, processor, WithMetricsRegistry[testWork](registry, "test_pool"))
	if pool.metrics == nil {
		t.Fatal("Expected metrics to be initialized")
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	_ = pool.Submit(testWork{})
	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	families, err := registry.PrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "test_pool_processed_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected test_pool_processed_total to be registered")
	}
}
