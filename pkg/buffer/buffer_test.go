package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/metric"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	if !buf.IsEmpty() {
		t.Error("Expected buffer to be empty initially")
	}
	for _, s := range []string{"first", "second", "third"} {
		require.NoError(t, buf.Write(s))
	}
	if !buf.IsFull() {
		t.Error("Expected buffer to be full")
	}
	if buf.Capacity() != 3 {
		t.Errorf("Expected capacity 3, got %d", buf.Capacity())
	}

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, []string{"second", "third"}, buf.ReadBatch(10))

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(0))
}

func TestCircularBufferOverflowPolicies(t *testing.T) {
	tests := []struct {
		policy  OverflowPolicy
		want    []int
		dropped []int
	}{
		{DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			var dropped []int
			buf, err := NewCircularBuffer[int](3,
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback(func(v int) { dropped = append(dropped, v) }))
			require.NoError(t, err)
			defer buf.Close()

			for i := 1; i <= 5; i++ {
				require.NoError(t, buf.Write(i))
			}
			assert.Equal(t, tt.want, buf.ReadBatch(5))
			assert.Equal(t, tt.dropped, dropped)

			stats := buf.Stats().Summary()
			assert.Equal(t, int64(2), stats.Drops)
			assert.Equal(t, int64(3), stats.MaxSize)
		})
	}
}

func TestCircularBufferBlockPolicy(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))

	written := make(chan error, 1)
	go func() { written <- buf.Write(2) }()

	select {
	case <-written:
		t.Fatal("Write on a full Block buffer returned before space was freed")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	require.NoError(t, <-written)

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCircularBufferWriteContextCancelled(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()
	require.NoError(t, buf.Write(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = buf.WriteContext(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, buf.Size())
}

func TestCircularBufferCloseReleasesWaiters(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	var wg sync.WaitGroup
	var writeErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		writeErr = buf.Write(2)
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, buf.Close())
	wg.Wait()
	assert.ErrorIs(t, writeErr, errors.ErrClosed)

	// queued items survive close
	v, ok := buf.ReadWait(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = buf.ReadWait(context.Background())
	assert.False(t, ok, "closed and drained")

	assert.ErrorIs(t, buf.Write(3), errors.ErrClosed)
}

func TestCircularBufferReadWait(t *testing.T) {
	buf, err := NewCircularBuffer[string](4)
	require.NoError(t, err)
	defer buf.Close()

	got := make(chan string, 1)
	go func() {
		v, _ := buf.ReadWait(context.Background())
		got <- v
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, buf.Write("x"))
	assert.Equal(t, "x", <-got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := buf.ReadWait(ctx)
	assert.False(t, ok)
}

func TestCircularBufferClear(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](4, WithDropCallback(func(v int) { dropped = append(dropped, v) }))
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Clear()
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, []int{0, 1, 2}, dropped)

	require.NoError(t, buf.Write(9))
	assert.Equal(t, []int{9}, buf.ReadBatch(4))
}

func TestCircularBufferMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithMetrics[int](registry, "isolate_test"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Read()

	cb := buf.(*circularBuffer[int])
	assert.Equal(t, 2.0, testutil.ToFloat64(cb.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.size))

	// the same component label may be reused once the buffer is closed
	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "isolate_test"))
	assert.Error(t, err)
	require.NoError(t, buf.Close())
	again, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "isolate_test"))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestCircularBufferConcurrentProducers(t *testing.T) {
	buf, err := NewCircularBuffer[int](8, WithOverflowPolicy[int](Block))
	require.NoError(t, err)

	const producers, each = 4, 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_ = buf.Write(i)
			}
		}()
	}

	done := make(chan int)
	go func() {
		n := 0
		for {
			if _, ok := buf.ReadWait(context.Background()); !ok {
				done <- n
				return
			}
			n++
		}
	}()

	wg.Wait()
	require.NoError(t, buf.Close())
	assert.Equal(t, producers*each, <-done)
	assert.Equal(t, int64(0), buf.Stats().Drops())
}
