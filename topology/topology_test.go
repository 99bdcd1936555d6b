package topology_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/engine"
	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/topology"
	"github.com/c360/edgestreams/window"
)

func kinds(top *topology.Topology) []string {
	var out []string
	for _, v := range top.Graph().Vertices() {
		out = append(out, v.Kind())
	}
	return out
}

func noEvents(func(int)) func() { return func() {} }

func TestStreams_LowerToGraph(t *testing.T) {
	top := topology.New("lowering")
	s := topology.Events(top, noEvents)
	s = topology.Filter(s, func(v int) bool { return v > 0 })
	words := topology.FlatMap(s, func(v int) []string { return []string{"x"} })
	words = topology.Peek(words, func(string) {})
	topology.Sink(words, func(string) {})

	require.NoError(t, top.Err())
	assert.Equal(t, "lowering", top.Name())
	assert.Equal(t, []string{"Events", "Filter", "FlatMap", "Peek", "Sink"}, kinds(top))

	edges := top.Graph().Edges()
	require.Len(t, edges, 4)
	for i, e := range edges {
		assert.Equal(t, i, e.Source.Index())
		assert.Equal(t, i+1, e.Target.Index())
	}
}

func TestSplitAndUnion(t *testing.T) {
	top := topology.New("fan")
	s := topology.Events(top, noEvents)
	parts := topology.Split(s, 3, func(v int) int { return v % 3 })
	require.Len(t, parts, 3)
	merged := topology.Union(parts[0], parts[2])
	topology.Sink(merged, func(int) {})
	topology.Sink(parts[1], func(int) {})

	require.NoError(t, top.Err())
	split := top.Graph().Vertices()[1]
	assert.Equal(t, 3, split.OutputCount())
	union := top.Graph().Vertices()[2]
	assert.Equal(t, "Union", union.Kind())
	assert.Equal(t, 2, union.InputCount())
}

func TestSplit_NegativeArity(t *testing.T) {
	top := topology.New("fan")
	s := topology.Events(top, noEvents)

	var parts []topology.Stream[int]
	require.NotPanics(t, func() {
		parts = topology.Split(s, -1, func(v int) int { return v })
	})
	assert.Empty(t, parts)

	err := top.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidArity)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, []string{"Events"}, kinds(top))
}

func TestTag(t *testing.T) {
	top := topology.New("tags")
	s := topology.Events(top, noEvents).Tag("raw", "sensor")
	topology.Sink(s, func(int) {})
	assert.Equal(t, []string{"raw", "sensor"}, s.Connector().Tags())
}

func TestErrorsAreSticky(t *testing.T) {
	top := topology.New("broken")
	s := topology.Events(top, noEvents)
	bad := topology.Last(s, -1, func(v int) int { return v }, func(items []int, _ int) (int, bool) { return 0, true })
	require.Error(t, top.Err())
	assert.ErrorIs(t, top.Err(), errors.ErrInvalidConfig)
	assert.Nil(t, bad.Connector())

	first := top.Err()
	more := topology.Map(bad, func(v int) int { return v })
	topology.Sink(more, func(int) {})
	assert.Equal(t, first, top.Err())
	assert.Equal(t, 1, top.Graph().Len(), "nothing added after the first error")
}

func TestUnion_AcrossTopologies(t *testing.T) {
	a := topology.New("a")
	b := topology.New("b")
	topology.Union(topology.Events(a, noEvents), topology.Events(b, noEvents))
	assert.Error(t, a.Err())
	assert.NoError(t, b.Err())

	empty := topology.Union[int]()
	assert.Nil(t, empty.Topology())
}

func TestTopologyRunsOnProvider(t *testing.T) {
	p, err := engine.NewProvider(engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer p.Close(context.Background())

	var (
		mu      sync.Mutex
		emit    func(int)
		lasts   []int
		batches [][]int
	)
	top := p.NewTopology("windows")
	s := topology.Events(top, func(e func(int)) func() {
		mu.Lock()
		emit = e
		mu.Unlock()
		return func() {}
	})
	sum := func(items []int, _ int) (int, bool) {
		total := 0
		for _, v := range items {
			total += v
		}
		return total, true
	}
	topology.Sink(topology.Last(s, 2, func(int) int { return 0 }, sum), func(v int) {
		mu.Lock()
		lasts = append(lasts, v)
		mu.Unlock()
	})
	copyBatch := func(items []int, _ int) ([]int, bool) { return append([]int(nil), items...), true }
	topology.Sink(topology.Batch(s, 3, func(int) int { return 0 }, copyBatch), func(b []int) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})

	_, err = p.Submit(context.Background(), top)
	require.NoError(t, err)
	for i := 1; i <= 7; i++ {
		emit(i)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 3, 5, 7, 9, 11, 13}, lasts)
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}}, batches)
}

func TestAggregate_TimedWindowReceivesEmitsDuringStart(t *testing.T) {
	p, err := engine.NewProvider(engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer p.Close(context.Background())

	var (
		mu   sync.Mutex
		outs []int
	)
	top := p.NewTopology("eager")
	// the source emits while the job is starting its oplets
	s := topology.Events(top, func(emit func(int)) func() {
		for i := 1; i <= 3; i++ {
			emit(i)
		}
		return func() {}
	})
	latest := topology.Aggregate(s, func(int) int { return 0 },
		window.LastDuration(time.Minute), window.EveryInsert(),
		func(items []int, _ int) (int, bool) { return items[len(items)-1], true })
	topology.Sink(latest, func(v int) {
		mu.Lock()
		outs = append(outs, v)
		mu.Unlock()
	})

	_, err = p.Submit(context.Background(), top)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, outs)
}

func TestAggregate_TimedTrigger(t *testing.T) {
	p, err := engine.NewProvider(engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer p.Close(context.Background())

	var (
		mu   sync.Mutex
		emit func(string)
		seen = map[string]int{}
	)
	top := p.NewTopology("timed")
	s := topology.Events(top, func(e func(string)) func() {
		mu.Lock()
		emit = e
		mu.Unlock()
		return func() {}
	})
	counts := topology.Aggregate(s, func(v string) string { return v },
		window.Unbounded().ClearOnTrigger(), window.Every(10*time.Millisecond),
		func(items []string, key string) (string, bool) { return key, len(items) > 0 })
	topology.Sink(counts, func(k string) {
		mu.Lock()
		seen[k]++
		mu.Unlock()
	})

	_, err = p.Submit(context.Background(), top)
	require.NoError(t, err)
	emit("a")
	emit("b")
	emit("a")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	mu.Unlock()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)
}
