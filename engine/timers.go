package engine

import (
	"sync"
	"time"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/pkg/scheduler"
)

// jobTimers tracks every handle a job's oplets arm on the shared
// scheduler, so CLOSE can cancel them all.
type jobTimers struct {
	sched scheduler.Timers

	mu      sync.Mutex
	handles []*scheduler.Handle
	prune   int
	closed  bool
}

var _ scheduler.Timers = (*jobTimers)(nil)

func newJobTimers(s scheduler.Timers) *jobTimers {
	return &jobTimers{sched: s, prune: 64}
}

func (t *jobTimers) Schedule(delay time.Duration, fn func()) (*scheduler.Handle, error) {
	return t.track(func() (*scheduler.Handle, error) { return t.sched.Schedule(delay, fn) })
}

func (t *jobTimers) Every(period time.Duration, fn func()) (*scheduler.Handle, error) {
	return t.track(func() (*scheduler.Handle, error) { return t.sched.Every(period, fn) })
}

func (t *jobTimers) track(arm func() (*scheduler.Handle, error)) (*scheduler.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.WrapInvalid(errors.ErrClosed, "Job", "Schedule", "arm timer")
	}
	h, err := arm()
	if err != nil {
		return nil, err
	}
	t.handles = append(t.handles, h)

	// one-shot handles accumulate; drop the finished ones now and then
	if len(t.handles) >= t.prune {
		live := t.handles[:0]
		for _, h := range t.handles {
			if h.Pending() {
				live = append(live, h)
			}
		}
		clear(t.handles[len(live):])
		t.handles = live
		t.prune = max(64, 2*len(live))
	}
	return h, nil
}

// cancelAll cancels every pending handle and refuses new ones. It returns
// the number of handles that were still pending.
func (t *jobTimers) cancelAll() int {
	t.mu.Lock()
	handles := t.handles
	t.handles = nil
	t.closed = true
	t.mu.Unlock()

	n := 0
	for _, h := range handles {
		if h.Cancel() {
			n++
		}
	}
	return n
}

// pending returns the number of live handles.
func (t *jobTimers) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, h := range t.handles {
		if h.Pending() {
			n++
		}
	}
	return n
}
