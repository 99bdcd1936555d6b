// Package pubsub connects jobs in one process through named topics. Each
// topic has its own lock, so publishing on one topic never waits on
// another.
package pubsub

import (
	"log/slog"
	"sort"
	"sync"
)

// TopicHandler fans published tuples out to the subscribers of a topic.
type TopicHandler struct {
	mu     sync.RWMutex
	topics map[string]*topic
	logger *slog.Logger
}

type topic struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(any)
	order  []uint64
}

// NewTopicHandler creates an empty handler.
func NewTopicHandler(logger *slog.Logger) *TopicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopicHandler{
		topics: make(map[string]*topic),
		logger: logger.With("component", "pubsub"),
	}
}

func (h *TopicHandler) topic(name string, create bool) *topic {
	h.mu.RLock()
	t, ok := h.topics[name]
	h.mu.RUnlock()
	if ok || !create {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok = h.topics[name]; !ok {
		t = &topic{subs: make(map[uint64]func(any))}
		h.topics[name] = t
	}
	return t
}

// Subscribe registers fn for name and returns the function that removes it.
// Subscribers are called in subscription order on the publishing goroutine.
func (h *TopicHandler) Subscribe(name string, fn func(tuple any)) (unsubscribe func()) {
	t := h.topic(name, true)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.order = append(t.order, id)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			for i, o := range t.order {
				if o == id {
					t.order = append(t.order[:i:i], t.order[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
		})
	}
}

// Publish delivers tuple to every subscriber of name and returns how many
// received it.
func (h *TopicHandler) Publish(name string, tuple any) int {
	t := h.topic(name, false)
	if t == nil {
		return 0
	}

	t.mu.RLock()
	fns := make([]func(any), 0, len(t.order))
	for _, id := range t.order {
		fns = append(fns, t.subs[id])
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(tuple)
	}
	return len(fns)
}

// Subscribers returns the number of subscribers of name.
func (h *TopicHandler) Subscribers(name string) int {
	t := h.topic(name, false)
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Topics returns the names of topics that have been subscribed to.
func (h *TopicHandler) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.topics))
	for name := range h.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
