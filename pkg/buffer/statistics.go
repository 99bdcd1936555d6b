package buffer

import (
	"sync/atomic"
)

// Statistics counts buffer activity.
type Statistics struct {
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) write() { s.writes.Add(1) }
func (s *Statistics) read()  { s.reads.Add(1) }
func (s *Statistics) drop()  { s.drops.Add(1) }

func (s *Statistics) updateSize(size int) {
	n := int64(size)
	s.size.Store(n)
	for {
		old := s.maxSize.Load()
		if n <= old || s.maxSize.CompareAndSwap(old, n) {
			return
		}
	}
}

// Writes returns the number of accepted items.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items read.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of items discarded by the overflow policy or Clear.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the number of queued items.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// DropRate returns drops per accepted write, 0 when nothing was written.
func (s *Statistics) DropRate() float64 {
	writes := s.Writes()
	if writes == 0 {
		return 0.0
	}
	return float64(s.Drops()) / float64(writes)
}

// StatsSummary is a point-in-time copy of the statistics.
type StatsSummary struct {
	Writes      int64   `json:"writes"`
	Reads       int64   `json:"reads"`
	Drops       int64   `json:"drops"`
	CurrentSize int64   `json:"current_size"`
	MaxSize     int64   `json:"max_size"`
	DropRate    float64 `json:"drop_rate"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		DropRate:    s.DropRate(),
	}
}
