package window

import (
	"fmt"
	"time"
)

// Eviction decides which items a partition retains after each insert.
type Eviction struct {
	lastN          int
	maxAge         time.Duration
	clearOnTrigger bool
}

// LastN retains the n most recent items.
func LastN(n int) Eviction {
	return Eviction{lastN: n}
}

// LastDuration retains items inserted less than d ago. Items are also
// evicted by a timer when they age out, without waiting for an insert.
func LastDuration(d time.Duration) Eviction {
	return Eviction{maxAge: d}
}

// Unbounded retains everything; pair it with ClearOnTrigger.
func Unbounded() Eviction {
	return Eviction{}
}

// ClearOnTrigger empties the partition after each processor call,
// turning the window into a tumbling batch.
func (e Eviction) ClearOnTrigger() Eviction {
	e.clearOnTrigger = true
	return e
}

func (e Eviction) validate() error {
	if e.lastN < 0 {
		return fmt.Errorf("last-n must not be negative, got %d", e.lastN)
	}
	if e.maxAge < 0 {
		return fmt.Errorf("max age must not be negative, got %s", e.maxAge)
	}
	return nil
}

// String describes the policy.
func (e Eviction) String() string {
	var s string
	switch {
	case e.lastN > 0:
		s = fmt.Sprintf("last(%d)", e.lastN)
	case e.maxAge > 0:
		s = fmt.Sprintf("last(%s)", e.maxAge)
	default:
		s = "unbounded"
	}
	if e.clearOnTrigger {
		s += "+clear"
	}
	return s
}

// Trigger decides when a partition's contents are handed to the processor.
type Trigger struct {
	count    int
	interval time.Duration
}

// EveryInsert fires after every insert.
func EveryInsert() Trigger {
	return Trigger{count: 1}
}

// EveryCount fires after every k inserts into a partition.
func EveryCount(k int) Trigger {
	return Trigger{count: k}
}

// Every fires each non-empty partition on a fixed interval.
func Every(d time.Duration) Trigger {
	return Trigger{interval: d}
}

func (t Trigger) validate() error {
	switch {
	case t.count < 0 || t.interval < 0:
		return fmt.Errorf("trigger values must not be negative")
	case t.count == 0 && t.interval == 0:
		return fmt.Errorf("trigger must fire on a count or an interval")
	case t.count > 0 && t.interval > 0:
		return fmt.Errorf("trigger cannot combine count and interval")
	}
	return nil
}

// String describes the policy.
func (t Trigger) String() string {
	switch {
	case t.count == 1:
		return "every-insert"
	case t.count > 1:
		return fmt.Sprintf("every(%d)", t.count)
	default:
		return fmt.Sprintf("every(%s)", t.interval)
	}
}
