package engine

import (
	"fmt"
	"strings"

	"github.com/c360/edgestreams/errors"
)

// State is a job lifecycle state
type State int

const (
	// Constructed indicates the job was submitted but not initialized
	Constructed State = iota
	// Initialized indicates every oplet was initialized and bound
	Initialized
	// Running indicates oplets are started and may submit tuples
	Running
	// Paused indicates pausable oplets were paused
	Paused
	// Closed is terminal; every oplet was given a chance to close
	Closed
)

// String returns the state name used in logs, metrics and snapshots
func (s State) String() string {
	switch s {
	case Constructed:
		return "CONSTRUCTED"
	case Initialized:
		return "INITIALIZED"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Action requests a job state transition
type Action int

const (
	// Initialize moves CONSTRUCTED to INITIALIZED
	Initialize Action = iota
	// Start moves INITIALIZED or PAUSED to RUNNING
	Start
	// Pause moves RUNNING to PAUSED
	Pause
	// Close moves any state to CLOSED
	Close
)

// String returns the action name
func (a Action) String() string {
	switch a {
	case Initialize:
		return "INITIALIZE"
	case Start:
		return "START"
	case Pause:
		return "PAUSE"
	case Close:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ParseAction parses an action name, case-insensitively
func ParseAction(s string) (Action, error) {
	for _, a := range []Action{Initialize, Start, Pause, Close} {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, errors.WrapInvalid(fmt.Errorf("%w: unknown action %q", errors.ErrInvalidTransition, s),
		"engine", "ParseAction", "parse action")
}

// target returns the state action leads to from s.
func target(s State, a Action) (State, bool) {
	switch a {
	case Initialize:
		return Initialized, s == Constructed
	case Start:
		return Running, s == Initialized || s == Paused
	case Pause:
		return Paused, s == Running
	case Close:
		return Closed, true
	}
	return s, false
}
