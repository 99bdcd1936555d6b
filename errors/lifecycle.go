package errors

import (
	"errors"
	"fmt"
	"strings"
)

// LifecycleError reports an oplet whose initialize or start step failed.
// The enclosing job transition is aborted when one is returned.
type LifecycleError struct {
	Oplet  string
	Action string
	Err    error
}

// Error implements the error interface
func (le *LifecycleError) Error() string {
	return fmt.Sprintf("oplet %s: %s failed: %v", le.Oplet, le.Action, le.Err)
}

// Unwrap returns the underlying error
func (le *LifecycleError) Unwrap() error {
	return le.Err
}

// NewLifecycleError builds a LifecycleError, recovering a panic value into an error.
func NewLifecycleError(oplet, action string, cause any) *LifecycleError {
	return &LifecycleError{Oplet: oplet, Action: action, Err: asError(cause)}
}

// CloseFailure is a single oplet that failed to close.
type CloseFailure struct {
	Oplet string
	Err   error
}

// CloseError collects every close failure from one shutdown sweep.
type CloseError struct {
	Failures []CloseFailure
}

// Error implements the error interface
func (ce *CloseError) Error() string {
	parts := make([]string, 0, len(ce.Failures))
	for _, f := range ce.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Oplet, f.Err))
	}
	return fmt.Sprintf("close failed for %d oplet(s): %s", len(ce.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every collected cause to errors.Is and errors.As.
func (ce *CloseError) Unwrap() []error {
	errs := make([]error, 0, len(ce.Failures))
	for _, f := range ce.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Add records a failure. A nil cause is ignored.
func (ce *CloseError) Add(oplet string, cause any) {
	if cause == nil {
		return
	}
	ce.Failures = append(ce.Failures, CloseFailure{Oplet: oplet, Err: asError(cause)})
}

// ErrOrNil returns ce when at least one failure was recorded.
func (ce *CloseError) ErrOrNil() error {
	if ce == nil || len(ce.Failures) == 0 {
		return nil
	}
	return ce
}

func asError(v any) error {
	switch e := v.(type) {
	case nil:
		return nil
	case error:
		return e
	case string:
		return errors.New(e)
	default:
		return fmt.Errorf("panic: %v", e)
	}
}
