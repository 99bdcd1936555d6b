package plumbing

import (
	"fmt"
	"sync/atomic"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/oplet"
	"github.com/c360/edgestreams/pkg/scheduler"
)

// UnorderedIsolate hands every tuple to the runtime executor, so the
// upstream submitter returns at once and downstream runs on the executor's
// workers. Tuples may arrive downstream in any order. A tuple the executor
// rejects is dropped.
type UnorderedIsolate[T any] struct {
	oplet.Base
	exec   Executor
	closed atomic.Bool
}

// NewUnorderedIsolate creates an unordered isolate.
func NewUnorderedIsolate[T any]() *UnorderedIsolate[T] {
	return &UnorderedIsolate[T]{}
}

func (u *UnorderedIsolate[T]) Kind() string { return "UnorderedIsolate" }

func (u *UnorderedIsolate[T]) Shape() oplet.Shape { return oplet.ShapePipe }

// Initialize looks up the executor service.
func (u *UnorderedIsolate[T]) Initialize(ctx oplet.Context) error {
	if err := u.Base.Initialize(ctx); err != nil {
		return err
	}
	exec, ok := oplet.ServiceOf[*scheduler.Scheduler](ctx)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: scheduler service", errors.ErrNotFound),
			"UnorderedIsolate", "Initialize", "lookup executor")
	}
	u.exec = exec
	return nil
}

func (u *UnorderedIsolate[T]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		v, ok := oplet.As[T](&u.Base, tuple)
		if !ok || u.closed.Load() {
			return
		}
		err := u.exec.Execute(func() {
			if !u.closed.Load() {
				u.Submit(0, v)
			}
		})
		if err != nil {
			u.Drop("executor_rejected", v)
		}
	}}
}

// Close stops tasks still queued on the executor from submitting.
func (u *UnorderedIsolate[T]) Close() error {
	u.closed.Store(true)
	return nil
}
