package plumbing

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/oplet"
)

// Throttle limits the rate of tuples passing through it. By default the
// submitter is held until the limiter admits the tuple; with DropExcess
// tuples over the rate are discarded instead.
type Throttle[T any] struct {
	oplet.Base
	limiter *rate.Limiter
	drop    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewThrottle admits one tuple per interval, allowing bursts of burst.
func NewThrottle[T any](interval time.Duration, burst int) *Throttle[T] {
	return &Throttle[T]{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// DropExcess discards tuples over the rate rather than waiting.
func (t *Throttle[T]) DropExcess() *Throttle[T] {
	t.drop = true
	return t
}

func (t *Throttle[T]) Kind() string { return "Throttle" }

func (t *Throttle[T]) Shape() oplet.Shape { return oplet.ShapePipe }

// Initialize validates the limiter.
func (t *Throttle[T]) Initialize(ctx oplet.Context) error {
	if err := t.Base.Initialize(ctx); err != nil {
		return err
	}
	if t.limiter.Limit() <= 0 || t.limiter.Burst() <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: rate %v burst %d", errors.ErrInvalidConfig, t.limiter.Limit(), t.limiter.Burst()),
			"Throttle", "Initialize", "validate rate")
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return nil
}

func (t *Throttle[T]) Inputs() []graph.Consumer {
	return []graph.Consumer{func(tuple any) {
		v, ok := oplet.As[T](&t.Base, tuple)
		if !ok {
			return
		}
		if t.drop {
			if !t.limiter.Allow() {
				t.Drop("throttled", v)
				return
			}
		} else if err := t.limiter.Wait(t.ctx); err != nil {
			t.Drop("throttle_closed", v)
			return
		}
		t.Submit(0, v)
	}}
}

// SetInterval changes the admitted rate.
func (t *Throttle[T]) SetInterval(interval time.Duration) {
	t.limiter.SetLimit(rate.Every(interval))
}

// Close releases submitters waiting on the limiter.
func (t *Throttle[T]) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}
