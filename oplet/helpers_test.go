package oplet

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/graph"
	"github.com/c360/edgestreams/pkg/scheduler"
	"github.com/c360/edgestreams/service"
)

// testContext is a standalone Context whose outputs record submissions.
type testContext struct {
	id       string
	kind     string
	inputs   int
	services *service.Container

	mu  sync.Mutex
	out [][]any
}

func newTestContext(t *testing.T, inputs, outputs int) *testContext {
	t.Helper()
	return &testContext{
		id:       "OP_0",
		kind:     "test",
		inputs:   inputs,
		services: service.NewContainer(),
		out:      make([][]any, outputs),
	}
}

func (c *testContext) withScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })
	require.NoError(t, service.Add[scheduler.Timers](c.services, s))
	return s
}

func (c *testContext) ID() string   { return c.id }
func (c *testContext) Kind() string { return c.kind }

func (c *testContext) Service(capability reflect.Type) (any, bool) {
	return c.services.Lookup(capability)
}

func (c *testContext) InputCount() int  { return c.inputs }
func (c *testContext) OutputCount() int { return len(c.out) }

func (c *testContext) Outputs() []graph.Consumer {
	outs := make([]graph.Consumer, len(c.out))
	for i := range outs {
		port := i
		outs[i] = func(tuple any) {
			c.mu.Lock()
			c.out[port] = append(c.out[port], tuple)
			c.mu.Unlock()
		}
	}
	return outs
}

func (c *testContext) JobID() string   { return "JOB_0" }
func (c *testContext) JobName() string { return "app_JOB_0" }

func (c *testContext) Uniquify(name string) string {
	return fmt.Sprintf("%s.%s.%s", name, c.JobID(), c.id)
}

func (c *testContext) Logger() *slog.Logger { return slog.Default() }

func (c *testContext) port(i int) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.out[i]))
	copy(out, c.out[i])
	return out
}

// run initializes o and feeds tuples to input port 0.
func run(t *testing.T, o Oplet, ctx *testContext, tuples ...any) {
	t.Helper()
	require.NoError(t, o.Initialize(ctx))
	require.NoError(t, o.Start())
	in := o.Inputs()
	for _, tuple := range tuples {
		in[0](tuple)
	}
}
