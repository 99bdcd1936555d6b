//go:build integration

package natsctl

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/control"
	"github.com/c360/edgestreams/errors"
	"github.com/c360/edgestreams/natsclient"
)

func TestIntegration_ControlOverNATS(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx := context.Background()

	v := &valve{}
	srv := NewServer(tc.Client, newRegistry(t, v))
	require.NoError(t, srv.Start(ctx))

	caller, err := natsclient.NewClient(tc.URL, natsclient.WithTimeout(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, caller.Connect(ctx))
	t.Cleanup(func() { _ = caller.Close(context.Background()) })

	send := func(req control.Request) control.Response {
		data, err := json.Marshal(req)
		require.NoError(t, err)
		raw, err := caller.Request(ctx, srv.Subject(), data)
		require.NoError(t, err)
		var resp control.Response
		require.NoError(t, json.Unmarshal(raw, &resp))
		return resp
	}

	assert.True(t, send(control.Request{Type: "valve", Alias: "main", Op: "open"}).Handled)
	assert.False(t, send(control.Request{Type: "valve", Alias: "main", Op: "close"}).Handled)
	assert.Equal(t, 1, v.opened)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	reqCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = caller.Request(reqCtx, srv.Subject(), []byte(`{}`))
	assert.True(t, errors.IsTransient(err))
}

func TestIntegration_ClientLifecycle(t *testing.T) {
	tc := natsclient.NewTestClient(t)

	assert.True(t, tc.Client.IsHealthy())
	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	got := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(context.Background(), "edge.events", func(_ context.Context, data []byte) {
		got <- data
	}))
	require.NoError(t, tc.Client.Publish(context.Background(), "edge.events", []byte("hello")))

	select {
	case data := <-got:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	tc.Terminate()
	assert.Equal(t, natsclient.StatusDisconnected, tc.Client.Status())
}
