// Package natsclient wraps a core NATS connection with a circuit breaker and
// the request/reply helpers used by the control transport.
//
// Connection lifecycle: Disconnected → Connecting → Connected, with
// Reconnecting while the underlying client retries and CircuitOpen after
// repeated connect failures. While the circuit is open Connect fails fast
// with ErrCircuitOpen; it closes again after a backoff that doubles per
// round up to the configured maximum.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("edge-gateway"),
//		natsclient.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Reply(ctx, "edgestreams.control", func(ctx context.Context, req []byte) []byte {
//		...
//	})
//
// NewTestClient starts a throwaway NATS server in a container for tests that
// need a real broker.
package natsclient
