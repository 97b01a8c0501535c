package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/transport/memory"
)

// checkLeaks verifies no goroutine outlives the test. It must be called
// first so that it runs after the client cleanups.
func checkLeaks(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
}

func startClient(t *testing.T, broker *memory.Broker, name string, endpoints []bus.Endpoint, opts ...memory.Option) (*bus.Client, *memory.Transport) {
	t.Helper()
	tr := broker.NewTransport(opts...)
	c, err := bus.NewClient(tr, bus.WithName(name))
	require.NoError(t, err)
	require.NoError(t, c.Register(endpoints...))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, tr
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("nothing received")
	}
	var zero T
	return zero
}
