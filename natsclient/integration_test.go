//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/metric"
	"github.com/c360/testbedbus/protocol"
	"github.com/c360/testbedbus/topic"
)

type endpoint struct {
	filter string
	cb     bus.Callback
}

func (e endpoint) Filter() string         { return e.filter }
func (e endpoint) Callback() bus.Callback { return e.cb }

func startBus(t *testing.T, url, name string, endpoints ...bus.Endpoint) (*bus.Client, *Client) {
	t.Helper()
	transport, err := NewClient(url, WithName(name), WithMaxReconnects(0))
	require.NoError(t, err)

	client, err := bus.NewClient(transport, bus.WithName(name))
	require.NoError(t, err)
	require.NoError(t, client.Register(endpoints...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Start(ctx))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })
	return client, transport
}

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	srv := NewTestServer(t)

	_, transport := startBus(t, srv.URL, "probe")
	assert.True(t, transport.IsHealthy())
	assert.Equal(t, StatusConnected, transport.Status())

	rtt, err := transport.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_TopicRouting(t *testing.T) {
	srv := NewTestServer(t)

	got := make(chan string, 8)
	collect := func(msg *bus.Message) { got <- msg.Topic }
	startBus(t, srv.URL, "listener",
		endpoint{"grenoble/agent/error/#", collect},
		endpoint{"node/+/serial", collect},
	)
	publisher, _ := startBus(t, srv.URL, "publisher")

	ctx := context.Background()
	for _, name := range []string{
		"grenoble/agent/error/",
		"grenoble/agent/error/m3/3/line",
		"node/a.b/serial",
		"node/1/serial/extra",
	} {
		require.NoError(t, bus.Wait(ctx, publisher.Publish(name, []byte("x"))))
	}

	var received []string
	timeout := time.After(5 * time.Second)
	for len(received) < 3 {
		select {
		case name := <-got:
			received = append(received, name)
		case <-timeout:
			t.Fatalf("received only %v", received)
		}
	}
	assert.ElementsMatch(t, []string{
		"grenoble/agent/error/",
		"grenoble/agent/error/m3/3/line",
		"node/a.b/serial",
	}, received)
}

func TestIntegration_RequestReply(t *testing.T) {
	srv := NewTestServer(t)

	server, err := protocol.NewRequestServer("node/{archi}/{num}", "reset",
		func(msg *bus.Message, fields topic.Fields) protocol.Answer {
			return protocol.Reply([]byte("reset " + fields["archi"] + "-" + fields["num"]))
		})
	require.NoError(t, err)
	startBus(t, srv.URL, "gateway", server)

	registry := metric.NewMetricsRegistry()
	caller, err := protocol.NewRequestClient("node/{archi}/{num}", "reset", "it", protocol.WithMetrics(registry))
	require.NoError(t, err)
	conn, _ := startBus(t, srv.URL, "caller", caller)

	answer, err := caller.Request(context.Background(), conn, nil, topic.Fields{"archi": "m3", "num": "12"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "reset m3-12", string(answer))
	assert.Equal(t, 0.0, testutil.ToFloat64(registry.CoreMetrics().PendingRequests.WithLabelValues("reset")))
}

func TestIntegration_ConnectionLost(t *testing.T) {
	srv := NewTestServer(t)

	states := make(chan bus.State, 16)
	transport, err := NewClient(srv.URL, WithMaxReconnects(0))
	require.NoError(t, err)
	client, err := bus.NewClient(transport, bus.WithStateCallback(func(s bus.State, _ error) {
		states <- s
	}))
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(context.Background())
	for len(states) > 0 {
		<-states
	}

	require.NoError(t, srv.Stop(context.Background()))

	deadline := time.After(15 * time.Second)
	for {
		select {
		case s := <-states:
			if s == bus.StateConnecting {
				assert.NotEqual(t, StatusConnected, transport.Status())
				return
			}
		case <-deadline:
			t.Fatal("connection loss not reported")
		}
	}
}

func TestIntegration_Metrics(t *testing.T) {
	srv := NewTestServer(t)

	registry := metric.NewMetricsRegistry()
	transport, err := NewClient(srv.URL, WithMetrics(registry, 50*time.Millisecond))
	require.NoError(t, err)
	client, err := bus.NewClient(transport)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Wait(context.Background(), client.Publish("metrics/test", []byte("data"))))
	}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(transport.connMetrics.messages.WithLabelValues("out")) >= 3
	}, 5*time.Second, 50*time.Millisecond)
}
