package natsclient

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/metric"
)

// unreachable has nothing listening.
const unreachable = "nats://127.0.0.1:1"

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())

	_, err = client.RTT()
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	status := client.GetStatus()
	assert.Equal(t, StatusDisconnected, status.Status)
	assert.Zero(t, status.RTT)
}

func TestNewClient_Options(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithName("gateway"),
		WithCredentials("user", "secret"),
		WithToken("token"),
		WithCompression(true),
		WithTLS("cert.pem", "key.pem", "ca.pem"),
		WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS13}),
		WithFlushTimeout(time.Second),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithPingInterval(time.Minute),
		WithTimeout(time.Second),
		WithDrainTimeout(time.Second),
		WithLogger(nil),
	)
	require.NoError(t, err)
	assert.Equal(t, "gateway", client.clientName)
	assert.Equal(t, time.Second, client.flushTimeout)
	assert.Equal(t, 3, client.maxReconnects)
	// base handlers, credentials, token, secure, client cert, root CA, name, compression
	assert.Len(t, client.ConnectionOptions(), 9+7)

	_, err = NewClient("nats://localhost:4222", WithFlushTimeout(0))
	assert.True(t, errors.IsInvalid(err))

	client, err = NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0), WithMaxBackoff(0))
	require.NoError(t, err)
	assert.Equal(t, int32(5), client.circuitThreshold)
	assert.Equal(t, time.Minute, client.maxBackoff)
}

func TestNewClient_MetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	_, err := NewClient("nats://localhost:4222", WithMetrics(registry, time.Second))
	require.NoError(t, err)

	_, err = NewClient("nats://localhost:4222", WithMetrics(registry, time.Second))
	assert.True(t, errors.IsInvalid(err), "second client must not register the same metrics")

	_, err = NewClient("nats://localhost:4222", WithMetrics(nil, 0))
	assert.NoError(t, err)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

// Test circuit breaker opens after failures
func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 100; i++ {
		client.recordFailure()
	}
	assert.Equal(t, time.Minute, client.Backoff())
}

func TestCircuitBreaker_HalfOpens(t *testing.T) {
	client, err := NewClient(unreachable)
	require.NoError(t, err)

	client.setStatus(StatusCircuitOpen)
	client.testCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())

	client.setStatus(StatusConnected)
	client.testCircuit()
	assert.Equal(t, StatusConnected, client.Status(), "only an open circuit half-opens")
}

func TestConnect_FailuresOpenCircuit(t *testing.T) {
	client, err := NewClient(unreachable,
		WithCircuitBreakerThreshold(2),
		WithTimeout(200*time.Millisecond),
	)
	require.NoError(t, err)

	ctx := context.Background()
	err = client.Connect(ctx, bus.Handlers{})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())

	err = client.Connect(ctx, bus.Handlers{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StatusCircuitOpen, client.Status())

	err = client.Connect(ctx, bus.Handlers{})
	assert.ErrorIs(t, err, ErrCircuitOpen, "open circuit fails fast")
	assert.Equal(t, int32(2), client.Failures())
}

func TestConnect_Cancelled(t *testing.T) {
	client, err := NewClient(unreachable)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The dial may fail before the cancellation is seen, both are transient.
	err = client.Connect(ctx, bus.Handlers{})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestNotConnected(t *testing.T) {
	client, err := NewClient(unreachable)
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, bus.Wait(ctx, client.Subscribe("a/#")), errors.ErrNotConnected)
	assert.ErrorIs(t, bus.Wait(ctx, client.Publish("a/b", nil)), errors.ErrNotConnected)
	assert.ErrorIs(t, bus.Wait(ctx, client.Publish("a/+", nil)), errors.ErrInvalidValue)
	assert.NoError(t, client.Disconnect(ctx))
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestSlogLogger(t *testing.T) {
	logger := NewSlogLogger(nil)
	assert.NotPanics(t, func() {
		logger.Printf("connected to %s", "nats://localhost:4222")
		logger.Debugf("debug %d", 1)
		logger.Errorf("error %v", context.Canceled)
	})
}
