package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestServer is a NATS server running in a container.
type TestServer struct {
	container testcontainers.Container
	URL       string
}

// testConfig holds configuration for test server
type testConfig struct {
	natsVersion  string
	startTimeout time.Duration
}

// TestOption for configuring the test server
type TestOption func(*testConfig)

// WithNATSVersion specifies a specific NATS server version to use
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithStartTimeout sets the container startup timeout
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

// StartTestServer starts a NATS container. Unlike NewTestServer it does
// not need a testing.TB, for use in TestMain.
func StartTestServer(ctx context.Context, opts ...TestOption) (*TestServer, error) {
	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.natsVersion,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &TestServer{
		container: container,
		URL:       fmt.Sprintf("nats://%s:%s", host, port.Port()),
	}, nil
}

// NewTestServer starts a NATS container terminated when the test ends.
// Accepts testing.TB so it works with both *testing.T and *testing.B
func NewTestServer(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()

	srv, err := StartTestServer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start NATS server: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Terminate(context.Background()) // Best effort test cleanup
	})
	return srv
}

// Terminate stops the container.
func (s *TestServer) Terminate(ctx context.Context) error {
	return s.container.Terminate(ctx)
}

// Stop stops the container without removing it, dropping every client
// connection.
func (s *TestServer) Stop(ctx context.Context) error {
	timeout := 10 * time.Second
	return s.container.Stop(ctx, &timeout)
}
