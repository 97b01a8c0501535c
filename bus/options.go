package bus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/testbedbus/metric"
)

// DefaultSubscribeTimeout bounds how long Start waits for the broker to
// acknowledge the subscriptions.
const DefaultSubscribeTimeout = 10 * time.Second

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client) error

// WithName sets the client name used in logs and metric labels.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithSubscribeTimeout overrides DefaultSubscribeTimeout.
func WithSubscribeTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("subscribe timeout must be positive, got %v", d)
		}
		c.subscribeTimeout = d
		return nil
	}
}

// WithMetrics records bus metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		c.metrics = registry.CoreMetrics()
		return nil
	}
}

// WithStateCallback calls fn on every state change, with the error that
// caused it when there is one.
func WithStateCallback(fn func(State, error)) ClientOption {
	return func(c *Client) error {
		c.onState = fn
		return nil
	}
}
