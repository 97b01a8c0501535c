package agent

import (
	"fmt"
	"log/slog"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/config"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/metric"
	"github.com/c360/testbedbus/natsclient"
	"github.com/c360/testbedbus/pkg/tlsutil"
	"github.com/c360/testbedbus/transport/mqtt"
)

// NewTransport creates the broker transport selected by cfg.Broker.Kind.
// registry may be nil.
func NewTransport(cfg *config.Config, clientID string, registry *metric.MetricsRegistry, logger *slog.Logger) (bus.Transport, error) {
	b := cfg.Broker
	tlsConfig, err := tlsutil.LoadClientTLSConfig(b.TLS)
	if err != nil {
		return nil, err
	}

	switch b.Kind {
	case config.BrokerMQTT:
		opts := []mqtt.Option{
			mqtt.WithQoS(byte(b.QoS)),
			mqtt.WithConnectTimeout(cfg.Timeouts.Connect),
			mqtt.WithLogger(logger),
		}
		if b.Username != "" {
			opts = append(opts, mqtt.WithCredentials(b.Username, b.Password))
		}
		if tlsConfig != nil {
			opts = append(opts, mqtt.WithTLSConfig(tlsConfig))
		}
		return mqtt.NewTransport(b.URL, clientID, opts...)

	case config.BrokerNATS:
		opts := []natsclient.ClientOption{
			natsclient.WithName(clientID),
			natsclient.WithMaxReconnects(b.MaxReconnects),
			natsclient.WithReconnectWait(b.ReconnectWait),
			natsclient.WithTimeout(cfg.Timeouts.Connect),
			natsclient.WithDrainTimeout(cfg.Timeouts.Shutdown),
			natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
		}
		if b.Username != "" {
			opts = append(opts, natsclient.WithCredentials(b.Username, b.Password))
		}
		if b.Token != "" {
			opts = append(opts, natsclient.WithToken(b.Token))
		}
		if tlsConfig != nil {
			opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
		}
		if b.Compression {
			opts = append(opts, natsclient.WithCompression(true))
		}
		if registry != nil {
			opts = append(opts, natsclient.WithMetrics(registry, 0))
		}
		return natsclient.NewClient(b.URL, opts...)

	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("broker kind %q: %w", b.Kind, errors.ErrInvalidConfig),
			"agent", "NewTransport", "select transport")
	}
}
