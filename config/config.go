package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/c360/testbedbus/errors"
)

// Broker kinds
const (
	BrokerMQTT = "mqtt"
	BrokerNATS = "nats"
)

// Config represents the complete agent configuration
type Config struct {
	Broker        BrokerConfig   `json:"broker"`
	Topics        TopicsConfig   `json:"topics"`
	Timeouts      TimeoutsConfig `json:"timeouts"`
	Workers       WorkersConfig  `json:"workers"`
	Metrics       MetricsConfig  `json:"metrics"`
	Log           LogConfig      `json:"log"`
	StartAttempts int            `json:"start_attempts"` // Bus start attempts before giving up
}

// BrokerConfig defines the broker connection
type BrokerConfig struct {
	Kind          string        `json:"kind"` // mqtt or nats
	URL           string        `json:"url"`
	ClientName    string        `json:"client_name,omitempty"` // Base of client ids, hostname when empty
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	QoS           int           `json:"qos"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	Compression   bool          `json:"compression,omitempty"` // NATS only
	TLS           TLSConfig     `json:"tls,omitempty"`
}

// TLSConfig for secure broker connections
type TLSConfig struct {
	Enabled            bool   `json:"enabled"`
	CertFile           string `json:"cert_file,omitempty"` // Client certificate for mutual TLS
	KeyFile            string `json:"key_file,omitempty"`
	CAFile             string `json:"ca_file,omitempty"`              // Trusted in addition to the system pool
	MinVersion         string `json:"min_version,omitempty"`          // "1.2" or "1.3"
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"` // Test brokers only
}

// TopicsConfig places the agent topics on the broker
type TopicsConfig struct {
	Prefix     string `json:"prefix,omitempty"`      // Prepended to every topic
	AgentTopic string `json:"agent_topic,omitempty"` // Overrides the agent base topic
	Site       string `json:"site,omitempty"`        // Static value of the {site} field
}

// TimeoutsConfig bounds the bus operations
type TimeoutsConfig struct {
	Connect   time.Duration `json:"connect"`
	Subscribe time.Duration `json:"subscribe"`
	Request   time.Duration `json:"request"`
	Shutdown  time.Duration `json:"shutdown"`
}

// WorkersConfig sizes the pool running deferred answers
type WorkersConfig struct {
	Count     int `json:"count"`
	QueueSize int `json:"queue_size"`
}

// MetricsConfig for the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LogConfig for the structured logger
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json or text
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Kind:          BrokerMQTT,
			URL:           "tcp://localhost:1883",
			QoS:           1,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Connect:   10 * time.Second,
			Subscribe: 10 * time.Second,
			Request:   30 * time.Second,
			Shutdown:  5 * time.Second,
		},
		Workers: WorkersConfig{
			Count:     4,
			QueueSize: 64,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		StartAttempts: 1,
	}
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	copied := *c
	return &copied
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check configuration")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Broker.Kind {
	case BrokerMQTT, BrokerNATS:
	default:
		return fmt.Errorf("broker.kind %q must be %q or %q: %w", c.Broker.Kind, BrokerMQTT, BrokerNATS, errors.ErrInvalidConfig)
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required: %w", errors.ErrMissingConfig)
	}
	if _, err := url.Parse(c.Broker.URL); err != nil {
		return fmt.Errorf("broker.url: %w", errors.ErrInvalidConfig)
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return fmt.Errorf("broker.qos %d out of range: %w", c.Broker.QoS, errors.ErrInvalidConfig)
	}
	if c.Broker.TLS.Enabled && (c.Broker.TLS.CertFile == "") != (c.Broker.TLS.KeyFile == "") {
		return fmt.Errorf("broker.tls needs both cert_file and key_file: %w", errors.ErrInvalidConfig)
	}
	switch c.Broker.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("broker.tls.min_version %q must be 1.2 or 1.3: %w", c.Broker.TLS.MinVersion, errors.ErrInvalidConfig)
	}

	for name, value := range map[string]string{
		"topics.prefix":      c.Topics.Prefix,
		"topics.agent_topic": c.Topics.AgentTopic,
	} {
		if strings.ContainsAny(value, "+#{}") {
			return fmt.Errorf("%s %q holds wildcards or template fields: %w", name, value, errors.ErrInvalidConfig)
		}
	}
	if strings.ContainsAny(c.Topics.Site, "/+#{}") {
		return fmt.Errorf("topics.site %q must be a single topic level: %w", c.Topics.Site, errors.ErrInvalidConfig)
	}

	for name, d := range map[string]time.Duration{
		"timeouts.connect":   c.Timeouts.Connect,
		"timeouts.subscribe": c.Timeouts.Subscribe,
		"timeouts.request":   c.Timeouts.Request,
		"timeouts.shutdown":  c.Timeouts.Shutdown,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v: %w", name, d, errors.ErrInvalidConfig)
		}
	}

	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1: %w", errors.ErrInvalidConfig)
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("workers.queue_size must not be negative: %w", errors.ErrInvalidConfig)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range: %w", c.Metrics.Port, errors.ErrInvalidConfig)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /: %w", c.Metrics.Path, errors.ErrInvalidConfig)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q unknown: %w", c.Log.Level, errors.ErrInvalidConfig)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q must be json or text: %w", c.Log.Format, errors.ErrInvalidConfig)
	}

	if c.StartAttempts < 1 {
		return fmt.Errorf("start_attempts must be at least 1: %w", errors.ErrInvalidConfig)
	}
	return nil
}

// String returns a JSON representation of the config with secrets redacted
func (c *Config) String() string {
	redacted := c.Clone()
	for _, secret := range []*string{&redacted.Broker.Password, &redacted.Broker.Token} {
		if *secret != "" {
			*secret = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}
