// Package mqtt carries the testbed bus over an MQTT broker with the
// Eclipse Paho client.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/topic"
)

// Defaults applied by NewTransport.
const (
	DefaultQoS            = 1
	DefaultKeepAlive      = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultQuiesce        = 250 * time.Millisecond
)

// Option configures a Transport.
type Option func(*Transport) error

// WithCredentials sets the broker user name and password.
func WithCredentials(username, password string) Option {
	return func(t *Transport) error {
		t.username = username
		t.password = password
		return nil
	}
}

// WithQoS sets the quality of service of subscriptions and publishes.
func WithQoS(qos byte) Option {
	return func(t *Transport) error {
		if qos > 2 {
			return fmt.Errorf("qos must be 0, 1 or 2, got %d", qos)
		}
		t.qos = qos
		return nil
	}
}

// WithKeepAlive sets the keep alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(t *Transport) error {
		t.keepAlive = d
		return nil
	}
}

// WithConnectTimeout bounds a single connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", d)
		}
		t.connectTimeout = d
		return nil
	}
}

// WithOrderMatters delivers messages one at a time on the network loop.
// Callbacks must then not wait on tokens.
func WithOrderMatters(ordered bool) Option {
	return func(t *Transport) error {
		t.ordered = ordered
		return nil
	}
}

// WithTLSConfig secures the connection, for ssl:// and tls:// brokers.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(t *Transport) error {
		t.tlsConfig = cfg
		return nil
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) error {
		if logger != nil {
			t.logger = logger
		}
		return nil
	}
}

// Transport implements bus.Transport on a Paho client. Paho tokens
// already satisfy bus.Token and are returned as is.
type Transport struct {
	broker         string
	clientID       string
	username       string
	password       string
	qos            byte
	keepAlive      time.Duration
	connectTimeout time.Duration
	ordered        bool
	tlsConfig      *tls.Config
	logger         *slog.Logger

	mu     sync.RWMutex
	client paho.Client
}

// NewTransport creates a transport for broker, such as tcp://host:1883.
// clientID must be unique on the broker.
func NewTransport(broker, clientID string, opts ...Option) (*Transport, error) {
	if broker == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Transport", "New", "check broker url")
	}
	t := &Transport{
		broker:         broker,
		clientID:       clientID,
		qos:            DefaultQoS,
		keepAlive:      DefaultKeepAlive,
		connectTimeout: DefaultConnectTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, errors.WrapInvalid(err, "Transport", "New", "apply option")
		}
	}
	t.logger = t.logger.With("component", "mqtt", "broker", broker)
	return t, nil
}

// clientOptions builds the Paho options routing every event to h.
func (t *Transport) clientOptions(h bus.Handlers) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(t.broker).
		SetClientID(t.clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetKeepAlive(t.keepAlive).
		SetConnectTimeout(t.connectTimeout).
		SetOrderMatters(t.ordered).
		SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
			if h.OnMessage != nil {
				h.OnMessage(msg.Topic(), msg.Payload())
			}
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			t.logger.Debug("Connected to broker")
			if h.OnConnect != nil {
				h.OnConnect()
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.logger.Warn("Connection to broker lost", "error", err)
			if h.OnConnectionLost != nil {
				h.OnConnectionLost(err)
			}
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			t.logger.Debug("Reconnecting to broker")
		})

	if t.username != "" {
		opts.SetUsername(t.username)
		opts.SetPassword(t.password)
	}
	if t.tlsConfig != nil {
		opts.SetTLSConfig(t.tlsConfig)
	}
	return opts
}

// Connect implements bus.Transport. h.OnConnect runs on a Paho goroutine
// after every successful connection.
func (t *Transport) Connect(ctx context.Context, h bus.Handlers) error {
	client := paho.NewClient(t.clientOptions(h))

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	t.logger.Info("Connecting to broker", "client_id", t.clientID)
	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return errors.WrapTransient(ctx.Err(), "Transport", "Connect", "connection cancelled")
	}
	if err := tok.Error(); err != nil {
		return errors.WrapTransient(err, "Transport", "Connect", "establish connection")
	}
	return nil
}

func (t *Transport) connected() paho.Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil || !t.client.IsConnectionOpen() {
		return nil
	}
	return t.client
}

// Subscribe implements bus.Transport. Messages are delivered through the
// default publish handler installed by Connect.
func (t *Transport) Subscribe(filters ...string) bus.Token {
	subs := make(map[string]byte, len(filters))
	for _, f := range filters {
		if err := topic.ValidateFilter(f); err != nil {
			return bus.FailedToken(errors.WrapInvalid(err, "Transport", "Subscribe", "check filter"))
		}
		subs[f] = t.qos
	}

	client := t.connected()
	if client == nil {
		return bus.FailedToken(errors.WrapTransient(errors.ErrNotConnected, "Transport", "Subscribe", "check connection"))
	}
	return client.SubscribeMultiple(subs, nil)
}

// Publish implements bus.Transport. With QoS 1 and 2 the token completes
// when the broker acknowledges the message.
func (t *Transport) Publish(name string, payload []byte) bus.Token {
	client := t.connected()
	if client == nil {
		return bus.FailedToken(errors.WrapTransient(errors.ErrNotConnected, "Transport", "Publish", "check connection"))
	}
	return client.Publish(name, t.qos, false, payload)
}

// Disconnect implements bus.Transport.
func (t *Transport) Disconnect(_ context.Context) error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(uint(DefaultQuiesce.Milliseconds()))
	}
	return nil
}

type pahoLogger struct {
	logger *slog.Logger
	level  slog.Level
}

func (l pahoLogger) Println(v ...any) {
	l.logger.Log(context.Background(), l.level, fmt.Sprint(v...))
}

func (l pahoLogger) Printf(format string, v ...any) {
	l.logger.Log(context.Background(), l.level, fmt.Sprintf(format, v...))
}

// SetLibraryLogger routes the Paho library logs to logger. Paho loggers are
// process wide.
func SetLibraryLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "paho")
	paho.CRITICAL = pahoLogger{logger: logger, level: slog.LevelError}
	paho.ERROR = pahoLogger{logger: logger, level: slog.LevelError}
	paho.WARN = pahoLogger{logger: logger, level: slog.LevelWarn}
}
