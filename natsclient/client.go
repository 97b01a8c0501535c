package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrCircuitOpen = stderrors.New("circuit breaker is open")
)

// Status holds runtime status information for the NATS connection
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client is a bus transport over core NATS with a circuit breaker on
// connection attempts. Topics are carried as subjects, see TopicToSubject.
//
// NATS delivers a message once per matching subscription, so overlapping
// filters such as "a/#" and "a/b/#" see a message twice.
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   Logger

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32 // failures in current circuit round
	circuitThreshold int32        // failures before opening circuit
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	flushTimeout  time.Duration

	// Authentication - sensitive fields cleared on disconnect
	username string
	password string
	token    string

	// TLS
	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string
	tlsConfig   *tls.Config

	// Client identification
	clientName  string
	compression bool

	// Metrics
	connMetrics     *connMetrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	// Connection state
	mu       sync.RWMutex
	conn     *nats.Conn
	handlers bus.Handlers
	subs     map[string]*nats.Subscription // by subject
	closing  atomic.Bool
	acks     sync.WaitGroup // pending flushes
}

// NewClient creates a new NATS transport with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: NewSlogLogger(nil),
		// Sensible defaults
		maxReconnects:    -1, // infinite by default
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		flushTimeout:     10 * time.Second,
		metricsInterval:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debugf("Created NATS client for %s", url)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// setStatus updates the connection status
func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure records a connection failure and manages circuit breaker
func (m *Client) recordFailure() {
	totalFailures := m.failures.Add(1)
	m.lastFailure.Store(time.Now())

	circuitFailures := m.circuitFailures.Add(1)

	m.logger.Debugf("Recorded failure %d (circuit failures: %d)", totalFailures, circuitFailures)

	if circuitFailures < m.circuitThreshold {
		return
	}

	currentBackoff := m.backoff.Load().(time.Duration)
	newBackoff := min(currentBackoff*2, m.maxBackoff)
	m.backoff.Store(newBackoff)
	m.circuitFailures.Store(0)

	currentStatus := m.Status()
	if currentStatus == StatusCircuitOpen {
		m.logger.Printf("Circuit breaker still open, increased backoff to %v", newBackoff)
		return
	}

	// Only one goroutine opens the circuit.
	if m.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
		m.logger.Printf(
			"Circuit breaker opened after %d failures, backing off for %v",
			circuitFailures,
			currentBackoff,
		)
		time.AfterFunc(currentBackoff, m.testCircuit)
	}
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the circuit: the next Connect is attempted.
func (m *Client) testCircuit() {
	if m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		m.logger.Debugf("Circuit breaker test: moving from open to disconnected")
	}
}

// ConnectionOptions returns the NATS connection options
func (m *Client) ConnectionOptions() []nats.Option {
	return m.buildConnectionOptions()
}

// buildConnectionOptions builds NATS connection options from client configuration
func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}

	if m.tlsConfig != nil {
		opts = append(opts, nats.Secure(m.tlsConfig))
	}
	if m.tlsEnabled {
		if m.tlsCertFile != "" && m.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(m.tlsCertFile, m.tlsKeyFile))
		}
		if m.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(m.tlsCAFile))
		}
	}

	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	if m.compression {
		opts = append(opts, nats.Compression(true))
	}

	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
	}
	if rtt, err := m.RTT(); err == nil {
		status.RTT = rtt
	}
	return status
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	conn := m.connection()
	if conn == nil || !conn.IsConnected() {
		return 0, errors.ErrNotConnected
	}
	return conn.RTT()
}

func (m *Client) connection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

type dialResult struct {
	conn *nats.Conn
	err  error
}

// Connect implements bus.Transport. h.OnConnect runs before Connect
// returns and again after every automatic reconnection.
func (m *Client) Connect(ctx context.Context, h bus.Handlers) error {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker is open, skipping connection attempt")
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check circuit")
	}

	m.mu.Lock()
	m.handlers = h
	m.subs = make(map[string]*nats.Subscription)
	m.mu.Unlock()
	m.closing.Store(false)

	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to NATS at %s", m.url)

	opts := m.buildConnectionOptions()
	dialed := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		dialed <- dialResult{conn: conn, err: err}
	}()

	var res dialResult
	select {
	case res = <-dialed:
	case <-ctx.Done():
		m.recordFailure()
		if m.Status() != StatusCircuitOpen {
			m.setStatus(StatusDisconnected)
		}
		go func() {
			if late := <-dialed; late.conn != nil {
				late.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	if res.err != nil {
		m.recordFailure()
		m.connMetrics.recordError("connect")
		if m.Status() == StatusCircuitOpen {
			return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "establish connection")
		}
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	m.mu.Lock()
	m.conn = res.conn
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Printf("Successfully connected to NATS at %s", m.url)

	if m.connMetrics != nil {
		m.logger.Debugf("Starting connection metrics polling with interval %v", m.metricsInterval)
		m.metricsCancel = m.connMetrics.startPoller(res.conn, m.metricsInterval)
	}

	if h.OnConnect != nil {
		h.OnConnect()
	}
	return nil
}

// Subscribe implements bus.Transport. Subjects already subscribed on the
// connection are kept, the server restores them after a reconnection. The
// token completes once the server has processed the subscriptions.
func (m *Client) Subscribe(filters ...string) bus.Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return bus.FailedToken(errors.WrapTransient(errors.ErrNotConnected, "Client", "Subscribe", "check connection"))
	}

	var subjects []string
	for _, f := range filters {
		s, err := FilterToSubjects(f)
		if err != nil {
			return bus.FailedToken(errors.WrapInvalid(err, "Client", "Subscribe", "map filter "+f))
		}
		subjects = append(subjects, s...)
	}

	for _, subject := range subjects {
		if _, ok := m.subs[subject]; ok {
			continue
		}
		sub, err := m.conn.Subscribe(subject, m.handleMessage)
		if err != nil {
			m.connMetrics.recordError("subscribe")
			return bus.FailedToken(errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject))
		}
		m.subs[subject] = sub
		m.logger.Debugf("Subscribed to %s", subject)
	}

	return m.flush(m.conn, "Subscribe")
}

// Publish implements bus.Transport. The token completes once the server
// has received the message.
func (m *Client) Publish(name string, payload []byte) bus.Token {
	subject, err := TopicToSubject(name)
	if err != nil {
		return bus.FailedToken(errors.WrapInvalid(err, "Client", "Publish", "map topic"))
	}

	conn := m.connection()
	if conn == nil || conn.IsClosed() {
		return bus.FailedToken(errors.WrapTransient(errors.ErrNotConnected, "Client", "Publish", "check connection"))
	}

	// Publishes while reconnecting are buffered by the library.
	if err := conn.Publish(subject, payload); err != nil {
		m.connMetrics.recordError("publish")
		return bus.FailedToken(errors.WrapTransient(err, "Client", "Publish", "publish "+subject))
	}
	return m.flush(conn, "Publish")
}

// flush completes a token after a server round trip.
func (m *Client) flush(conn *nats.Conn, method string) bus.Token {
	tok := bus.NewCompletionToken()
	m.acks.Add(1)
	go func() {
		defer m.acks.Done()
		if err := conn.FlushTimeout(m.flushTimeout); err != nil {
			m.connMetrics.recordError("flush")
			tok.Complete(errors.WrapTransient(err, "Client", method, "flush"))
			return
		}
		tok.Complete(nil)
	}()
	return tok
}

func (m *Client) handleMessage(msg *nats.Msg) {
	name, err := SubjectToTopic(msg.Subject)
	if err != nil {
		m.logger.Errorf("Dropping message on %s: %v", msg.Subject, err)
		return
	}

	m.mu.RLock()
	onMessage := m.handlers.OnMessage
	m.mu.RUnlock()

	if onMessage != nil {
		onMessage(name, msg.Data)
	}
}

// Disconnect implements bus.Transport: it drains the connection within the
// drain timeout or the context deadline, whichever is shorter.
func (m *Client) Disconnect(ctx context.Context) error {
	m.closing.Store(true)

	if m.metricsCancel != nil {
		m.metricsCancel()
		m.metricsCancel = nil
	}

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.subs = nil
	m.username, m.password, m.token = "", "", ""
	m.mu.Unlock()

	if conn == nil {
		m.setStatus(StatusDisconnected)
		return nil
	}

	drainTimeout := m.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	var drainErr error
	drained := make(chan error, 1)
	go func() {
		drained <- conn.Drain()
	}()

	select {
	case err := <-drained:
		if err != nil {
			drainErr = errors.Wrap(err, "Client", "Disconnect", "drain connection")
			m.logger.Errorf("Drain error: %v", err)
		}
	case <-time.After(drainTimeout):
		drainErr = errors.Wrap(fmt.Errorf("timed out after %v", drainTimeout), "Client", "Disconnect", "drain connection")
		m.logger.Errorf("Drain timed out after %v, closing", drainTimeout)
	}
	conn.Close()
	m.acks.Wait()

	m.setStatus(StatusDisconnected)
	return drainErr
}

// Event handlers for NATS connection
func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closing.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Printf("Disconnected from NATS: %v", err)

	m.mu.RLock()
	onLost := m.handlers.OnConnectionLost
	m.mu.RUnlock()

	if onLost != nil {
		if err == nil {
			err = errors.ErrConnectionLost
		}
		onLost(err)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Printf("Reconnected to NATS at %s", m.url)

	m.mu.RLock()
	onConnect := m.handlers.OnConnect
	m.mu.RUnlock()

	if onConnect != nil {
		onConnect()
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	// Not recorded as a failure: may be a slow consumer or a permission error.
	m.logger.Errorf("NATS error: %v", err)
}
