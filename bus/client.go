package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/metric"
)

// State is the lifecycle state of a Client.
type State int32

// Client states. A client is usable for publishing once connected and
// receives every subscribed message once ready.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Client is the broker connection of one agent process. It subscribes the
// filters of its endpoints on every connection and dispatches incoming
// messages to the callbacks registered for matching filters.
type Client struct {
	transport        Transport
	name             string
	logger           *slog.Logger
	metrics          *metric.Metrics
	subscribeTimeout time.Duration
	onState          func(State, error)

	state   atomic.Int32
	running atomic.Bool
	table   *callbackTable

	// endpoint filters, in registration order
	filtersMu sync.RWMutex
	filters   []string

	// per Start lifecycle
	lifeMu    sync.RWMutex
	quit      chan struct{}
	ready     chan struct{}
	readyOnce *sync.Once
}

// NewClient creates a client over transport.
func NewClient(transport Transport, opts ...ClientOption) (*Client, error) {
	if transport == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil transport"), "Client", "NewClient", "check transport")
	}

	c := &Client{
		transport:        transport,
		name:             "bus",
		logger:           slog.Default(),
		subscribeTimeout: DefaultSubscribeTimeout,
		table:            newCallbackTable(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("client", c.name)
	c.state.Store(int32(StateDisconnected))
	return c, nil
}

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// State returns the current state.
func (c *Client) State() State { return State(c.state.Load()) }

// Connected reports whether the client can publish.
func (c *Client) Connected() bool {
	s := c.State()
	return s == StateConnected || s == StateReady
}

func (c *Client) setState(s State, cause error) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.metrics.RecordBusState(c.name, int(s))
	c.logger.Debug("Bus state changed", "from", prev.String(), "to", s.String())
	if c.onState != nil {
		c.onState(s, cause)
	}
}

// Register adds endpoints before Start: their filters are subscribed on
// every connection and their callbacks installed in the callback table.
func (c *Client) Register(endpoints ...Endpoint) error {
	if c.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Client", "Register", "register endpoints")
	}

	c.filtersMu.Lock()
	defer c.filtersMu.Unlock()

	for _, ep := range endpoints {
		filter := ep.Filter()
		if filter == "" {
			continue
		}
		c.filters = append(c.filters, filter)
		if cb := ep.Callback(); cb != nil {
			if _, replaced := c.table.set(filter, cb); replaced {
				c.logger.Warn("Callback replaced for filter", "filter", filter)
			}
		}
	}
	return nil
}

// Filters returns the subscription filters, without duplicates.
func (c *Client) Filters() []string {
	c.filtersMu.RLock()
	defer c.filtersMu.RUnlock()

	seen := make(map[string]bool, len(c.filters))
	out := make([]string, 0, len(c.filters))
	for _, f := range c.filters {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Start connects and waits until every filter is subscribed. It fails with
// errors.ErrSubscribeTimeout when the broker does not acknowledge the
// subscription in time; the connection is then left open and the caller
// decides whether to Stop.
func (c *Client) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Client", "Start", "check state")
	}
	c.setState(StateConnecting, nil)

	c.lifeMu.Lock()
	c.quit = make(chan struct{})
	c.ready = make(chan struct{})
	c.readyOnce = &sync.Once{}
	ready := c.ready
	c.lifeMu.Unlock()

	for _, f := range c.Filters() {
		c.logger.Info("Subscribing", "filter", f)
	}

	err := c.transport.Connect(ctx, Handlers{
		OnConnect:        c.handleConnect,
		OnConnectionLost: c.handleConnectionLost,
		OnMessage:        c.dispatch,
	})
	if err != nil {
		c.shutdown()
		c.setState(StateDisconnected, err)
		c.running.Store(false)
		return errors.WrapTransient(err, "Client", "Start", "connect to broker")
	}

	timer := time.NewTimer(c.subscribeTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		c.logger.Info("Bus client ready", "filters", len(c.Filters()))
		return nil
	case <-timer.C:
		err := fmt.Errorf("after %v: %w", c.subscribeTimeout, errors.ErrSubscribeTimeout)
		return errors.WrapFatal(err, "Client", "Start", "wait for subscriptions")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Client", "Start", "wait for subscriptions")
	}
}

// Stop disconnects from the broker. Calling Stop on a stopped client is a
// no-op.
func (c *Client) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.shutdown()
	err := c.transport.Disconnect(ctx)
	c.setState(StateDisconnected, nil)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Stop", "disconnect")
	}
	c.logger.Info("Bus client stopped")
	return nil
}

func (c *Client) shutdown() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.quit != nil {
		close(c.quit)
		c.quit = nil
	}
}

func (c *Client) handleConnect() {
	c.setState(StateConnected, nil)
	c.metrics.RecordConnect(c.name)

	c.lifeMu.RLock()
	quit, ready, once := c.quit, c.ready, c.readyOnce
	c.lifeMu.RUnlock()
	if quit == nil {
		return
	}

	markReady := func() {
		if !c.running.Load() {
			return
		}
		c.setState(StateReady, nil)
		once.Do(func() { close(ready) })
	}

	filters := c.Filters()
	if len(filters) == 0 {
		markReady()
		return
	}

	tok := c.transport.Subscribe(filters...)
	go func() {
		select {
		case <-tok.Done():
		case <-quit:
			return
		}
		if err := tok.Error(); err != nil {
			c.logger.Error("Subscribe failed", "error", err)
			return
		}
		markReady()
	}()
}

func (c *Client) handleConnectionLost(err error) {
	c.logger.Warn("Connection lost", "error", err)
	if c.running.Load() {
		c.setState(StateConnecting, fmt.Errorf("%w: %v", errors.ErrConnectionLost, err))
	}
}

func (c *Client) dispatch(name string, payload []byte) {
	callbacks := c.table.match(name)
	c.metrics.RecordMessageReceived(c.name, len(callbacks) > 0)

	if len(callbacks) == 0 {
		c.logger.Debug("Dropping unmatched message", "topic", name, "size", len(payload))
		return
	}
	for _, cb := range callbacks {
		c.invoke(cb, NewMessage(name, payload, c.Publisher))
	}
}

// invoke runs cb. A panicking callback is a bug in the endpoint: it is
// logged with its stack and counted, and dispatch goes on for the other
// endpoints.
func (c *Client) invoke(cb Callback, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordCallbackPanic(c.name)
			c.logger.Error("Callback panicked", "topic", msg.Topic, "panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	cb(msg)
}

// Publish sends payload on topic. A nil payload is sent empty. Without a
// connection the returned token has already failed with
// errors.ErrNotConnected.
func (c *Client) Publish(name string, payload []byte) Token {
	if !c.Connected() {
		c.metrics.RecordPublish(c.name, false)
		return FailedToken(errors.WrapTransient(errors.ErrNotConnected, "Client", "Publish", "publish "+name))
	}
	if payload == nil {
		payload = []byte{}
	}
	c.metrics.RecordPublish(c.name, true)
	return c.transport.Publish(name, payload)
}

// Publisher returns a function publishing on name.
func (c *Client) Publisher(name string) ReplyFunc {
	return func(payload []byte) Token {
		return c.Publish(name, payload)
	}
}

// AddCallback installs cb for filter, replacing any previous callback.
// It does not subscribe: filter must be covered by a registered endpoint.
func (c *Client) AddCallback(filter string, cb Callback) {
	c.table.set(filter, cb)
}

// RemoveCallback removes the callback of filter.
func (c *Client) RemoveCallback(filter string) {
	c.table.remove(filter)
}

// WithCallback runs fn with cb installed for filter. The previous callback
// of filter, if any, is restored when fn returns or panics.
func (c *Client) WithCallback(filter string, cb Callback, fn func() error) error {
	prev, had := c.table.set(filter, cb)
	defer func() {
		if had {
			c.table.set(filter, prev)
			return
		}
		c.table.remove(filter)
	}()
	return fn()
}
