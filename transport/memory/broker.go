// Package memory is an in-process broker and bus.Transport. It applies
// the same filter semantics as an MQTT broker and can delay or withhold
// acknowledgements to exercise timeout paths.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/topic"
)

// DefaultBufferSize is the per-connection inbox size.
const DefaultBufferSize = 1024

// Broker routes messages between the transports created from it.
type Broker struct {
	mu    sync.RWMutex
	conns map[*Transport]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{conns: make(map[*Transport]struct{})}
}

func (b *Broker) attach(t *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[t] = struct{}{}
}

func (b *Broker) detach(t *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, t)
}

// Publish routes payload to every connection subscribed to a matching
// filter. It returns the number of connections reached.
func (b *Broker) Publish(name string, payload []byte) int {
	b.mu.RLock()
	conns := make([]*Transport, 0, len(b.conns))
	for t := range b.conns {
		conns = append(conns, t)
	}
	b.mu.RUnlock()

	n := 0
	for _, t := range conns {
		if t.deliver(name, payload) {
			n++
		}
	}
	return n
}

// Option configures a Transport.
type Option func(*Transport)

// WithConnectDelay delays Connect.
func WithConnectDelay(d time.Duration) Option {
	return func(t *Transport) { t.connectDelay = d }
}

// WithSubscribeDelay delays subscription acknowledgements.
func WithSubscribeDelay(d time.Duration) Option {
	return func(t *Transport) { t.subscribeDelay = d }
}

// WithPublishDelay delays publish confirmation and routing.
func WithPublishDelay(d time.Duration) Option {
	return func(t *Transport) { t.publishDelay = d }
}

// WithConnectError makes Connect fail with err.
func WithConnectError(err error) Option {
	return func(t *Transport) { t.connectErr = err }
}

// WithoutSubscribeAck never acknowledges subscriptions.
func WithoutSubscribeAck() Option {
	return func(t *Transport) { t.noSubscribeAck = true }
}

// WithoutPublishAck never confirms nor routes published messages.
func WithoutPublishAck() Option {
	return func(t *Transport) { t.noPublishAck = true }
}

// WithBufferSize sets the inbox size; messages beyond it are dropped.
func WithBufferSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.bufferSize = n
		}
	}
}

type delivery struct {
	topic   string
	payload []byte
	tok     *bus.CompletionToken
}

// Published is a message sent through a Transport.
type Published struct {
	Topic   string
	Payload []byte
}

// Transport is one client connection to a Broker.
type Transport struct {
	broker *Broker

	connectDelay   time.Duration
	subscribeDelay time.Duration
	publishDelay   time.Duration
	connectErr     error
	noSubscribeAck bool
	noPublishAck   bool
	bufferSize     int

	mu        sync.Mutex
	handlers  bus.Handlers
	connected bool
	filters   map[string]struct{}
	timers    []*time.Timer
	inbox     chan delivery
	outbox    chan delivery
	done      chan struct{}
	wg        sync.WaitGroup
	published []Published
}

// NewTransport creates a disconnected transport on b.
func (b *Broker) NewTransport(opts ...Option) *Transport {
	t := &Transport{
		broker:     b,
		bufferSize: DefaultBufferSize,
		filters:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ bus.Transport = (*Transport)(nil)

// Connect implements bus.Transport.
func (t *Transport) Connect(ctx context.Context, h bus.Handlers) error {
	if t.connectDelay > 0 {
		timer := time.NewTimer(t.connectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	if t.connectErr != nil {
		return t.connectErr
	}

	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("memory transport already connected")
	}
	t.handlers = h
	t.open()
	t.mu.Unlock()

	t.broker.attach(t)
	if h.OnConnect != nil {
		h.OnConnect()
	}
	return nil
}

// open starts the delivery and sending goroutines; t.mu must be held.
func (t *Transport) open() {
	t.connected = true
	t.inbox = make(chan delivery, t.bufferSize)
	t.outbox = make(chan delivery, t.bufferSize)
	t.done = make(chan struct{})

	inbox, outbox, done, onMessage := t.inbox, t.outbox, t.done, t.handlers.OnMessage
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case d := <-outbox:
				t.broker.Publish(d.topic, d.payload)
				d.tok.Complete(nil)
			case <-done:
				return
			}
		}
	}()
	go func() {
		defer t.wg.Done()
		for {
			select {
			case d := <-inbox:
				if onMessage != nil {
					onMessage(d.topic, d.payload)
				}
			case <-done:
				return
			}
		}
	}()
}

// close stops timers and goroutines; t.mu must be held. Callers wait on
// t.wg after releasing it.
func (t *Transport) close() {
	t.connected = false
	t.filters = make(map[string]struct{})
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}

// Subscribe implements bus.Transport.
func (t *Transport) Subscribe(filters ...string) bus.Token {
	tok := bus.NewCompletionToken()
	for _, f := range filters {
		if err := topic.ValidateFilter(f); err != nil {
			tok.Complete(err)
			return tok
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		tok.Complete(errors.ErrNotConnected)
		return tok
	}
	if t.noSubscribeAck {
		return tok
	}

	apply := func() {
		t.mu.Lock()
		if t.connected {
			for _, f := range filters {
				t.filters[f] = struct{}{}
			}
		}
		t.mu.Unlock()
		tok.Complete(nil)
	}
	if t.subscribeDelay > 0 {
		t.timers = append(t.timers, time.AfterFunc(t.subscribeDelay, apply))
		return tok
	}
	for _, f := range filters {
		t.filters[f] = struct{}{}
	}
	tok.Complete(nil)
	return tok
}

// Publish implements bus.Transport. Messages published without delay are
// routed in order.
func (t *Transport) Publish(name string, payload []byte) bus.Token {
	tok := bus.NewCompletionToken()

	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		tok.Complete(errors.ErrNotConnected)
		return tok
	}
	data := append([]byte(nil), payload...)
	t.published = append(t.published, Published{Topic: name, Payload: data})

	switch {
	case t.noPublishAck:
		t.mu.Unlock()
		return tok
	case t.publishDelay > 0:
		t.timers = append(t.timers, time.AfterFunc(t.publishDelay, func() {
			t.broker.Publish(name, data)
			tok.Complete(nil)
		}))
		t.mu.Unlock()
		return tok
	}
	outbox, done := t.outbox, t.done
	t.mu.Unlock()

	select {
	case outbox <- delivery{topic: name, payload: data, tok: tok}:
	case <-done:
		tok.Complete(errors.ErrNotConnected)
	}
	return tok
}

// Disconnect implements bus.Transport.
func (t *Transport) Disconnect(_ context.Context) error {
	t.broker.detach(t)

	t.mu.Lock()
	t.close()
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

// DropConnection simulates a lost connection: subscriptions are forgotten
// and OnConnectionLost is called.
func (t *Transport) DropConnection(cause error) {
	t.broker.detach(t)

	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.close()
	h := t.handlers
	t.mu.Unlock()

	t.wg.Wait()
	if h.OnConnectionLost != nil {
		h.OnConnectionLost(cause)
	}
}

// Reconnect reestablishes a dropped connection and calls OnConnect.
func (t *Transport) Reconnect() {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return
	}
	t.open()
	h := t.handlers
	t.mu.Unlock()

	t.broker.attach(t)
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

// Subscriptions returns the acknowledged filters.
func (t *Transport) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.filters))
	for f := range t.filters {
		out = append(out, f)
	}
	return out
}

// Published returns every message sent through t, in order.
func (t *Transport) Published() []Published {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Published(nil), t.published...)
}

func (t *Transport) deliver(name string, payload []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return false
	}
	matched := false
	for f := range t.filters {
		if topic.MatchFilter(f, name) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	select {
	case t.inbox <- delivery{topic: name, payload: payload}:
		return true
	default:
		return false
	}
}
