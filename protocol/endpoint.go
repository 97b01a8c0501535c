package protocol

import (
	"log/slog"
	"strings"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/metric"
	"github.com/c360/testbedbus/topic"
)

// Endpoint is implemented by every topic type of this package.
type Endpoint = bus.Endpoint

// Publisher is the publishing side of a bus client.
type Publisher interface {
	Publish(topic string, payload []byte) bus.Token
}

// Conn is a bus client able to install a temporary callback.
type Conn interface {
	Publisher
	WithCallback(filter string, cb bus.Callback, fn func() error) error
}

// Handler receives a message with the field values of its topic.
type Handler func(msg *bus.Message, fields topic.Fields)

// Option configures request and error endpoints.
type Option func(*options)

type options struct {
	metrics *metric.Metrics
	logger  *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMetrics records request and error metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.metrics = registry.CoreMetrics() }
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Topic is a subscribed topic template. Its callback extracts the field
// values of the concrete topic before calling the handler.
type Topic struct {
	tmpl     *topic.Template
	callback bus.Callback
}

// NewTopic parses tmpl. A nil handler subscribes without callback.
func NewTopic(tmpl string, handler Handler) (*Topic, error) {
	t, err := topic.New(tmpl)
	if err != nil {
		return nil, err
	}
	return newTopic(t, handler), nil
}

func newTopic(t *topic.Template, handler Handler) *Topic {
	tp := &Topic{tmpl: t}
	if handler != nil {
		tp.callback = func(msg *bus.Message) {
			fields, ok := t.Match(msg.Topic)
			if !ok {
				return
			}
			handler(msg, fields)
		}
	}
	return tp
}

// Template returns the topic template.
func (t *Topic) Template() *topic.Template { return t.tmpl }

// Filter implements Endpoint.
func (t *Topic) Filter() string { return t.tmpl.Filter() }

// Callback implements Endpoint.
func (t *Topic) Callback() bus.Callback { return t.callback }

// NullTopic only stores a template: it is never subscribed.
type NullTopic struct {
	tmpl *topic.Template
}

// NewNullTopic parses tmpl.
func NewNullTopic(tmpl string) (*NullTopic, error) {
	t, err := topic.New(tmpl)
	if err != nil {
		return nil, err
	}
	return &NullTopic{tmpl: t}, nil
}

// Template returns the topic template.
func (t *NullTopic) Template() *topic.Template { return t.tmpl }

// Filter implements Endpoint; a NullTopic has none.
func (t *NullTopic) Filter() string { return "" }

// Callback implements Endpoint; a NullTopic has none.
func (t *NullTopic) Callback() bus.Callback { return nil }

// send formats tmpl with fields and publishes data on it.
func send(conn Publisher, tmpl *topic.Template, data []byte, fields topic.Fields) bus.Token {
	name, err := tmpl.Format(fields)
	if err != nil {
		return bus.FailedToken(err)
	}
	return conn.Publish(name, data)
}

// InputServer receives what InputClients send.
type InputServer struct{ *Topic }

// NewInputServer subscribes tmpl with handler.
func NewInputServer(tmpl string, handler Handler) (*InputServer, error) {
	t, err := NewTopic(tmpl, handler)
	if err != nil {
		return nil, err
	}
	return &InputServer{t}, nil
}

// InputClient publishes on an InputServer topic.
type InputClient struct{ *NullTopic }

// NewInputClient parses tmpl.
func NewInputClient(tmpl string) (*InputClient, error) {
	t, err := NewNullTopic(tmpl)
	if err != nil {
		return nil, err
	}
	return &InputClient{t}, nil
}

// Send publishes data on the template formatted with fields.
func (c *InputClient) Send(conn Publisher, data []byte, fields topic.Fields) bus.Token {
	return send(conn, c.tmpl, data, fields)
}

// OutputServer publishes what OutputClients receive. It has the shape of
// an InputClient.
type OutputServer = InputClient

// NewOutputServer parses tmpl.
func NewOutputServer(tmpl string) (*OutputServer, error) { return NewInputClient(tmpl) }

// OutputClient receives what an OutputServer sends. It has the shape of an
// InputServer.
type OutputClient = InputServer

// NewOutputClient subscribes tmpl with handler.
func NewOutputClient(tmpl string, handler Handler) (*OutputClient, error) {
	return NewInputServer(tmpl, handler)
}

// LogTopic subscribes to everything below a template. The handler gets the
// field values of the template part of the topic.
type LogTopic struct {
	tmpl     *topic.Template
	callback bus.Callback
}

// NewLogTopic subscribes tmpl/#.
func NewLogTopic(tmpl string, handler Handler) (*LogTopic, error) {
	t, err := topic.New(tmpl)
	if err != nil {
		return nil, err
	}
	lt := &LogTopic{tmpl: t}
	if handler != nil {
		lt.callback = func(msg *bus.Message) {
			fields, _, ok := splitPrefix(t, msg.Topic)
			if !ok {
				return
			}
			handler(msg, fields)
		}
	}
	return lt, nil
}

// Filter implements Endpoint.
func (l *LogTopic) Filter() string { return topic.Join(l.tmpl.Filter(), "#") }

// Callback implements Endpoint.
func (l *LogTopic) Callback() bus.Callback { return l.callback }

// splitPrefix matches the leading levels of name against tmpl and returns
// the field values and the remaining levels.
func splitPrefix(tmpl *topic.Template, name string) (topic.Fields, string, bool) {
	n := strings.Count(tmpl.Filter(), topic.Separator) + 1
	levels := strings.Split(name, topic.Separator)
	if len(levels) < n {
		return nil, "", false
	}
	fields, ok := tmpl.Match(strings.Join(levels[:n], topic.Separator))
	if !ok {
		return nil, "", false
	}
	return fields, strings.Join(levels[n:], topic.Separator), true
}
