package protocol

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/metric"
	"github.com/c360/testbedbus/topic"
)

// DefaultRequestTimeout bounds how long Request waits for an answer.
const DefaultRequestTimeout = 30 * time.Second

// Answer is the result of a request handler: either a payload to publish
// immediately, possibly empty, or a deferred answer the handler publishes
// later through msg.Reply.
type Answer struct {
	payload  []byte
	deferred bool
}

// Reply answers immediately with payload. An empty payload is a valid
// answer and is published.
func Reply(payload []byte) Answer {
	if payload == nil {
		payload = []byte{}
	}
	return Answer{payload: payload}
}

// ReplyError answers immediately with the text of err.
func ReplyError(err error) Answer {
	return Reply([]byte(err.Error()))
}

// Defer publishes nothing: the handler replies later through msg.Reply.
func Defer() Answer {
	return Answer{deferred: true}
}

// Deferred reports whether the answer is deferred.
func (a Answer) Deferred() bool { return a.deferred }

// Payload returns the immediate answer payload.
func (a Answer) Payload() []byte { return a.payload }

// RequestHandler handles a request. fields holds the request topic values
// without the correlation fields; msg.Reply publishes on the reply topic.
type RequestHandler func(msg *bus.Message, fields topic.Fields) Answer

// RequestServer answers requests for one command below a base template.
type RequestServer struct {
	*Topic
	command string
}

// NewRequestServer subscribes base/ctl/command/request/+/+.
func NewRequestServer(base, command string, handler RequestHandler, opts ...Option) (*RequestServer, error) {
	if handler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil handler"), "RequestServer", "New", "command "+command)
	}
	raw, err := topic.RequestTopic(base, command, nil)
	if err != nil {
		return nil, err
	}
	tmpl, err := topic.New(raw)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	s := &RequestServer{Topic: &Topic{tmpl: tmpl}, command: command}
	s.callback = func(msg *bus.Message) {
		fields, ok := tmpl.Match(msg.Topic)
		if !ok {
			return
		}
		msg = msg.ReplyOn(topic.ReplyFromRequest(msg.Topic))

		answer := handler(msg, topic.StripRequestFields(fields))
		o.metrics.RecordRequestServed(command, answer.Deferred())
		if answer.Deferred() {
			o.logger.Debug("Request answer deferred", "topic", msg.Topic)
			return
		}
		msg.Reply(answer.Payload())
	}
	return s, nil
}

// Command returns the served command.
func (s *RequestServer) Command() string { return s.command }

// CallKind classifies request failures.
type CallKind int

// Request failure kinds.
const (
	CallOther CallKind = iota
	CallAnswerTimeout
	CallPublishTimeout
)

// String returns the string representation of CallKind
func (k CallKind) String() string {
	switch k {
	case CallAnswerTimeout:
		return "answer_timeout"
	case CallPublishTimeout:
		return "publish_timeout"
	default:
		return "other"
	}
}

// CallError is returned by RequestClient.Request. Timeout kinds match
// errors.ErrAnswerTimeout and errors.ErrPublishTimeout with errors.Is.
type CallError struct {
	Kind    CallKind
	Command string
	Topic   string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("request %s on %s: %v", e.Command, e.Topic, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// RequestClient issues requests for one command and waits for the
// correlated answers. Calls on one client are serialized.
type RequestClient struct {
	*Topic
	command  string
	clientID string
	request  *topic.Template
	metrics  *metric.Metrics

	mu        sync.Mutex
	requestID uint64
}

// NewRequestClient subscribes the reply filter of clientID,
// base/ctl/command/reply/clientID/+. clientID must be unique among the
// clients of the broker.
func NewRequestClient(base, command, clientID string, opts ...Option) (*RequestClient, error) {
	id := topic.Fields{topic.FieldClientID: clientID}

	rawReply, err := topic.ReplyTopic(base, command, id)
	if err != nil {
		return nil, err
	}
	reply, err := topic.New(rawReply)
	if err != nil {
		return nil, err
	}
	rawRequest, err := topic.RequestTopic(base, command, id)
	if err != nil {
		return nil, err
	}
	request, err := topic.New(rawRequest)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	return &RequestClient{
		Topic:    &Topic{tmpl: reply},
		command:  command,
		clientID: clientID,
		request:  request,
		metrics:  o.metrics,
	}, nil
}

// ClientID returns the correlation client id.
func (c *RequestClient) ClientID() string { return c.clientID }

// Command returns the requested command.
func (c *RequestClient) Command() string { return c.command }

// Request publishes payload on the request topic formatted with fields and
// a fresh request id, then waits up to timeout for the answer. A zero
// timeout means DefaultRequestTimeout. The reply callback only lives for
// the duration of the call, late answers are dropped.
func (c *RequestClient) Request(ctx context.Context, conn Conn, payload []byte, fields topic.Fields, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestID++
	values := make(topic.Fields, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values[topic.FieldRequestID] = strconv.FormatUint(c.requestID, 10)

	requestTopic, err := c.request.Format(values)
	if err != nil {
		return nil, &CallError{Kind: CallOther, Command: c.command, Topic: c.request.String(), Err: err}
	}
	replyTopic := topic.ReplyFromRequest(requestTopic)

	answers := make(chan []byte, 1)
	onAnswer := func(msg *bus.Message) {
		p := msg.Payload
		if p == nil {
			p = []byte{}
		}
		select {
		case answers <- p:
		default:
		}
	}

	done := c.metrics.RequestStarted(c.command)
	var answer []byte
	err = conn.WithCallback(replyTopic, onAnswer, func() error {
		tok := conn.Publish(requestTopic, payload)
		published := tok.Done()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			select {
			case answer = <-answers:
				return nil
			case <-published:
				// A refused publish never reaches the agent either.
				if err := tok.Error(); err != nil {
					return &CallError{Kind: CallPublishTimeout, Command: c.command, Topic: requestTopic,
						Err: fmt.Errorf("%w: %w", errors.ErrPublishTimeout, err)}
				}
				published = nil
			case <-timer.C:
				if bus.Acknowledged(tok) {
					return &CallError{Kind: CallAnswerTimeout, Command: c.command, Topic: requestTopic, Err: errors.ErrAnswerTimeout}
				}
				return &CallError{Kind: CallPublishTimeout, Command: c.command, Topic: requestTopic, Err: errors.ErrPublishTimeout}
			case <-ctx.Done():
				return &CallError{Kind: CallOther, Command: c.command, Topic: requestTopic, Err: ctx.Err()}
			}
		}
	})

	done(outcome(err))
	if err != nil {
		return nil, err
	}
	return answer, nil
}

func outcome(err error) string {
	if err == nil {
		return metric.OutcomeAnswered
	}
	if ce, ok := err.(*CallError); ok {
		switch ce.Kind {
		case CallAnswerTimeout:
			return metric.OutcomeAnswerTimeout
		case CallPublishTimeout:
			return metric.OutcomePublishTimeout
		}
	}
	return metric.OutcomeError
}
