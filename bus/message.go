package bus

import (
	"fmt"

	"github.com/c360/testbedbus/errors"
)

// ReplyFunc publishes a payload on a fixed topic.
type ReplyFunc func(payload []byte) Token

// Callback handles a message delivered on a subscribed filter.
type Callback func(msg *Message)

// Message is a received broker message.
type Message struct {
	Topic   string
	Payload []byte

	publisher func(topic string) ReplyFunc
	reply     ReplyFunc
}

// NewMessage builds a message as delivered by a client whose Publisher is
// publisher.
func NewMessage(topic string, payload []byte, publisher func(topic string) ReplyFunc) *Message {
	return &Message{Topic: topic, Payload: payload, publisher: publisher}
}

// ReplyOn returns a copy of m whose Reply publishes on topic through the
// client that delivered m.
func (m *Message) ReplyOn(topic string) *Message {
	out := *m
	if m.publisher != nil {
		out.reply = m.publisher(topic)
	}
	return &out
}

// WithReply returns a copy of m answering through reply.
func (m *Message) WithReply(reply ReplyFunc) *Message {
	out := *m
	out.reply = reply
	return &out
}

// CanReply reports whether the message carries a reply publisher.
func (m *Message) CanReply() bool { return m.reply != nil }

// Reply publishes payload on the reply topic of a request message. It may
// be called from any goroutine, at any later time.
func (m *Message) Reply(payload []byte) Token {
	if m.reply == nil {
		return FailedToken(fmt.Errorf("message on %q has no reply topic: %w", m.Topic, errors.ErrInvalidValue))
	}
	return m.reply(payload)
}

// Endpoint is anything the client subscribes and dispatches for. A
// publish-only endpoint returns an empty filter; an endpoint that only
// needs the subscription returns a nil callback.
type Endpoint interface {
	Filter() string
	Callback() Callback
}
