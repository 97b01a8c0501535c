package protocol

import (
	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/topic"
)

// ChannelServer owns a duplex byte stream at base: it receives on
// base/data/in and publishes on base/data/out.
type ChannelServer struct {
	*Topic
	output *topic.Template
}

// NewChannelServer subscribes base/data/in with handler.
func NewChannelServer(base string, handler Handler) (*ChannelServer, error) {
	in, err := NewTopic(topic.ChannelInput(base), handler)
	if err != nil {
		return nil, err
	}
	out, err := topic.New(topic.ChannelOutput(base))
	if err != nil {
		return nil, err
	}
	return &ChannelServer{Topic: in, output: out}, nil
}

// OutputPublisher returns the publisher of the output direction formatted
// with fields.
func (s *ChannelServer) OutputPublisher(conn Publisher, fields topic.Fields) (bus.ReplyFunc, error) {
	return outputPublisher(conn, s.output, fields)
}

// OutputChannelServer is a ChannelServer without input direction.
type OutputChannelServer struct {
	*NullTopic
	output *topic.Template
}

// NewOutputChannelServer parses base.
func NewOutputChannelServer(base string) (*OutputChannelServer, error) {
	t, err := NewNullTopic(base)
	if err != nil {
		return nil, err
	}
	out, err := topic.New(topic.ChannelOutput(base))
	if err != nil {
		return nil, err
	}
	return &OutputChannelServer{NullTopic: t, output: out}, nil
}

// OutputPublisher returns the publisher of the output direction formatted
// with fields.
func (s *OutputChannelServer) OutputPublisher(conn Publisher, fields topic.Fields) (bus.ReplyFunc, error) {
	return outputPublisher(conn, s.output, fields)
}

func outputPublisher(conn Publisher, out *topic.Template, fields topic.Fields) (bus.ReplyFunc, error) {
	name, err := out.Format(fields)
	if err != nil {
		return nil, err
	}
	return func(payload []byte) bus.Token {
		return conn.Publish(name, payload)
	}, nil
}

// ChannelClient is the other end of a ChannelServer: it receives on
// base/data/out and sends on base/data/in.
type ChannelClient struct {
	*Topic
	input *topic.Template
}

// NewChannelClient subscribes base/data/out with handler.
func NewChannelClient(base string, handler Handler) (*ChannelClient, error) {
	out, err := NewTopic(topic.ChannelOutput(base), handler)
	if err != nil {
		return nil, err
	}
	in, err := topic.New(topic.ChannelInput(base))
	if err != nil {
		return nil, err
	}
	return &ChannelClient{Topic: out, input: in}, nil
}

// Send publishes data on the input direction formatted with fields.
func (c *ChannelClient) Send(conn Publisher, data []byte, fields topic.Fields) bus.Token {
	return send(conn, c.input, data, fields)
}
