package protocol

import (
	"fmt"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/topic"
)

// ErrorServer reports failures of topics below base on base/error/.
type ErrorServer struct {
	*NullTopic
	base string
	opts options
}

// NewErrorServer creates the error publisher of the concrete topic base.
func NewErrorServer(base string, opts ...Option) (*ErrorServer, error) {
	t, err := NewNullTopic(topic.ErrorBase(base))
	if err != nil {
		return nil, err
	}
	if len(t.Template().Fields()) > 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("error base %q has template fields: %w", base, errors.ErrInvalidValue),
			"ErrorServer", "New", "check base")
	}
	return &ErrorServer{NullTopic: t, base: base, opts: newOptions(opts)}, nil
}

// Topic returns the error namespace, base/error/.
func (s *ErrorServer) Topic() string { return topic.ErrorBase(s.base) }

// PublishError publishes payload on the error topic mirroring failing,
// which must lie below base.
func (s *ErrorServer) PublishError(conn Publisher, failing string, payload []byte) bus.Token {
	rel, err := topic.RelativeTopic(s.base, failing)
	if err != nil {
		return bus.FailedToken(err)
	}
	s.opts.metrics.RecordErrorPublished(s.base)
	s.opts.logger.Debug("Publishing error", "topic", failing)
	return conn.Publish(topic.Join(s.Topic(), rel), payload)
}

// ErrorHandler receives an error report with the failing topic relative
// to the error namespace.
type ErrorHandler func(msg *bus.Message, relative string)

// ErrorClient subscribes to every error below base.
type ErrorClient struct {
	tmpl     *topic.Template
	callback bus.Callback
}

// NewErrorClient subscribes base/error/#. base may hold template fields,
// each matching one level.
func NewErrorClient(base string, handler ErrorHandler) (*ErrorClient, error) {
	t, err := topic.New(topic.Join(base, "error"))
	if err != nil {
		return nil, err
	}
	c := &ErrorClient{tmpl: t}
	if handler != nil {
		c.callback = func(msg *bus.Message) {
			_, rel, ok := splitPrefix(t, msg.Topic)
			if !ok {
				return
			}
			handler(msg, rel)
		}
	}
	return c, nil
}

// Filter implements Endpoint.
func (c *ErrorClient) Filter() string { return topic.Join(c.tmpl.Filter(), "#") }

// Callback implements Endpoint.
func (c *ErrorClient) Callback() bus.Callback { return c.callback }
