package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/protocol"
	"github.com/c360/testbedbus/topic"
)

// session is one bus connection used by a single command.
type session struct {
	transport        bus.Transport
	clientID         string
	subscribeTimeout time.Duration
	logger           *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

func (s *session) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, args...)
}

// connect starts a bus client subscribed to endpoints. The caller stops it.
func (s *session) connect(ctx context.Context, endpoints ...bus.Endpoint) (*bus.Client, error) {
	c, err := bus.NewClient(s.transport,
		bus.WithName(s.clientID),
		bus.WithLogger(s.logger),
		bus.WithSubscribeTimeout(s.subscribeTimeout),
	)
	if err != nil {
		return nil, err
	}
	if err := c.Register(endpoints...); err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Stop(context.Background())
		return nil, err
	}
	return c, nil
}

func disconnect(c *bus.Client, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = c.Stop(ctx)
}

// request calls command on the agent below base and prints the answer.
func request(ctx context.Context, s *session, base, command string, payload []byte, fields topic.Fields, timeout time.Duration) error {
	rc, err := protocol.NewRequestClient(base, command, s.clientID)
	if err != nil {
		return err
	}
	c, err := s.connect(ctx, rc)
	if err != nil {
		return err
	}
	defer disconnect(c, timeout)

	answer, err := rc.Request(ctx, c, payload, fields, timeout)
	if err != nil {
		return err
	}
	s.printf("%s\n", answer)
	return nil
}

// send publishes payload count times on tmpl formatted with fields, at
// most perSecond messages a second when perSecond > 0.
func send(ctx context.Context, s *session, tmpl string, payload []byte, fields topic.Fields, count int, perSecond float64, timeout time.Duration) error {
	ic, err := protocol.NewInputClient(tmpl)
	if err != nil {
		return err
	}
	c, err := s.connect(ctx, ic)
	if err != nil {
		return err
	}
	defer disconnect(c, timeout)

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	if count <= 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "testbed-call", "send", "wait for rate limit")
		}
		pubCtx, cancel := context.WithTimeout(ctx, timeout)
		err := bus.Wait(pubCtx, ic.Send(c, payload, fields))
		cancel()
		if err != nil {
			return errors.WrapTransient(err, "testbed-call", "send", "publish "+tmpl)
		}
	}
	return nil
}

// listen prints every message below tmpl until ctx ends or count
// messages were printed, count <= 0 meaning no limit.
func listen(ctx context.Context, s *session, tmpl string, count int, timeout time.Duration) error {
	lines := make(chan string, 64)
	lt, err := protocol.NewLogTopic(tmpl, func(msg *bus.Message, _ topic.Fields) {
		offer(lines, fmt.Sprintf("%s %s\n", msg.Topic, msg.Payload))
	})
	if err != nil {
		return err
	}
	return follow(ctx, s, lt, lines, count, timeout)
}

// watchErrors prints the error reports of the agent at base, as the
// failing topic relative to base and the error text.
func watchErrors(ctx context.Context, s *session, base string, count int, timeout time.Duration) error {
	lines := make(chan string, 64)
	ec, err := protocol.NewErrorClient(base, func(msg *bus.Message, rel string) {
		offer(lines, fmt.Sprintf("%s: %s\n", rel, msg.Payload))
	})
	if err != nil {
		return err
	}
	return follow(ctx, s, ec, lines, count, timeout)
}

// offer never blocks dispatch: line is dropped when lines is full.
func offer(lines chan<- string, line string) {
	select {
	case lines <- line:
	default:
	}
}

func follow(ctx context.Context, s *session, ep bus.Endpoint, lines <-chan string, count int, timeout time.Duration) error {
	c, err := s.connect(ctx, ep)
	if err != nil {
		return err
	}
	defer disconnect(c, timeout)

	for n := 0; count <= 0 || n < count; n++ {
		select {
		case line := <-lines:
			s.printf("%s", line)
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
