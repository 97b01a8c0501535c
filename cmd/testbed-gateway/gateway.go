package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/testbedbus/agent"
	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/config"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/protocol"
	"github.com/c360/testbedbus/topic"
)

const (
	defaultAgentTopic = "testbed/gateway/{site}"

	// maxSleep bounds the sleep command so that a request cannot hold a
	// worker forever.
	maxSleep = 10 * time.Minute
)

var gatewayTopics = map[string]string{
	"echo": "echo/{node}",
}

// gateway is the loopback diagnostic agent: it answers ping at once,
// sleep after a delay and echoes channel input on the output.
type gateway struct {
	*agent.Agent
	echo *protocol.ChannelServer
}

func newGateway(cfg *config.Config, opts ...agent.Option) (*gateway, error) {
	a, err := agent.New(appName, defaultAgentTopic, gatewayTopics, cfg, opts...)
	if err != nil {
		return nil, err
	}
	g := &gateway{Agent: a}

	ping, err := protocol.NewRequestServer(a.AgentTopic(), "ping", g.ping,
		protocol.WithMetrics(a.Registry()))
	if err != nil {
		return nil, err
	}
	sleep, err := protocol.NewRequestServer(a.AgentTopic(), "sleep", g.sleep,
		protocol.WithMetrics(a.Registry()))
	if err != nil {
		return nil, err
	}
	g.echo, err = protocol.NewChannelServer(a.Topic("echo"), g.echoData)
	if err != nil {
		return nil, err
	}

	if err := a.Register(ping, sleep, g.echo); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *gateway) ping(_ *bus.Message, _ topic.Fields) protocol.Answer {
	return protocol.Reply(nil)
}

// sleep waits for the payload duration, "1.5s" or a number of seconds,
// on the worker pool.
func (g *gateway) sleep(msg *bus.Message, _ topic.Fields) protocol.Answer {
	d, err := parseSleep(string(msg.Payload))
	if err != nil {
		return protocol.ReplyError(err)
	}
	return g.Defer(msg, func(ctx context.Context) ([]byte, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return []byte("slept " + d.String()), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("sleep interrupted: %w", ctx.Err())
		}
	})
}

func parseSleep(payload string) (time.Duration, error) {
	payload = strings.TrimSpace(payload)
	d, err := time.ParseDuration(payload)
	if err != nil {
		secs, ferr := strconv.ParseFloat(payload, 64)
		if ferr != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", payload, errors.ErrInvalidValue)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 || d > maxSleep {
		return 0, fmt.Errorf("duration %v out of range [0, %v]: %w", d, maxSleep, errors.ErrInvalidValue)
	}
	return d, nil
}

// echoData publishes the input back on the output of the same node. An
// empty payload, or an output that cannot be published, is reported on
// the error topic.
func (g *gateway) echoData(msg *bus.Message, fields topic.Fields) {
	if len(msg.Payload) == 0 {
		g.PublishError(msg.Topic, []byte("empty payload"))
		return
	}
	out, err := g.echo.OutputPublisher(g.Client(), fields)
	if err != nil {
		g.PublishError(msg.Topic, []byte(err.Error()))
		return
	}
	out(msg.Payload)
}
