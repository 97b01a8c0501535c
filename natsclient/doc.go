// Package natsclient carries the testbed bus over core NATS, with circuit
// breaker protection on connection attempts and automatic reconnection.
//
// The Client implements bus.Transport, so a bus.Client runs unchanged on
// top of an MQTT broker or a NATS server. Topic names are mapped to NATS
// subjects level by level:
//
//	node/m3/1/ctl/reset   -> node.m3.1.ctl.reset
//	node/+/+/ctl/#        -> node.*.*.ctl  and  node.*.*.ctl.>
//	a.b/c                 -> a%2Eb.c
//	grenoble/agent/error/ -> grenoble.agent.error.%
//
// Levels holding characters NATS reserves ("." "*" ">" "%" and
// whitespace) are percent-escaped, and an empty level becomes "%".
//
// # Acknowledgements
//
// Core NATS has no per-message acknowledgement. Subscribe and Publish
// tokens complete after a server round trip (a flush), which confirms the
// server processed everything sent before it. The round trip is bounded by
// WithFlushTimeout.
//
// # Circuit Breaker
//
// After a threshold of consecutive failed Connect calls (default: 5) the
// circuit opens and Connect fails fast with ErrCircuitOpen. After the
// backoff, which doubles up to WithMaxBackoff, the next attempt is let
// through. A successful connection resets the circuit.
//
// # Usage
//
//	transport, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("gateway"),
//	    natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
//	)
//	if err != nil {
//	    return err
//	}
//	client, err := bus.NewClient(transport, bus.WithName("gateway"))
//
// # Testing
//
// NewTestServer starts a NATS server in a container for integration tests,
// built with the "integration" tag.
package natsclient
