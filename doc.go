// Package testbedbus provides the protocol layer shared by the gateways of
// an IoT testbed and their clients, carried over a publish/subscribe
// broker.
//
// # Topics
//
// Every exchange is addressed by a topic built from a template such as
//
//	{site}/node/{archi}/{num}/serial
//
// where each named field stands for exactly one topic level. Templates
// are formatted with field values, partially formatted when only some
// values are known (the site at start-up, the node per message), turned
// into subscription filters by replacing fields with the single-level
// wildcard, and matched against received topics to recover the values.
// See package topic.
//
// # Endpoints
//
// On top of templates, package protocol defines the endpoint kinds an
// agent and its clients use:
//
//   - Input and output topics: one-way data, from clients to the agent or
//     from the agent to clients.
//   - Channels: a duplex byte stream at base/data/in and base/data/out.
//   - Requests: base/ctl/{command}/request/{clientid}/{requestid} answered
//     on the matching reply topic, immediately or later from any
//     goroutine (deferred answers).
//   - Error topics: asynchronous failures of any topic below an agent
//     topic, published on base/error/ followed by the failing topic.
//   - Log topics: everything below a template.
//
// # Bus client
//
// Package bus owns the broker connection of a process: it subscribes the
// filters of every registered endpoint on each (re)connection, waits for
// the subscriptions to be acknowledged before reporting ready, and
// dispatches every received message to each matching callback. The broker
// itself is behind bus.Transport:
//
//   - transport/mqtt: MQTT with the Eclipse Paho client
//   - natsclient: NATS, topics mapped to subjects
//   - transport/memory: an in-process broker for tests
//
// # Agents
//
// Package agent assembles a gateway process from a configuration (package
// config): its topic tree, bus client, worker pool for deferred answers,
// error topic, health and Prometheus metrics (packages health and metric).
//
// # Commands
//
//   - cmd/testbed-gateway: a loopback diagnostic agent (ping, sleep, echo)
//   - cmd/testbed-call: request, send, listen and errors from the command line
package testbedbus
