package bus

import "context"

// Handlers are the events a Transport reports to the bus client.
// OnConnect runs after every successful connection, reconnections
// included. OnMessage may be called concurrently with itself.
type Handlers struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnMessage        func(topic string, payload []byte)
}

// Transport is a broker connection carrying '/' separated topics and MQTT
// style filters. Implementations live under transport/ and in natsclient.
type Transport interface {
	// Connect opens the connection and installs h. It returns once the
	// first connection is established.
	Connect(ctx context.Context, h Handlers) error

	// Subscribe subscribes all filters in one operation. The token
	// completes when the broker acknowledged the subscription.
	Subscribe(filters ...string) Token

	// Publish sends payload on topic. The token completes when the
	// message left the client.
	Publish(topic string, payload []byte) Token

	// Disconnect closes the connection.
	Disconnect(ctx context.Context) error
}
