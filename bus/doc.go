// Package bus is the broker client shared by every testbed agent.
//
// A Client owns one Transport (MQTT, NATS or in-memory) and a callback
// table keyed by subscription filter. Endpoints registered before Start
// contribute their filters and callbacks; Start connects, subscribes every
// filter in a single operation and waits for the broker acknowledgement:
//
//	client, _ := bus.NewClient(transport, bus.WithName(clientID), bus.WithLogger(logger))
//	_ = client.Register(endpoints...)
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Stop(context.Background())
//
// Subscriptions are renewed on every reconnection. Incoming messages are
// dispatched to every callback whose filter matches the topic; messages
// matching no callback are dropped. Callbacks run on the transport
// goroutine and must not block: long work is handed to a worker and
// answered later through Message.Reply.
//
// Publish takes raw bytes only and returns a Token completed by the
// transport once the message left the client.
package bus
