// Package protocol implements the communication patterns testbed agents
// build on top of the bus: one-way topics, request/reply, duplex channels
// and error reports. Every pattern derives its topics from one template
// with the topic package and plugs into a bus.Client as an Endpoint.
//
// # Request/reply
//
// A RequestServer subscribes base/ctl/<command>/request/+/+ and a
// RequestClient publishes on base/ctl/<command>/request/<clientid>/<n>,
// waiting for base/ctl/<command>/reply/<clientid>/<n>. The client id is
// fixed per RequestClient and n increments per call, so answers are
// correlated by topic only.
//
// Handlers return an Answer: Reply publishes at once, an empty payload
// included; Defer publishes nothing and the handler calls msg.Reply later,
// typically from a worker:
//
//	srv, _ := protocol.NewRequestServer(node, "flash", func(msg *bus.Message, f topic.Fields) protocol.Answer {
//	    pool.Submit(func() { msg.Reply(flash(f, msg.Payload)) })
//	    return protocol.Defer()
//	})
//
// Request reports failures as *CallError: CallAnswerTimeout when the
// request was published but never answered, CallPublishTimeout when the
// transport never confirmed the publish, CallOther otherwise.
//
// # Channels
//
// A ChannelServer reads base/data/in and writes base/data/out; a
// ChannelClient does the reverse.
//
// # Errors
//
// An ErrorServer publishes on base/error/<relative> where relative is the
// failing topic below base; an ErrorClient subscribes base/error/# and
// receives the relative topic back.
package protocol
