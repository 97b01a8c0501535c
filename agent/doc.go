// Package agent runs a gateway process on the bus.
//
// An agent owns one bus client, the topic tree it serves, a worker pool
// for deferred answers, the error topic of its agent topic, a health
// monitor and, optionally, the metrics endpoint:
//
//	a, err := agent.New("node", "iot-lab/node/{site}", map[string]string{
//	    "reset": "{archi}/{num}/ctl/reset",
//	}, cfg)
//	reset, _ := protocol.NewRequestServer(a.AgentTopic()+"/{archi}/{num}", "reset",
//	    func(msg *bus.Message, f topic.Fields) protocol.Answer {
//	        return a.Defer(msg, func(ctx context.Context) ([]byte, error) {
//	            return nil, resetNode(ctx, f["archi"], f["num"])
//	        })
//	    })
//	a.Register(reset)
//	err = a.Run(ctx)
//
// Topic trees are built from templates relative to the agent topic; the
// configured prefix is prepended and the {site} field bound once, the
// per-message fields stay for the endpoints to match.
//
// The broker is selected by configuration: MQTT through Paho, or NATS with
// topics mapped to subjects.
package agent
