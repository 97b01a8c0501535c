// Package topic is the naming algebra of testbedbus.
//
// A topic template is a "/" separated path where a level may be a named
// placeholder:
//
//	{archi}/{num}/line
//
// Each placeholder fills a whole level and appears once. New validates the
// template and derives the subscription filter ("+/+/line") and a matcher
// that extracts {archi: "m3", num: "7"} from "m3/7/line".
//
// LazyFormat binds a subset of fields and keeps the others, so static
// context (prefix, site) is bound when the topic tree is built and
// per-message fields (node number) at runtime.
//
// The request, channel and error topic shapes are derived from a base
// template by pure string transforms:
//
//	base/ctl/{command}/request/{clientid}/{requestid}
//	base/ctl/{command}/reply/{clientid}/{requestid}
//	base/data/in, base/data/out
//	base/error/<relative topic>
//
// Nothing here touches the network.
package topic
