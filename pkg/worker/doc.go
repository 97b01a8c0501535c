// Package worker provides a bounded worker pool for work that must not run
// on the bus dispatch path.
//
// Bus callbacks run one at a time per message and must return quickly.
// Request handlers that need to block (flashing a node, waiting on a
// serial line) return a deferred answer and submit the work here; the
// processor later publishes the answer through the message reply.
//
//	pool, err := worker.NewPool("deferred", 4, 64,
//	    func(ctx context.Context, job Job) error {
//	        job.msg.Reply(run(ctx, job))
//	        return nil
//	    },
//	    worker.WithMetricsRegistry[Job](registry),
//	)
//
// Submit never blocks: a full queue returns ErrQueueFull so that the
// handler can answer with an error at once. Stop waits for queued items
// until its context expires, then cancels the processor context.
//
// Statistics are always tracked with atomics (Stats); Prometheus metrics
// are optional.
package worker
