package worker

import "errors"

// Submit refuses work with one of the first three; a full queue may clear,
// a pool that is not running will not.
var (
	ErrQueueFull      = errors.New("deferred work queue full")
	ErrPoolNotStarted = errors.New("deferred work pool not started")
	ErrPoolStopped    = errors.New("deferred work pool stopped")

	ErrPoolAlreadyStarted = errors.New("deferred work pool already started")
	ErrNilProcessor       = errors.New("nil processor")

	// ErrStopTimeout is returned by Stop when queued work outlives its
	// context; the remaining work is cancelled.
	ErrStopTimeout = errors.New("deferred work still running at stop deadline")
)
