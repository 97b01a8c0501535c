// Package worker provides a generic worker pool for concurrent task processing
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/testbedbus/metric"
)

// Pool represents a generic worker pool that can process any work type T
type Pool[T any] struct {
	// Configuration
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error
	logger    *slog.Logger

	// Runtime state
	workChan chan T
	metrics  *Metrics
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	dropped   atomic.Int64
	busy      atomic.Int64

	metricsRegistry *metric.MetricsRegistry
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	busy           prometheus.Gauge
	submitted      prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers the pool metrics, named after the pool,
// with registry.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a new generic worker pool. name identifies the pool in
// logs and metrics and must be a valid metric name part.
func NewPool[T any](name string, workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	pool := &Pool[T]{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default(),
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(pool)
	}
	pool.logger = pool.logger.With("component", "worker", "pool", name)

	if pool.metricsRegistry != nil {
		if err := pool.initializeMetrics(); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// initializeMetrics creates and registers metrics with the registry
func (p *Pool[T]) initializeMetrics() error {
	opts := func(name, help string) (string, string, string, string) {
		return "testbedbus", "worker", p.name + "_" + name, help
	}
	gauge := func(name, help string) prometheus.Gauge {
		ns, sub, n, h := opts(name, help)
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: n, Help: h})
	}
	counter := func(name, help string) prometheus.Counter {
		ns, sub, n, h := opts(name, help)
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: n, Help: h})
	}

	m := &Metrics{
		queueDepth: gauge("queue_depth", "Current worker pool queue depth"),
		busy:       gauge("busy_workers", "Workers currently processing an item"),
		submitted:  counter("submitted_total", "Total work items submitted"),
		dropped:    counter("dropped_total", "Total work items dropped due to full queue"),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "testbedbus",
			Subsystem: "worker",
			Name:      p.name + "_processing_duration_seconds",
			Help:      "Time spent processing work items by status (success, error, panic)",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"status"}),
	}

	owner := "worker_" + p.name
	for _, reg := range []func() error{
		func() error { return p.metricsRegistry.RegisterGauge(owner, "queue_depth", m.queueDepth) },
		func() error { return p.metricsRegistry.RegisterGauge(owner, "busy_workers", m.busy) },
		func() error { return p.metricsRegistry.RegisterCounter(owner, "submitted_total", m.submitted) },
		func() error { return p.metricsRegistry.RegisterCounter(owner, "dropped_total", m.dropped) },
		func() error {
			return p.metricsRegistry.RegisterHistogramVec(owner, "processing_duration_seconds", m.processingTime)
		},
	} {
		if err := reg(); err != nil {
			return err
		}
	}

	p.metrics = m
	return nil
}

// Name returns the pool name.
func (p *Pool[T]) Name() string { return p.name }

// Submit submits work to the pool without blocking. Returns ErrQueueFull
// if the queue is full.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start starts the workers. Cancelling ctx cancels the context handed to
// the processor.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	p.logger.Debug("Worker pool started", "workers", p.workers, "queue_size", p.queueSize)
	return nil
}

// Stop stops accepting work and waits for the queued items to be
// processed. When ctx expires first, the processor context is cancelled
// and Stop returns ErrStopTimeout without waiting further.
func (p *Pool[T]) Stop(ctx context.Context) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("Worker pool stop timed out", "queued", len(p.workChan), "busy", p.busy.Load())
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Busy:       p.busy.Load(),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Panicked:   p.panicked.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int64 `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Panicked   int64 `json:"panicked"`
	Dropped    int64 `json:"dropped"`
}

// worker processes work items until the queue is closed and drained
func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for work := range p.workChan {
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		p.process(ctx, work)
	}
}

// process runs the processor on one item, recovering a panic as a failure.
func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	p.setBusy(p.busy.Add(1))
	status := "success"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			p.panicked.Add(1)
			p.failed.Add(1)
			p.logger.Error("Work item panicked", "panic", r)
		}
		p.processed.Add(1)
		p.setBusy(p.busy.Add(-1))
		if p.metrics != nil {
			p.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
		}
	}()

	if err := p.processor(ctx, work); err != nil {
		status = "error"
		p.failed.Add(1)
		p.logger.Debug("Work item failed", "error", err)
	}
}

func (p *Pool[T]) setBusy(n int64) {
	if p.metrics != nil {
		p.metrics.busy.Set(float64(n))
	}
}
