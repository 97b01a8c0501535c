package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/testbedbus/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
	panic bool
}

func process(ctx context.Context, w testWork) error {
	if w.panic {
		panic("boom")
	}
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if w.fail {
		return errors.New("work failed")
	}
	return nil
}

func startPool(t *testing.T, workers, queue int, fn func(context.Context, testWork) error, opts ...Option[testWork]) *Pool[testWork] {
	t.Helper()
	pool, err := NewPool("test", workers, queue, fn, opts...)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return pool
}

func TestNewPool(t *testing.T) {
	pool, err := NewPool("test", 5, 100, process)
	require.NoError(t, err)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)
	assert.Equal(t, "test", pool.Name())

	pool, err = NewPool("test", 0, 0, process)
	require.NoError(t, err)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 64, pool.queueSize)

	_, err = NewPool[testWork]("test", 1, 1, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestPool_Lifecycle(t *testing.T) {
	pool, err := NewPool("test", 2, 4, process)
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)
	assert.NoError(t, pool.Stop(context.Background()), "stopping an idle pool is a no-op")

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(context.Background()))
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(context.Background()))
}

func TestPool_ProcessesAllQueuedWork(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	pool, err := NewPool("test", 3, 50, func(ctx context.Context, w testWork) error {
		mu.Lock()
		seen[w.id] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}
	require.NoError(t, pool.Stop(context.Background()))

	assert.Len(t, seen, 50)
	stats := pool.Stats()
	assert.Equal(t, int64(50), stats.Submitted)
	assert.Equal(t, int64(50), stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.QueueDepth)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	pool := startPool(t, 1, 1, func(ctx context.Context, w testWork) error {
		started <- struct{}{}
		<-release
		return nil
	})

	require.NoError(t, pool.Submit(testWork{id: 1}))
	<-started
	require.NoError(t, pool.Submit(testWork{id: 2}))
	assert.ErrorIs(t, pool.Submit(testWork{id: 3}), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)
	assert.Equal(t, int64(1), pool.Stats().Busy)
	close(release)
}

func TestPool_FailuresAndPanics(t *testing.T) {
	pool, err := NewPool("test", 2, 10, process)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1, fail: true}))
	require.NoError(t, pool.Submit(testWork{id: 2, panic: true}))
	require.NoError(t, pool.Submit(testWork{id: 3}))
	require.NoError(t, pool.Stop(context.Background()))

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Panicked)
	assert.Zero(t, stats.Busy)
}

func TestPool_StopTimeoutCancelsWork(t *testing.T) {
	var cancelled atomic.Bool
	started := make(chan struct{})
	pool, err := NewPool("test", 1, 1, func(ctx context.Context, w testWork) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = pool.Stop(ctx)
	require.ErrorIs(t, err, ErrStopTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Eventually(t, cancelled.Load, time.Second, 10*time.Millisecond)
}

func TestPool_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool, err := NewPool("test", 1, 4, process)
	require.NoError(t, err)
	require.NoError(t, pool.Start(ctx))

	require.NoError(t, pool.Submit(testWork{id: 1, delay: time.Hour}))
	cancel()
	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int64(1), pool.Stats().Failed)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool, err := NewPool("deferred", 2, 10, process, WithMetricsRegistry[testWork](registry))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, pool.Stop(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.submitted))
	assert.Zero(t, testutil.ToFloat64(pool.metrics.busy))
	assert.Equal(t, 2, testutil.CollectAndCount(pool.metrics.processingTime))

	_, err = NewPool("deferred", 1, 1, process, WithMetricsRegistry[testWork](registry))
	assert.Error(t, err, "a second pool with the same name must not register twice")
}
