package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolTask(fn func(ctx context.Context) error) Task {
	return Task{OrgID: "org-test", ActionRunID: "ar-test", Run: fn}
}

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown()

	var count int64
	for i := 0; i < 20; i++ {
		err := pool.Submit(context.Background(), poolTask(func(context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}))
		require.NoError(t, err)
	}
	pool.Wait()

	assert.Equal(t, int64(20), atomic.LoadInt64(&count))
	metrics := pool.Metrics()
	assert.Equal(t, int64(20), metrics.Submitted)
	assert.Equal(t, int64(20), metrics.Completed)
	assert.Equal(t, int64(0), metrics.Active)
}

func TestWorkerPoolCountsFailures(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), poolTask(func(context.Context) error {
		return errors.New("boom")
	})))
	pool.Wait()

	assert.Equal(t, int64(1), pool.Metrics().Failed)
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), poolTask(func(context.Context) error {
		panic("bad executor")
	})))
	pool.Wait()

	metrics := pool.Metrics()
	assert.Equal(t, int64(1), metrics.Panics)
	assert.Equal(t, int64(1), metrics.Failed)
}

func TestWorkerPoolSubmitRespectsContextWhenSaturated(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), poolTask(func(context.Context) error {
		close(started)
		<-release
		return nil
	})))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Submit(ctx, poolTask(func(context.Context) error { return nil }))
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	pool.Wait()
}

func TestWorkerPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), poolTask(func(context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrPoolShutdown)
}
