package ingest_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmhub/src/core/ingest"
)

func waitForStatus(t *testing.T, r *ingest.Registry, id string, want ingest.Status) ingest.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := r.Get(id)
		if ok && snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := r.Get(id)
	t.Fatalf("task %s never reached %s, last status %s", id, want, snap.Status)
	return ingest.Snapshot{}
}

func TestPoolRunsJobToCompletion(t *testing.T) {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	pool := ingest.NewPool(2, 8, 0, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Shutdown()

	id := registry.Create(3)
	err := pool.Dispatch(ingest.Job{
		TaskID: id,
		Total:  3,
		Run: func(ctx context.Context) (*ingest.Result, error) {
			return &ingest.Result{Success: true, SuccessCount: 3}, nil
		},
	})
	require.NoError(t, err)

	snap := waitForStatus(t, registry, id, ingest.StatusCompleted)
	assert.Equal(t, 3, snap.SuccessCount)
	require.NotNil(t, snap.Result)
}

func TestPoolFailsTaskOnJobError(t *testing.T) {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	pool := ingest.NewPool(1, 8, 0, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Shutdown()

	id := registry.Create(10)
	require.NoError(t, pool.Dispatch(ingest.Job{
		TaskID: id,
		Total:  10,
		Run: func(ctx context.Context) (*ingest.Result, error) {
			return nil, errors.New("storage session could not be opened")
		},
	}))

	snap := waitForStatus(t, registry, id, ingest.StatusFailed)
	assert.Equal(t, "storage session could not be opened", snap.ErrorMessage)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	pool := ingest.NewPool(1, 8, 0, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Shutdown()

	id := registry.Create(1)
	require.NoError(t, pool.Dispatch(ingest.Job{
		TaskID: id,
		Total:  1,
		Run: func(ctx context.Context) (*ingest.Result, error) {
			panic("index out of range")
		},
	}))

	snap := waitForStatus(t, registry, id, ingest.StatusFailed)
	assert.Contains(t, snap.ErrorMessage, "panicked")
	assert.Contains(t, snap.ErrorMessage, "index out of range")

	// The worker must survive the panic and pick up the next job
	next := registry.Create(1)
	require.NoError(t, pool.Dispatch(ingest.Job{
		TaskID: next,
		Total:  1,
		Run: func(ctx context.Context) (*ingest.Result, error) {
			return &ingest.Result{Success: true, SuccessCount: 1}, nil
		},
	}))
	waitForStatus(t, registry, next, ingest.StatusCompleted)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	pool := ingest.NewPool(2, 16, 0, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var running, peak int32
	var mu sync.Mutex
	gate := make(chan struct{})

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = registry.Create(1)
		require.NoError(t, pool.Dispatch(ingest.Job{
			TaskID: ids[i],
			Total:  1,
			Run: func(ctx context.Context) (*ingest.Result, error) {
				n := atomic.AddInt32(&running, 1)
				mu.Lock()
				if n > peak {
					peak = n
				}
				mu.Unlock()
				<-gate
				atomic.AddInt32(&running, -1)
				return &ingest.Result{Success: true, SuccessCount: 1}, nil
			},
		}))
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	pool.Shutdown()

	mu.Lock()
	assert.LessOrEqual(t, peak, int32(2))
	mu.Unlock()
	for _, id := range ids {
		snap, ok := registry.Get(id)
		require.True(t, ok)
		assert.Equal(t, ingest.StatusCompleted, snap.Status)
	}
}

func TestPoolDispatchQueueFull(t *testing.T) {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	pool := ingest.NewPool(1, 1, 0, registry, nil)
	// Pool never started, so the single queue slot is all there is

	require.NoError(t, pool.Dispatch(ingest.Job{TaskID: registry.Create(1)}))
	err := pool.Dispatch(ingest.Job{TaskID: registry.Create(1)})

	assert.ErrorIs(t, err, ingest.ErrQueueFull)
}

func TestPoolJobTimeout(t *testing.T) {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	pool := ingest.NewPool(1, 8, 20*time.Millisecond, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Shutdown()

	id := registry.Create(1)
	require.NoError(t, pool.Dispatch(ingest.Job{
		TaskID: id,
		Total:  1,
		Run: func(ctx context.Context) (*ingest.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	snap := waitForStatus(t, registry, id, ingest.StatusFailed)
	assert.Contains(t, snap.ErrorMessage, "deadline exceeded")
}
