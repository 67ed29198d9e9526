package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/tempo/errors"
)

func newTestPool(t *testing.T, cfg WorkerPoolConfig) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool(createTestDB(t), cfg, zap.NewNop().Sugar())
	t.Cleanup(pool.Stop)
	return pool
}

func TestWorkerPoolProcessesJobs(t *testing.T) {
	pool := newTestPool(t, WorkerPoolConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	})

	var executed atomic.Int32
	pool.Registry().Register(HandlerFunc{
		TypeName: "report",
		Fn: func(ctx context.Context, j *Job) (string, error) {
			executed.Add(1)
			return "processed", nil
		},
	})

	queued, err := NewJob("org-1", "report", nil, "", "manual")
	require.NoError(t, err)
	require.NoError(t, pool.GetQueue().Enqueue(queued))

	pool.Start()

	require.Eventually(t, func() bool {
		done, err := pool.GetQueue().GetJob(queued.ID)
		return err == nil && done.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), executed.Load())

	done, err := pool.GetQueue().GetJob(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, "processed", done.Result)
}

func TestWorkerPoolFailsJobOnHandlerError(t *testing.T) {
	pool := newTestPool(t, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	})

	pool.Registry().Register(HandlerFunc{
		TypeName: "report",
		Fn: func(ctx context.Context, j *Job) (string, error) {
			return "", errors.New("handler blew up")
		},
	})

	queued, err := NewJob("org-1", "report", nil, "", "manual")
	require.NoError(t, err)
	require.NoError(t, pool.GetQueue().Enqueue(queued))

	pool.Start()

	require.Eventually(t, func() bool {
		failed, err := pool.GetQueue().GetJob(queued.ID)
		return err == nil && failed.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	failed, err := pool.GetQueue().GetJob(queued.ID)
	require.NoError(t, err)
	assert.Contains(t, failed.Error, "handler blew up")
}

func TestWorkerPoolUnregisteredHandlerFailsJob(t *testing.T) {
	pool := newTestPool(t, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	})

	queued, err := NewJob("org-1", "no-such-type", nil, "", "manual")
	require.NoError(t, err)
	require.NoError(t, pool.GetQueue().Enqueue(queued))

	pool.Start()

	require.Eventually(t, func() bool {
		failed, err := pool.GetQueue().GetJob(queued.ID)
		return err == nil && failed.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPoolRequeuesOrphanedJobs(t *testing.T) {
	database := createTestDB(t)
	store := NewStore(database)

	orphan, err := NewJob("org-1", "report", nil, "", "manual")
	require.NoError(t, err)
	orphan.Start()
	require.NoError(t, store.CreateJob(orphan))

	pool := NewWorkerPool(database, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	}, zap.NewNop().Sugar())
	t.Cleanup(pool.Stop)

	var executed atomic.Int32
	pool.Registry().Register(HandlerFunc{
		TypeName: "report",
		Fn: func(ctx context.Context, j *Job) (string, error) {
			executed.Add(1)
			return "recovered", nil
		},
	})

	pool.Start()

	require.Eventually(t, func() bool {
		recovered, err := pool.GetQueue().GetJob(orphan.ID)
		return err == nil && recovered.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), executed.Load())
}

func TestWorkerPoolStopIsGraceful(t *testing.T) {
	pool := newTestPool(t, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  5 * time.Second,
	})

	pool.Start()
	pool.Stop()

	// Stop again is safe
	pool.Stop()

	// Restart works after a stop
	pool.Start()
	pool.Stop()
}

func TestWorkerPoolSystemMetrics(t *testing.T) {
	pool := newTestPool(t, WorkerPoolConfig{
		Workers:      3,
		PollInterval: time.Hour,
	})

	enqueueTestJob(t, pool.GetQueue(), "org-1")

	metrics := pool.GetSystemMetrics()
	assert.Equal(t, 3, metrics.WorkersTotal)
	assert.Equal(t, 0, metrics.WorkersActive)
	assert.Equal(t, 1, metrics.JobsQueued)
	assert.Equal(t, 0, metrics.JobsRunning)
}
