package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/errors"
)

func enqueueTestJob(t *testing.T, q *Queue, orgID string) *Job {
	t.Helper()
	j, err := NewJob(orgID, "report", nil, "", "manual")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(j))
	return j
}

func TestQueueEnqueueDequeue(t *testing.T) {
	q := NewQueue(createTestDB(t))

	enqueued := enqueueTestJob(t, q, "org-1")

	dequeued, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	assert.Equal(t, enqueued.ID, dequeued.ID)
	assert.Equal(t, StatusRunning, dequeued.Status)
	assert.Equal(t, 1, dequeued.Attempts)

	// Queue drained
	next, err := q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestQueueCompleteAndFail(t *testing.T) {
	q := NewQueue(createTestDB(t))

	first := enqueueTestJob(t, q, "org-1")
	second := enqueueTestJob(t, q, "org-1")

	require.NoError(t, q.CompleteJob(first.ID, "ok"))
	done, err := q.GetJob(first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "ok", done.Result)

	require.NoError(t, q.FailJob(second.ID, errors.New("boom")))
	failed, err := q.GetJob(second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue(createTestDB(t))

	queued := enqueueTestJob(t, q, "org-1")
	require.NoError(t, q.CancelJob(queued.ID, "superseded"))

	cancelled, err := q.GetJob(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// Terminal jobs cannot be cancelled again
	err = q.CancelJob(queued.ID, "again")
	assert.Error(t, err)
}

func TestQueueStats(t *testing.T) {
	q := NewQueue(createTestDB(t))

	enqueueTestJob(t, q, "org-1")
	enqueueTestJob(t, q, "org-1")
	running := enqueueTestJob(t, q, "org-1")
	_, err := q.Dequeue() // moves the oldest to running
	require.NoError(t, err)
	_ = running

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 3, stats.Total)

	queued, runningCount, err := q.GetJobCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, 1, runningCount)
}
