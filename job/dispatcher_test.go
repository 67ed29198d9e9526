package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/tempo/schedule"
)

func TestQueueDispatcherCreatesAndEnqueues(t *testing.T) {
	database := createTestDB(t)
	insertTestSchedule(t, database, "sched-1", "org-1")

	queue := NewQueue(database)
	dispatcher := NewQueueDispatcher(queue, zap.NewNop().Sugar())

	jobID, err := dispatcher.CreateAndEnqueueJob(context.Background(), schedule.DispatchRequest{
		OrgID:        "org-1",
		JobType:      "report",
		Input:        json.RawMessage(`{"format":"pdf"}`),
		ScheduleID:   "sched-1",
		TriggeredBy:  schedule.TriggeredByScheduler,
		ScheduledFor: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	created, err := queue.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, created.Status)
	assert.Equal(t, "report", created.Type)
	assert.Equal(t, "sched-1", created.ScheduleID)
	assert.Equal(t, schedule.TriggeredByScheduler, created.TriggeredBy)
	assert.JSONEq(t, `{"format":"pdf"}`, string(created.Payload))
}

func TestQueueDispatcherRejectsInvalidRequest(t *testing.T) {
	queue := NewQueue(createTestDB(t))
	dispatcher := NewQueueDispatcher(queue, zap.NewNop().Sugar())

	_, err := dispatcher.CreateAndEnqueueJob(context.Background(), schedule.DispatchRequest{
		OrgID:       "",
		JobType:     "report",
		ScheduleID:  "sched-1",
		TriggeredBy: schedule.TriggeredByScheduler,
	})
	require.Error(t, err)
}

func TestQueueDispatcherHonorsCancelledContext(t *testing.T) {
	queue := NewQueue(createTestDB(t))
	dispatcher := NewQueueDispatcher(queue, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dispatcher.CreateAndEnqueueJob(ctx, schedule.DispatchRequest{
		OrgID:       "org-1",
		JobType:     "report",
		ScheduleID:  "sched-1",
		TriggeredBy: schedule.TriggeredByScheduler,
	})
	require.ErrorIs(t, err, context.Canceled)
}
