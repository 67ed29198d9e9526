package job

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/schedule"
)

// QueueDispatcher implements schedule.Dispatcher by creating a job and
// enqueuing it for the worker pool. This is the seam between the
// schedule engine and job execution.
type QueueDispatcher struct {
	queue *Queue
	log   *zap.SugaredLogger
}

// NewQueueDispatcher creates a dispatcher backed by the job queue.
func NewQueueDispatcher(queue *Queue, log *zap.SugaredLogger) *QueueDispatcher {
	return &QueueDispatcher{queue: queue, log: log}
}

// CreateAndEnqueueJob creates a queued job for the schedule and
// returns its id.
func (d *QueueDispatcher) CreateAndEnqueueJob(ctx context.Context, req schedule.DispatchRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	created, err := NewJob(req.OrgID, req.JobType, req.Input, req.ScheduleID, req.TriggeredBy)
	if err != nil {
		return "", errors.Wrap(err, "create job for schedule dispatch")
	}

	if err := d.queue.Enqueue(created); err != nil {
		return "", errors.Wrapf(err, "enqueue job for schedule %s", req.ScheduleID)
	}

	d.log.Debugw("Enqueued job for schedule",
		"job_id", created.ID,
		"schedule_id", req.ScheduleID,
		"job_type", req.JobType,
		"triggered_by", req.TriggeredBy,
	)
	return created.ID, nil
}
