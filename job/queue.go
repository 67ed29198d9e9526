package job

import (
	"database/sql"
	"sync"
	"time"

	"github.com/teranos/tempo/errors"
)

const (
	// MaxJobsLimit is the maximum number of jobs considered when
	// computing queue statistics
	MaxJobsLimit = 10000
)

// Queue is the mutex-guarded front of the job store. Enqueue/Dequeue
// are the only paths workers and dispatchers use; nothing touches the
// store directly.
type Queue struct {
	store *Store
	mu    sync.RWMutex
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		return errors.Wrapf(err, "enqueue job %s (type %s)", job.ID, job.Type)
	}
	return nil
}

// Dequeue gets the oldest queued job and marks it as running.
// Returns nil when the queue is empty.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.OldestQueued()
	if err != nil {
		return nil, errors.Wrap(err, "get next queued job")
	}
	if job == nil {
		return nil, nil
	}

	job.Start()
	if err := q.store.UpdateJob(job); err != nil {
		return nil, errors.Wrapf(err, "mark job %s as running", job.ID)
	}
	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.GetJob(id)
}

// UpdateJob persists a job's state
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.UpdateJob(job)
}

// CompleteJob marks a job as completed
func (q *Queue) CompleteJob(id, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "complete job %s", id)
	}
	job.Complete(result)
	return q.store.UpdateJob(job)
}

// FailJob marks a job as failed with an error
func (q *Queue) FailJob(id string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "fail job %s", id)
	}
	job.Fail(jobErr)
	return q.store.UpdateJob(job)
}

// CancelJob marks a queued or running job as cancelled
func (q *Queue) CancelJob(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "cancel job %s", id)
	}
	if job.Status.IsTerminal() {
		return errors.Newf("job %s is already %s", id, job.Status)
	}
	job.Cancel(reason)
	return q.store.UpdateJob(job)
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(orgID string, status *Status, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.ListJobs(orgID, status, limit)
}

// ListBySchedule returns the dispatch history for a schedule
func (q *Queue) ListBySchedule(orgID, scheduleID string, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.ListBySchedule(orgID, scheduleID, limit)
}

// Cleanup removes terminal jobs older than the given duration
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.CleanupOldJobs(olderThan)
}

// Stats holds queue statistics by status
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*Stats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := &Stats{}
	for _, status := range []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled} {
		count, err := q.store.CountByStatus(status)
		if err != nil {
			return nil, err
		}
		switch status {
		case StatusQueued:
			stats.Queued = count
		case StatusRunning:
			stats.Running = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusCancelled:
			stats.Cancelled = count
		}
		stats.Total += count
	}
	return stats, nil
}

// GetJobCounts returns quick counts of queued and running jobs
func (q *Queue) GetJobCounts() (queued int, running int, err error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queued, err = q.store.CountByStatus(StatusQueued)
	if err != nil {
		return 0, 0, err
	}
	running, err = q.store.CountByStatus(StatusRunning)
	if err != nil {
		return 0, 0, err
	}
	return queued, running, nil
}
