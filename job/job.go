// Package job provides the async job queue and worker pool that
// execute work dispatched by the schedule engine or by manual runs.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/tempo/errors"
)

// Status represents the current state of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one unit of queued work. The queue is domain-agnostic: the
// job type routes to a registered handler, and the payload is owned by
// whoever registered it.
type Job struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	ScheduleID  string          `json:"schedule_id,omitempty"` // Set when dispatched for a schedule
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      Status          `json:"status"`
	TriggeredBy string          `json:"triggered_by"` // "scheduler" or "manual"
	Attempts    int             `json:"attempts"`
	Error       string          `json:"error,omitempty"`
	Result      string          `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewJob creates a queued job.
func NewJob(orgID, jobType string, payload json.RawMessage, scheduleID, triggeredBy string) (*Job, error) {
	if orgID == "" {
		return nil, errors.New("orgID cannot be empty")
	}
	if jobType == "" {
		return nil, errors.New("jobType cannot be empty")
	}
	if triggeredBy == "" {
		triggeredBy = "manual"
	}

	return &Job{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		ScheduleID:  scheduleID,
		Type:        jobType,
		Payload:     payload,
		Status:      StatusQueued,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Start marks the job as running and counts the attempt
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	j.Attempts++
}

// Complete marks the job as completed with an optional result summary
func (j *Job) Complete(result string) {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Result = result
	j.CompletedAt = &now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.Error = reason
	j.CompletedAt = &now
}
