package schedule

import (
	"context"
	"encoding/json"
	"time"
)

// TriggeredBy values recorded on dispatched jobs.
const (
	TriggeredByScheduler = "scheduler"
	TriggeredByManual    = "manual"
)

// DispatchRequest carries everything the job side needs to create and
// enqueue work for a schedule.
type DispatchRequest struct {
	OrgID      string
	JobType    string
	CreatedBy  string
	Input      json.RawMessage
	ScheduleID string
	TriggeredBy string
	// ScheduledFor is the next_run_at that made the schedule due. Zero
	// for manual runs.
	ScheduledFor time.Time
}

// Dispatcher is the job-creation capability consumed by the engine and
// by manual runs. Implementations must return the id of the created
// job. The engine retries failed dispatches on later ticks, so
// implementations should tolerate being called again for the same due
// slot.
type Dispatcher interface {
	CreateAndEnqueueJob(ctx context.Context, req DispatchRequest) (string, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, req DispatchRequest) (string, error)

func (f DispatcherFunc) CreateAndEnqueueJob(ctx context.Context, req DispatchRequest) (string, error) {
	return f(ctx, req)
}
