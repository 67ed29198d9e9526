package schedule

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/tempo/errors"
)

// Service layers recurrence policy over the store: when next_run_at is
// computed, what pause/resume/run-now touch, and creation validation.
// The store itself never invokes the calculator.
type Service struct {
	store      *Store
	dispatcher Dispatcher
	log        *zap.SugaredLogger
	now        func() time.Time
}

// NewService creates a schedule service.
func NewService(store *Store, dispatcher Dispatcher, log *zap.SugaredLogger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// CreateParams are the caller-supplied fields for a new schedule.
type CreateParams struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	JobType     string          `json:"job_type"`
	JobConfig   json.RawMessage `json:"job_config,omitempty"`

	Recurrence

	DeliveryMethod string          `json:"delivery_method,omitempty"`
	DeliveryConfig json.RawMessage `json:"delivery_config,omitempty"`
}

// Create validates the definition, computes the first next_run_at from
// the current time, and inserts the schedule as active.
func (s *Service) Create(orgID, createdBy string, p CreateParams) (*Schedule, error) {
	if p.Name == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "name is required")
	}
	if p.JobType == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "job_type is required")
	}
	if err := ValidateRecurrence(p.Recurrence); err != nil {
		return nil, err
	}

	now := s.now()
	sched := &Schedule{
		ID:             uuid.NewString(),
		OrgID:          orgID,
		CreatedBy:      createdBy,
		Name:           p.Name,
		Description:    p.Description,
		JobType:        p.JobType,
		JobConfig:      p.JobConfig,
		Recurrence:     p.Recurrence,
		DeliveryMethod: p.DeliveryMethod,
		DeliveryConfig: p.DeliveryConfig,
		IsActive:       true,
		NextRunAt:      NextRun(p.Recurrence, now),
	}

	if err := s.store.Create(sched); err != nil {
		return nil, err
	}

	s.log.Infow("Schedule created",
		"schedule_id", sched.ID,
		"org_id", orgID,
		"job_type", sched.JobType,
		"frequency", sched.Frequency,
		"next_run_at", sched.NextRunAt,
	)
	return sched, nil
}

// Get returns a schedule by id.
func (s *Service) Get(orgID, id string) (*Schedule, error) {
	return s.store.GetByID(orgID, id)
}

// List returns a page of schedules and the total count.
func (s *Service) List(orgID string, opts ListOptions) ([]*Schedule, int, error) {
	return s.store.List(orgID, opts)
}

// Update applies a partial update. If the patch touches any recurrence
// field, next_run_at is recomputed from the merged definition (patch
// wins, stored value is the fallback) at the current time. Otherwise
// next_run_at is left untouched.
func (s *Service) Update(orgID, id string, patch Patch) (*Schedule, error) {
	if patch.HasRecurrenceChange() {
		existing, err := s.store.GetByID(orgID, id)
		if err != nil {
			return nil, err
		}

		merged := mergeRecurrence(existing.Recurrence, patch)
		if err := ValidateRecurrence(merged); err != nil {
			return nil, err
		}

		next := NextRun(merged, s.now())
		if next == nil {
			patch.ClearNextRunAt = true
		} else {
			patch.NextRunAt = next
		}
	}

	return s.store.Update(orgID, id, patch)
}

// Pause deactivates a schedule. next_run_at is deliberately preserved;
// only Resume recomputes it.
func (s *Service) Pause(orgID, id string) (*Schedule, error) {
	active := false
	return s.store.Update(orgID, id, Patch{IsActive: &active})
}

// Resume reactivates a schedule and recomputes next_run_at from the
// current time. The stale pre-pause value is never reused, and the
// failure count is cleared so a schedule deactivated by repeated
// dispatch failures becomes eligible again.
func (s *Service) Resume(orgID, id string) (*Schedule, error) {
	existing, err := s.store.GetByID(orgID, id)
	if err != nil {
		return nil, err
	}

	active := true
	patch := Patch{IsActive: &active, ResetFailureCount: true}
	if next := NextRun(existing.Recurrence, s.now()); next != nil {
		patch.NextRunAt = next
	} else {
		patch.ClearNextRunAt = true
	}

	return s.store.Update(orgID, id, patch)
}

// RunNow dispatches the schedule's job immediately, tagged as a manual
// trigger. It records last_job_id and last_run_at but never advances
// next_run_at or touches the failure count; the next scheduled tick is
// unaffected.
func (s *Service) RunNow(ctx context.Context, orgID, id string) (string, error) {
	sched, err := s.store.GetByID(orgID, id)
	if err != nil {
		return "", err
	}

	jobID, err := s.dispatcher.CreateAndEnqueueJob(ctx, DispatchRequest{
		OrgID:       sched.OrgID,
		JobType:     sched.JobType,
		CreatedBy:   sched.CreatedBy,
		Input:       sched.JobConfig,
		ScheduleID:  sched.ID,
		TriggeredBy: TriggeredByManual,
	})
	if err != nil {
		return "", errors.Wrapf(err, "manual dispatch of schedule %s", id)
	}

	if err := s.store.RecordManualRun(orgID, id, jobID, s.now()); err != nil {
		// The job is already enqueued; the stale last_run_at is an
		// accounting gap, not a dispatch failure.
		s.log.Errorw("Failed to record manual run",
			"schedule_id", id,
			"job_id", jobID,
			"error", err,
		)
	}

	s.log.Infow("Manual run dispatched",
		"schedule_id", id,
		"org_id", orgID,
		"job_id", jobID,
	)
	return jobID, nil
}

// Delete soft-deletes a schedule. The row stays in the table but is
// invisible to listings and to the engine from this point on.
func (s *Service) Delete(orgID, id string) error {
	deleted, err := s.store.SoftDelete(orgID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return errors.Wrapf(errors.ErrNotFound, "schedule %s", id)
	}
	return nil
}

// mergeRecurrence overlays the patch's recurrence fields on the stored
// definition. Patch wins, stored value is the fallback.
func mergeRecurrence(stored Recurrence, patch Patch) Recurrence {
	merged := stored
	if patch.Frequency != nil {
		merged.Frequency = *patch.Frequency
	}
	if patch.Hour != nil {
		merged.Hour = *patch.Hour
	}
	if patch.Minute != nil {
		merged.Minute = *patch.Minute
	}
	if patch.DayOfWeek != nil {
		merged.DayOfWeek = patch.DayOfWeek
	}
	if patch.DayOfMonth != nil {
		merged.DayOfMonth = patch.DayOfMonth
	}
	if patch.CronExpr != nil {
		merged.CronExpr = patch.CronExpr
	}
	if patch.Timezone != nil {
		merged.Timezone = *patch.Timezone
	}
	if patch.StartDate != nil {
		merged.StartDate = patch.StartDate
	}
	if patch.EndDate != nil {
		merged.EndDate = patch.EndDate
	}
	return merged
}
