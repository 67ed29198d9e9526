// Package schedule implements the scheduled-job core: recurring-job
// definitions, next-run calculation, the tenant-scoped store, and the
// polling engine that dispatches due work.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/tempo/errors"
)

// MaxFailureCount is the circuit breaker threshold. A schedule whose
// dispatch fails this many times in a row is deactivated and never
// polled again until explicitly resumed.
const MaxFailureCount = 5

// Frequency identifies the recurrence shape of a schedule.
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// Valid reports whether f is a known frequency value.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}
	return false
}

// Recurrence holds the fields that determine when a schedule fires.
// It is the input to NextRun and is embedded in Schedule.
type Recurrence struct {
	Frequency  Frequency  `json:"frequency"`
	Hour       int        `json:"hour"`
	Minute     int        `json:"minute"`
	DayOfWeek  *int       `json:"day_of_week,omitempty"`  // Sunday=0 .. Saturday=6
	DayOfMonth *int       `json:"day_of_month,omitempty"` // clamped to 1..28
	CronExpr   *string    `json:"cron_expr,omitempty"`
	Timezone   string     `json:"timezone"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

// Schedule is a persisted recurring-job definition, scoped to an org.
type Schedule struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	CreatedBy   string `json:"created_by"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	JobType   string          `json:"job_type"`
	JobConfig json.RawMessage `json:"job_config"`

	Recurrence

	DeliveryMethod string          `json:"delivery_method,omitempty"`
	DeliveryConfig json.RawMessage `json:"delivery_config,omitempty"`

	IsActive     bool       `json:"is_active"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastJobID    *string    `json:"last_job_id,omitempty"`
	FailureCount int        `json:"failure_count"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// ValidateRecurrence checks per-frequency field requirements. Called at
// creation and update time so the engine never sees a schedule it
// cannot compute a next run for.
func ValidateRecurrence(rec Recurrence) error {
	if !rec.Frequency.Valid() {
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown frequency %q", rec.Frequency)
	}
	if rec.Hour < 0 || rec.Hour > 23 {
		return errors.Wrapf(errors.ErrInvalidRequest, "hour must be 0-23, got %d", rec.Hour)
	}
	if rec.Minute < 0 || rec.Minute > 59 {
		return errors.Wrapf(errors.ErrInvalidRequest, "minute must be 0-59, got %d", rec.Minute)
	}
	if rec.DayOfWeek != nil && (*rec.DayOfWeek < 0 || *rec.DayOfWeek > 6) {
		return errors.Wrapf(errors.ErrInvalidRequest, "day_of_week must be 0-6, got %d", *rec.DayOfWeek)
	}

	switch rec.Frequency {
	case FrequencyOnce:
		if rec.StartDate == nil {
			return errors.Wrap(errors.ErrInvalidRequest, "once schedules require start_date")
		}
	case FrequencyMonthly:
		if rec.DayOfMonth == nil {
			return errors.Wrap(errors.ErrInvalidRequest, "monthly schedules require day_of_month")
		}
		if *rec.DayOfMonth < 1 {
			return errors.Wrapf(errors.ErrInvalidRequest, "day_of_month must be >= 1, got %d", *rec.DayOfMonth)
		}
	case FrequencyCustom:
		if rec.CronExpr == nil || *rec.CronExpr == "" {
			return errors.Wrap(errors.ErrInvalidRequest, "custom schedules require cron_expr")
		}
		if _, err := cron.ParseStandard(*rec.CronExpr); err != nil {
			return errors.Wrapf(errors.ErrInvalidRequest, "invalid cron expression %q: %v", *rec.CronExpr, err)
		}
	}

	if rec.Timezone != "" {
		if _, err := time.LoadLocation(rec.Timezone); err != nil {
			return errors.Wrapf(errors.ErrInvalidRequest, "unknown timezone %q", rec.Timezone)
		}
	}

	if rec.StartDate != nil && rec.EndDate != nil && !rec.EndDate.After(*rec.StartDate) {
		return errors.Wrap(errors.ErrInvalidRequest, "end_date must be after start_date")
	}

	return nil
}
