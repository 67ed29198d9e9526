package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/tempo/errors"
)

func newTestService(t *testing.T, dispatcher Dispatcher) (*Service, *Store) {
	t.Helper()
	store := NewStore(createTestDB(t))
	if dispatcher == nil {
		dispatcher = DispatcherFunc(func(ctx context.Context, req DispatchRequest) (string, error) {
			return "job-test", nil
		})
	}
	return NewService(store, dispatcher, zap.NewNop().Sugar()), store
}

func TestServiceCreate(t *testing.T) {
	svc, _ := newTestService(t, nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }

	sched, err := svc.Create("org-1", "user-1", CreateParams{
		Name:    "daily report",
		JobType: "report",
		Recurrence: Recurrence{
			Frequency: FrequencyDaily,
			Hour:      9,
			Minute:    0,
			Timezone:  "UTC",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)
	assert.True(t, sched.IsActive)

	// Created at 10:00, today's 9am passed: tomorrow
	require.NotNil(t, sched.NextRunAt)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), sched.NextRunAt.UTC())
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Create("org-1", "user-1", CreateParams{
		JobType:    "report",
		Recurrence: Recurrence{Frequency: FrequencyDaily},
	})
	assert.True(t, errors.IsInvalidRequestError(err), "missing name")

	_, err = svc.Create("org-1", "user-1", CreateParams{
		Name:       "x",
		Recurrence: Recurrence{Frequency: FrequencyDaily},
	})
	assert.True(t, errors.IsInvalidRequestError(err), "missing job_type")

	_, err = svc.Create("org-1", "user-1", CreateParams{
		Name:       "x",
		JobType:    "report",
		Recurrence: Recurrence{Frequency: "hourly"},
	})
	assert.True(t, errors.IsInvalidRequestError(err), "unknown frequency")

	_, err = svc.Create("org-1", "user-1", CreateParams{
		Name:       "x",
		JobType:    "report",
		Recurrence: Recurrence{Frequency: FrequencyMonthly},
	})
	assert.True(t, errors.IsInvalidRequestError(err), "monthly without day_of_month")

	_, err = svc.Create("org-1", "user-1", CreateParams{
		Name:       "x",
		JobType:    "report",
		Recurrence: Recurrence{Frequency: FrequencyCustom, CronExpr: ptr("bad expr")},
	})
	assert.True(t, errors.IsInvalidRequestError(err), "unparseable cron")

	_, err = svc.Create("org-1", "user-1", CreateParams{
		Name:       "x",
		JobType:    "report",
		Recurrence: Recurrence{Frequency: FrequencyDaily, Timezone: "Nowhere/Here"},
	})
	assert.True(t, errors.IsInvalidRequestError(err), "unknown timezone")
}

func TestServiceUpdateRecomputesOnRecurrenceChange(t *testing.T) {
	svc, _ := newTestService(t, nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }

	sched, err := svc.Create("org-1", "user-1", CreateParams{
		Name:    "report",
		JobType: "report",
		Recurrence: Recurrence{
			Frequency: FrequencyDaily,
			Hour:      9,
			Timezone:  "UTC",
		},
	})
	require.NoError(t, err)

	// Patching a recurrence field recomputes next_run_at from the
	// merged definition at update time
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	updated, err := svc.Update("org-1", sched.ID, Patch{Hour: ptr(15)})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC), updated.NextRunAt.UTC())

	// Patching only metadata leaves next_run_at alone
	updated, err = svc.Update("org-1", sched.ID, Patch{Name: ptr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC), updated.NextRunAt.UTC())
}

func TestServiceUpdateRejectsInvalidMergedRecurrence(t *testing.T) {
	svc, _ := newTestService(t, nil)

	sched, err := svc.Create("org-1", "user-1", CreateParams{
		Name:       "report",
		JobType:    "report",
		Recurrence: Recurrence{Frequency: FrequencyDaily, Hour: 9, Timezone: "UTC"},
	})
	require.NoError(t, err)

	// Switching to monthly without a day_of_month is invalid
	_, err = svc.Update("org-1", sched.ID, Patch{Frequency: ptr(FrequencyMonthly)})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestServicePauseResume(t *testing.T) {
	svc, store := newTestService(t, nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }

	sched, err := svc.Create("org-1", "user-1", CreateParams{
		Name:       "report",
		JobType:    "report",
		Recurrence: Recurrence{Frequency: FrequencyDaily, Hour: 9, Timezone: "UTC"},
	})
	require.NoError(t, err)
	originalNext := *sched.NextRunAt

	// Pause flips the gate but never touches next_run_at
	paused, err := svc.Pause("org-1", sched.ID)
	require.NoError(t, err)
	assert.False(t, paused.IsActive)
	require.NotNil(t, paused.NextRunAt)
	assert.True(t, paused.NextRunAt.Equal(originalNext))

	// Simulate a long pause: the stored next_run_at is now far stale
	// and a couple of dispatch failures accrued before the pause
	stale := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	_, err = store.Update("org-1", sched.ID, Patch{NextRunAt: &stale})
	require.NoError(t, err)
	require.NoError(t, store.RecordDispatchFailure(sched.ID, stale))
	require.NoError(t, store.RecordDispatchFailure(sched.ID, stale))

	// Resume recomputes from resume-time, never reuses the stale value
	resumeAt := time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return resumeAt }
	resumed, err := svc.Resume("org-1", sched.ID)
	require.NoError(t, err)
	assert.True(t, resumed.IsActive)
	require.NotNil(t, resumed.NextRunAt)
	assert.True(t, resumed.NextRunAt.After(resumeAt))
	assert.Equal(t, time.Date(2024, 6, 16, 9, 0, 0, 0, time.UTC), resumed.NextRunAt.UTC())
	assert.Equal(t, 0, resumed.FailureCount)
}

func TestServiceRunNow(t *testing.T) {
	var got DispatchRequest
	dispatcher := DispatcherFunc(func(ctx context.Context, req DispatchRequest) (string, error) {
		got = req
		return "job-manual-1", nil
	})
	svc, _ := newTestService(t, dispatcher)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }

	sched, err := svc.Create("org-1", "user-1", CreateParams{
		Name:       "report",
		JobType:    "report",
		JobConfig:  []byte(`{"format":"csv"}`),
		Recurrence: Recurrence{Frequency: FrequencyDaily, Hour: 9, Timezone: "UTC"},
	})
	require.NoError(t, err)
	originalNext := *sched.NextRunAt

	jobID, err := svc.RunNow(context.Background(), "org-1", sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-manual-1", jobID)

	assert.Equal(t, TriggeredByManual, got.TriggeredBy)
	assert.Equal(t, sched.ID, got.ScheduleID)
	assert.Equal(t, "org-1", got.OrgID)
	assert.JSONEq(t, `{"format":"csv"}`, string(got.Input))

	// Run-now is additive: next_run_at and failure_count untouched
	after, err := svc.Get("org-1", sched.ID)
	require.NoError(t, err)
	require.NotNil(t, after.NextRunAt)
	assert.True(t, after.NextRunAt.Equal(originalNext))
	assert.Equal(t, 0, after.FailureCount)
	require.NotNil(t, after.LastJobID)
	assert.Equal(t, "job-manual-1", *after.LastJobID)
	require.NotNil(t, after.LastRunAt)
}

func TestServiceRunNowDispatchError(t *testing.T) {
	dispatcher := DispatcherFunc(func(ctx context.Context, req DispatchRequest) (string, error) {
		return "", errors.New("queue unavailable")
	})
	svc, _ := newTestService(t, dispatcher)

	sched, err := svc.Create("org-1", "user-1", CreateParams{
		Name:       "report",
		JobType:    "report",
		Recurrence: Recurrence{Frequency: FrequencyDaily, Hour: 9, Timezone: "UTC"},
	})
	require.NoError(t, err)

	_, err = svc.RunNow(context.Background(), "org-1", sched.ID)
	require.Error(t, err)

	// A failed manual run leaves accounting alone
	after, err := svc.Get("org-1", sched.ID)
	require.NoError(t, err)
	assert.Nil(t, after.LastJobID)
	assert.Equal(t, 0, after.FailureCount)
}

func TestServiceDelete(t *testing.T) {
	svc, _ := newTestService(t, nil)

	sched, err := svc.Create("org-1", "user-1", CreateParams{
		Name:       "report",
		JobType:    "report",
		Recurrence: Recurrence{Frequency: FrequencyDaily, Hour: 9, Timezone: "UTC"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete("org-1", sched.ID))

	_, err = svc.Get("org-1", sched.ID)
	assert.True(t, errors.IsNotFoundError(err))

	err = svc.Delete("org-1", sched.ID)
	assert.True(t, errors.IsNotFoundError(err))
}
