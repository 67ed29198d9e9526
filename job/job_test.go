package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/errors"
)

func TestNewJob(t *testing.T) {
	created, err := NewJob("org-1", "report", []byte(`{"format":"csv"}`), "sched-1", "scheduler")
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "org-1", created.OrgID)
	assert.Equal(t, "report", created.Type)
	assert.Equal(t, "sched-1", created.ScheduleID)
	assert.Equal(t, "scheduler", created.TriggeredBy)
	assert.Equal(t, StatusQueued, created.Status)
	assert.Equal(t, 0, created.Attempts)
	assert.Nil(t, created.StartedAt)
	assert.Nil(t, created.CompletedAt)
}

func TestNewJobValidation(t *testing.T) {
	_, err := NewJob("", "report", nil, "", "manual")
	assert.Error(t, err)

	_, err = NewJob("org-1", "", nil, "", "manual")
	assert.Error(t, err)

	// Empty triggered_by defaults to manual
	created, err := NewJob("org-1", "report", nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, "manual", created.TriggeredBy)
}

func TestJobTransitions(t *testing.T) {
	created, err := NewJob("org-1", "report", nil, "", "manual")
	require.NoError(t, err)

	created.Start()
	assert.Equal(t, StatusRunning, created.Status)
	assert.Equal(t, 1, created.Attempts)
	require.NotNil(t, created.StartedAt)
	assert.WithinDuration(t, time.Now(), *created.StartedAt, 5*time.Second)

	created.Complete("3 rows exported")
	assert.Equal(t, StatusCompleted, created.Status)
	assert.Equal(t, "3 rows exported", created.Result)
	require.NotNil(t, created.CompletedAt)
	assert.True(t, created.Status.IsTerminal())
}

func TestJobFailAndCancel(t *testing.T) {
	failed, err := NewJob("org-1", "report", nil, "", "manual")
	require.NoError(t, err)
	failed.Start()
	failed.Fail(errors.New("upstream timeout"))
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "upstream timeout", failed.Error)
	require.NotNil(t, failed.CompletedAt)

	cancelled, err := NewJob("org-1", "report", nil, "", "manual")
	require.NoError(t, err)
	cancelled.Cancel("superseded")
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "superseded", cancelled.Error)
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"queued", "running", "completed", "failed", "cancelled"} {
		assert.True(t, IsValidStatus(s), s)
	}
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, IsValidStatus(""))
}
