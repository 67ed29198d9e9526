package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/tempo/job"
	"github.com/teranos/tempo/schedule"
	tempotest "github.com/teranos/tempo/internal/testing"
)

// newTestServer wires a full stack against an in-memory database: the
// queue dispatcher, the schedule service, and an engine that is never
// started (manual ticks only).
func newTestServer(t *testing.T) *Server {
	t.Helper()

	database := tempotest.CreateTestDB(t)
	log := zap.NewNop().Sugar()

	pool := job.NewWorkerPool(database, job.DefaultWorkerPoolConfig(), log)
	dispatcher := job.NewQueueDispatcher(pool.GetQueue(), log)

	store := schedule.NewStore(database)
	service := schedule.NewService(store, dispatcher, log)
	engine := schedule.NewEngine(store, dispatcher, schedule.DefaultEngineConfig(), log)

	return NewServer(service, engine, pool, log)
}

// doRequest performs a request with the org header set.
func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Org-ID", "org-1")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func createDailySchedule(t *testing.T, s *Server, name string) *schedule.Schedule {
	t.Helper()

	rec := doRequest(t, s, http.MethodPost, "/api/schedules", map[string]interface{}{
		"name":      name,
		"job_type":  "report",
		"frequency": "daily",
		"hour":      9,
		"minute":    0,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created schedule.Schedule
	decodeBody(t, rec, &created)
	return &created
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["engine_running"])
}

func TestCreateScheduleRequiresOrgHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/schedules", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Org-ID")
}

func TestCreateScheduleComputesNextRun(t *testing.T) {
	s := newTestServer(t)

	created := createDailySchedule(t, s, "morning-report")

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "org-1", created.OrgID)
	assert.True(t, created.IsActive)
	require.NotNil(t, created.NextRunAt)
	assert.Equal(t, 9, created.NextRunAt.Hour())
}

func TestCreateScheduleValidationError(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/schedules", map[string]interface{}{
		"name":      "broken",
		"job_type":  "report",
		"frequency": "monthly",
		// day_of_month missing
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "day_of_month")
}

func TestGetScheduleNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/schedules/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetScheduleCrossTenantIsNotFound(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "tenant-bound")

	req := httptest.NewRequest(http.MethodGet, "/api/schedules/"+created.ID, nil)
	req.Header.Set("X-Org-ID", "org-2")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSchedulesWithFilters(t *testing.T) {
	s := newTestServer(t)
	createDailySchedule(t, s, "alpha-report")
	createDailySchedule(t, s, "beta-report")

	rec := doRequest(t, s, http.MethodGet, "/api/schedules?search=alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Schedules []*schedule.Schedule `json:"schedules"`
		Total     int                  `json:"total"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Schedules, 1)
	assert.Equal(t, "alpha-report", body.Schedules[0].Name)
	assert.Equal(t, 1, body.Total)
}

func TestUpdateScheduleRecomputesNextRun(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "shifting")

	rec := doRequest(t, s, http.MethodPatch, "/api/schedules/"+created.ID, map[string]interface{}{
		"hour": 18,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated schedule.Schedule
	decodeBody(t, rec, &updated)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, 18, updated.NextRunAt.Hour())
}

func TestUpdateScheduleMetadataOnlyKeepsNextRun(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "stable")

	rec := doRequest(t, s, http.MethodPatch, "/api/schedules/"+created.ID, map[string]interface{}{
		"description": "renamed only",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated schedule.Schedule
	decodeBody(t, rec, &updated)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(*created.NextRunAt))
	assert.Equal(t, "renamed only", updated.Description)
}

func TestPauseAndResume(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "pausable")

	rec := doRequest(t, s, http.MethodPost, "/api/schedules/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var paused schedule.Schedule
	decodeBody(t, rec, &paused)
	assert.False(t, paused.IsActive)
	// Pause preserves next_run_at
	require.NotNil(t, paused.NextRunAt)

	rec = doRequest(t, s, http.MethodPost, "/api/schedules/"+created.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resumed schedule.Schedule
	decodeBody(t, rec, &resumed)
	assert.True(t, resumed.IsActive)
	require.NotNil(t, resumed.NextRunAt)
}

func TestRunNowDispatchesJob(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "runnable")

	rec := doRequest(t, s, http.MethodPost, "/api/schedules/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body map[string]string
	decodeBody(t, rec, &body)
	require.NotEmpty(t, body["job_id"])

	// The dispatched job is visible through the jobs endpoint
	rec = doRequest(t, s, http.MethodGet, "/api/jobs/"+body["job_id"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dispatched job.Job
	decodeBody(t, rec, &dispatched)
	assert.Equal(t, created.ID, dispatched.ScheduleID)
	assert.Equal(t, schedule.TriggeredByManual, dispatched.TriggeredBy)
	assert.Equal(t, job.StatusQueued, dispatched.Status)
}

func TestScheduleHistory(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "historied")

	for i := 0; i < 3; i++ {
		rec := doRequest(t, s, http.MethodPost, "/api/schedules/"+created.ID+"/run", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/schedules/"+created.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ScheduleID string     `json:"schedule_id"`
		Jobs       []*job.Job `json:"jobs"`
		Count      int        `json:"count"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, created.ID, body.ScheduleID)
	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Jobs, 3)

	rec = doRequest(t, s, http.MethodGet, fmt.Sprintf("/api/schedules/%s/history?limit=2", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Len(t, body.Jobs, 2)
}

func TestScheduleHistoryUnknownSchedule(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/schedules/ghost/history", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteScheduleDisappears(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "doomed")

	rec := doRequest(t, s, http.MethodDelete, "/api/schedules/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/schedules/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Deleting again is also a 404
	rec = doRequest(t, s, http.MethodDelete, "/api/schedules/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownScheduleAction(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "actionless")

	rec := doRequest(t, s, http.MethodPost, "/api/schedules/"+created.ID+"/explode", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPut, "/api/schedules", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestJobNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/jobs/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobCrossTenantIsNotFound(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "tenant-job")

	rec := doRequest(t, s, http.MethodPost, "/api/schedules/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var run map[string]string
	decodeBody(t, rec, &run)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+run["job_id"], nil)
	req.Header.Set("X-Org-ID", "org-2")
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req)
	require.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestListJobsWithStats(t *testing.T) {
	s := newTestServer(t)
	created := createDailySchedule(t, s, "stats")

	rec := doRequest(t, s, http.MethodPost, "/api/schedules/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs  []*job.Job `json:"jobs"`
		Count int        `json:"count"`
		Stats job.Stats  `json:"stats"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 1, body.Stats.Queued)
	assert.Equal(t, 1, body.Stats.Total)

	// Status filter: nothing completed yet
	rec = doRequest(t, s, http.MethodGet, "/api/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Empty(t, body.Jobs)

	// Unknown status is rejected
	rec = doRequest(t, s, http.MethodGet, "/api/jobs?status=paused", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngineStatusAndTick(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/engine/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		schedule.EngineStatus
		Workers job.SystemMetrics `json:"workers"`
	}
	decodeBody(t, rec, &status)
	assert.False(t, status.Running)
	assert.Equal(t, int64(60000), status.PollIntervalMS)
	assert.Equal(t, 1, status.Workers.WorkersTotal)
	assert.Equal(t, 0, status.Workers.WorkersActive)

	// Manual tick with nothing due
	rec = doRequest(t, s, http.MethodPost, "/api/engine/tick", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result schedule.TickResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 0, result.Processed)
}

func TestCorsPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/schedules", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
