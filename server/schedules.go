package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/schedule"
)

// defaultHistoryLimit caps /history responses when no limit is given.
const defaultHistoryLimit = 50

// HandleSchedules handles requests to /api/schedules
// GET: List schedules for the org
// POST: Create a new schedule
func (s *Server) HandleSchedules(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleListSchedules(w, r, orgID)
	case http.MethodPost:
		s.handleCreateSchedule(w, r, orgID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleSchedule handles requests to /api/schedules/{id} and its
// action sub-resources.
// GET: Get schedule details
// PATCH: Partial update
// DELETE: Soft delete
// POST {id}/pause|resume|run: lifecycle actions
// GET {id}/history: jobs dispatched for this schedule
func (s *Server) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	pathParts := extractPathParts(r.URL.Path, "/api/schedules/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing schedule ID")
		return
	}
	scheduleID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] != "" {
		s.handleScheduleAction(w, r, orgID, scheduleID, pathParts[1])
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSchedule(w, r, orgID, scheduleID)
	case http.MethodPatch:
		s.handleUpdateSchedule(w, r, orgID, scheduleID)
	case http.MethodDelete:
		s.handleDeleteSchedule(w, r, orgID, scheduleID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleScheduleAction routes /api/schedules/{id}/{action}.
func (s *Server) handleScheduleAction(w http.ResponseWriter, r *http.Request, orgID, scheduleID, action string) {
	switch action {
	case "pause":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		sched, err := s.schedules.Pause(orgID, scheduleID)
		if err != nil {
			handleError(w, s.logger, err, "failed to pause schedule")
			return
		}
		s.logger.Infow("Schedule paused",
			logger.FieldScheduleID, scheduleID,
			logger.FieldOrgID, orgID)
		writeJSON(w, http.StatusOK, sched)

	case "resume":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		sched, err := s.schedules.Resume(orgID, scheduleID)
		if err != nil {
			handleError(w, s.logger, err, "failed to resume schedule")
			return
		}
		s.logger.Infow("Schedule resumed",
			logger.FieldScheduleID, scheduleID,
			logger.FieldOrgID, orgID,
			logger.FieldNextRunAt, sched.NextRunAt)
		writeJSON(w, http.StatusOK, sched)

	case "run":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		jobID, err := s.schedules.RunNow(r.Context(), orgID, scheduleID)
		if err != nil {
			handleError(w, s.logger, err, "failed to run schedule")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"schedule_id": scheduleID,
			"job_id":      jobID,
		})

	case "history":
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		s.handleScheduleHistory(w, r, orgID, scheduleID)

	default:
		writeError(w, http.StatusNotFound, "Unknown schedule action: "+action)
	}
}

// handleListSchedules lists schedules with query-param filters.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request, orgID string) {
	opts := listOptionsFromQuery(r)

	schedules, total, err := s.schedules.List(orgID, opts)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list schedules", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
		"total":     total,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

// listOptionsFromQuery translates query parameters into store options.
// Unknown order_by values fall back to created_at in the store, so no
// validation happens here.
func listOptionsFromQuery(r *http.Request) schedule.ListOptions {
	q := r.URL.Query()

	opts := schedule.ListOptions{
		JobType:        q.Get("job_type"),
		Frequency:      schedule.Frequency(q.Get("frequency")),
		DeliveryMethod: q.Get("delivery_method"),
		Search:         q.Get("search"),
		OrderBy:        q.Get("order_by"),
		OrderDesc:      strings.EqualFold(q.Get("order"), "desc"),
	}

	if v := q.Get("is_active"); v != "" {
		active := v == "true" || v == "1"
		opts.IsActive = &active
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		opts.Offset = v
	}
	return opts
}

// handleCreateSchedule creates a new schedule
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request, orgID string) {
	var req schedule.CreateParams
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	createdBy := r.Header.Get("X-User-ID")

	sched, err := s.schedules.Create(orgID, createdBy, req)
	if err != nil {
		handleError(w, s.logger, err, "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, sched)
}

// handleGetSchedule retrieves a specific schedule
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request, orgID, scheduleID string) {
	sched, err := s.schedules.Get(orgID, scheduleID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get schedule")
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

// schedulePatchRequest is the wire form of a partial update. Fields
// absent from the body stay untouched; the service recomputes
// next_run_at only when a recurrence field is present.
type schedulePatchRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`

	JobType   *string         `json:"job_type,omitempty"`
	JobConfig json.RawMessage `json:"job_config,omitempty"`

	Frequency  *schedule.Frequency `json:"frequency,omitempty"`
	Hour       *int                `json:"hour,omitempty"`
	Minute     *int                `json:"minute,omitempty"`
	DayOfWeek  *int                `json:"day_of_week,omitempty"`
	DayOfMonth *int                `json:"day_of_month,omitempty"`
	CronExpr   *string             `json:"cron_expr,omitempty"`
	Timezone   *string             `json:"timezone,omitempty"`
	StartDate  *time.Time          `json:"start_date,omitempty"`
	EndDate    *time.Time          `json:"end_date,omitempty"`

	DeliveryMethod *string         `json:"delivery_method,omitempty"`
	DeliveryConfig json.RawMessage `json:"delivery_config,omitempty"`
}

func (r schedulePatchRequest) toPatch() schedule.Patch {
	p := schedule.Patch{
		Name:           r.Name,
		Description:    r.Description,
		JobType:        r.JobType,
		Frequency:      r.Frequency,
		Hour:           r.Hour,
		Minute:         r.Minute,
		DayOfWeek:      r.DayOfWeek,
		DayOfMonth:     r.DayOfMonth,
		CronExpr:       r.CronExpr,
		Timezone:       r.Timezone,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		DeliveryMethod: r.DeliveryMethod,
		JobConfig:      r.JobConfig,
		DeliveryConfig: r.DeliveryConfig,
	}
	return p
}

// handleUpdateSchedule applies a partial update
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request, orgID, scheduleID string) {
	var req schedulePatchRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	sched, err := s.schedules.Update(orgID, scheduleID, req.toPatch())
	if err != nil {
		handleError(w, s.logger, err, "failed to update schedule")
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

// handleDeleteSchedule soft-deletes a schedule
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request, orgID, scheduleID string) {
	if err := s.schedules.Delete(orgID, scheduleID); err != nil {
		handleError(w, s.logger, err, "failed to delete schedule")
		return
	}

	s.logger.Infow("Schedule deleted",
		logger.FieldScheduleID, scheduleID,
		logger.FieldOrgID, orgID)
	w.WriteHeader(http.StatusNoContent)
}

// handleScheduleHistory returns jobs dispatched for the schedule,
// newest first.
func (s *Server) handleScheduleHistory(w http.ResponseWriter, r *http.Request, orgID, scheduleID string) {
	// 404 for schedules that do not exist in this org, rather than an
	// empty history
	if _, err := s.schedules.Get(orgID, scheduleID); err != nil {
		handleError(w, s.logger, err, "failed to get schedule")
		return
	}

	limit := defaultHistoryLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	jobs, err := s.queue.ListBySchedule(orgID, scheduleID, limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list schedule history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedule_id": scheduleID,
		"jobs":        jobs,
		"count":       len(jobs),
	})
}
