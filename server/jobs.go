package server

import (
	"net/http"
	"strconv"

	"github.com/teranos/tempo/job"
)

// defaultJobsLimit caps /api/jobs listings when no limit is given.
const defaultJobsLimit = 50

// HandleJobs handles requests to /api/jobs
// GET: List the org's jobs, newest first, with queue-wide stats
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var status *job.Status
	if v := r.URL.Query().Get("status"); v != "" {
		if !job.IsValidStatus(v) {
			writeError(w, http.StatusBadRequest, "Unknown job status: "+v)
			return
		}
		st := job.Status(v)
		status = &st
	}

	limit := defaultJobsLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	jobs, err := s.queue.ListJobs(orgID, status, limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	stats, err := s.queue.GetStats()
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get queue stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
		"stats": stats,
	})
}

// HandleJob handles requests to /api/jobs/{id}
// GET: Job details
func (s *Server) HandleJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	pathParts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}
	jobID := pathParts[0]

	found, err := s.queue.GetJob(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}

	// Jobs are org-scoped even though ids are unguessable uuids
	if found.OrgID != orgID {
		writeError(w, http.StatusNotFound, "job "+jobID+": not found")
		return
	}

	writeJSON(w, http.StatusOK, found)
}
