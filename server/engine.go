package server

import (
	"net/http"

	"github.com/teranos/tempo/job"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/schedule"
)

// HandleEngineStatus handles requests to /api/engine/status
// GET: Engine poll-loop snapshot plus worker and memory usage
func (s *Server) HandleEngineStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, struct {
		schedule.EngineStatus
		Workers job.SystemMetrics `json:"workers"`
	}{s.engine.Status(), s.pool.GetSystemMetrics()})
}

// HandleEngineTick handles requests to /api/engine/tick
// POST: Synchronously process one due batch, outside the poll cadence
func (s *Server) HandleEngineTick(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := s.engine.ProcessNow(r.Context())
	if err != nil {
		writeWrappedError(w, s.logger, err, "manual tick failed", http.StatusInternalServerError)
		return
	}

	logger.AddEngineSymbol(s.logger).Infow("Manual tick complete",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	writeJSON(w, http.StatusOK, result)
}
