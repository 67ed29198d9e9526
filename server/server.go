package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tempo/job"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/schedule"
)

// orgHeader carries the tenant for every schedule and job route.
const orgHeader = "X-Org-ID"

// Server exposes the schedule service, the worker pool's queue, and
// the engine over HTTP.
type Server struct {
	schedules *schedule.Service
	engine    *schedule.Engine
	pool      *job.WorkerPool
	queue     *job.Queue
	logger    *zap.SugaredLogger

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer wires the HTTP routes. Start must be called separately.
func NewServer(schedules *schedule.Service, engine *schedule.Engine, pool *job.WorkerPool, log *zap.SugaredLogger) *Server {
	s := &Server{
		schedules: schedules,
		engine:    engine,
		pool:      pool,
		queue:     pool.GetQueue(),
		logger:    log,
		mux:       http.NewServeMux(),
	}
	s.setupHTTPRoutes()
	return s
}

// setupHTTPRoutes configures all HTTP handlers
func (s *Server) setupHTTPRoutes() {
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	s.mux.HandleFunc("/api/schedules", s.corsMiddleware(s.HandleSchedules))  // List/create schedules (GET/POST)
	s.mux.HandleFunc("/api/schedules/", s.corsMiddleware(s.HandleSchedule)) // Individual schedule and actions (GET/PATCH/DELETE, pause/resume/run/history)
	s.mux.HandleFunc("/api/jobs", s.corsMiddleware(s.HandleJobs))           // List jobs + queue stats (GET)
	s.mux.HandleFunc("/api/jobs/", s.corsMiddleware(s.HandleJob))           // Individual job (GET)
	s.mux.HandleFunc("/api/engine/status", s.corsMiddleware(s.HandleEngineStatus))
	s.mux.HandleFunc("/api/engine/tick", s.corsMiddleware(s.HandleEngineTick))
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on the given port and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.AddOpenSymbol(s.logger).Infow("HTTP server listening", "port", port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	logger.AddCloseSymbol(s.logger).Infow("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+orgHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// requireOrg extracts the tenant from the request header. Every
// schedule and job route is org-scoped; a missing header is a client
// error, never a fallback to some default tenant.
func requireOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := r.Header.Get(orgHeader)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, orgHeader+" header is required")
		return "", false
	}
	return orgID, true
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"engine_running": s.engine.IsRunning(),
	})
}
