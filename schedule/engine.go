package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/logger"
)

// EngineConfig contains configuration for the polling engine
type EngineConfig struct {
	PollInterval    time.Duration // How often to check for due schedules (default: 60s)
	BatchSize       int           // Max due schedules processed per tick (default: 50)
	DispatchTimeout time.Duration // Per-dispatch deadline, 0 = none (default: 30s)
}

// DefaultEngineConfig returns sensible defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PollInterval:    60 * time.Second,
		BatchSize:       50,
		DispatchTimeout: 30 * time.Second,
	}
}

// TickResult aggregates one poll-and-dispatch pass.
type TickResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// EngineStatus is a snapshot of the engine for the status endpoint.
type EngineStatus struct {
	Running        bool       `json:"running"`
	PollIntervalMS int64      `json:"poll_interval_ms"`
	BatchSize      int        `json:"batch_size"`
	LastTickAt     *time.Time `json:"last_tick_at,omitempty"`
	TicksSince     int64      `json:"ticks_since_start"`
	LastResult     TickResult `json:"last_result"`
}

// Engine is the background poll loop: each tick queries for due
// schedules and dispatches them one at a time, oldest due first. One
// engine instance per deployment; nothing here claims rows, so running
// replicas concurrently can dispatch the same schedule twice.
type Engine struct {
	store      *Store
	dispatcher Dispatcher
	cfg        EngineConfig
	engineLog  *zap.SugaredLogger
	now        func() time.Time

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastTickAt time.Time
	ticks      int64
	lastResult TickResult
}

// NewEngine creates a polling engine. It does not start polling;
// call Start.
func NewEngine(store *Store, dispatcher Dispatcher, cfg EngineConfig, log *zap.SugaredLogger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		engineLog:  logger.AddEngineSymbol(log),
		now:        time.Now,
	}
}

// UpdateConfig applies new poll settings, filling zeros with defaults.
// A running loop picks up the new interval on its next wake; no
// restart needed. Used for config hot-reload.
func (e *Engine) UpdateConfig(cfg EngineConfig) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()

	e.engineLog.Infow("Engine config updated",
		"poll_interval", cfg.PollInterval,
		"batch_size", cfg.BatchSize,
		"dispatch_timeout", cfg.DispatchTimeout,
	)
}

// config returns a consistent snapshot of the settings.
func (e *Engine) config() EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Start begins the poll loop. Idempotent: starting a running engine is
// a no-op. The first tick runs asynchronously; Start does not block on
// it.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	cfg := e.config()
	go e.run(ctx)
	e.engineLog.Infow("Engine started",
		"poll_interval", cfg.PollInterval,
		"batch_size", cfg.BatchSize,
	)
}

// Stop halts the loop. Idempotent. An in-flight tick finishes its
// batch; no successor tick is scheduled after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.engineLog.Infow("Engine stopped")
}

// IsRunning reports whether the poll loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns a snapshot for observability.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := EngineStatus{
		Running:        e.running,
		PollIntervalMS: e.cfg.PollInterval.Milliseconds(),
		BatchSize:      e.cfg.BatchSize,
		TicksSince:     e.ticks,
		LastResult:     e.lastResult,
	}
	if !e.lastTickAt.IsZero() {
		t := e.lastTickAt
		status.LastTickAt = &t
	}
	return status
}

// ProcessNow synchronously runs exactly one due-batch pass without
// touching the timer. Safe to call whether or not the loop is running.
func (e *Engine) ProcessNow(ctx context.Context) (TickResult, error) {
	return e.processBatch(ctx, e.now())
}

// run is the main poll loop. Each iteration ticks, then sleeps for
// max(0, interval - elapsed) so processing time does not accumulate
// into tick drift.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tickStart := e.now()

		result, err := e.processBatch(ctx, tickStart)
		if err != nil {
			// A transient store outage must never kill the loop.
			e.engineLog.Warnw("Tick error", "error", err)
		}

		e.mu.Lock()
		e.lastTickAt = tickStart
		e.ticks++
		e.lastResult = result
		e.mu.Unlock()

		if result.Processed > 0 {
			e.engineLog.Infow("Tick complete",
				"processed", result.Processed,
				"succeeded", result.Succeeded,
				"failed", result.Failed,
				"duration", e.now().Sub(tickStart).Round(time.Millisecond),
			)
		}

		delay := e.config().PollInterval - e.now().Sub(tickStart)
		if delay < 0 {
			delay = 0
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// processBatch queries for due schedules and dispatches each one
// sequentially. A failed dispatch is accounted on its schedule and
// never aborts the rest of the batch.
func (e *Engine) processBatch(ctx context.Context, now time.Time) (TickResult, error) {
	var result TickResult

	due, err := e.store.FindDueBatch(ctx, now, e.config().BatchSize)
	if err != nil {
		return result, errors.Wrap(err, "find due schedules")
	}

	for _, sched := range due {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		result.Processed++
		if err := e.dispatchOne(ctx, sched); err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}

	return result, nil
}

// dispatchOne runs the per-schedule dispatch procedure: create the
// job, then in one update persist last run, last job, the recomputed
// next run, and a failure count reset. On dispatch failure the
// failure count is incremented instead and next_run_at stays put, so
// the schedule is retried every tick until it succeeds or the circuit
// breaker deactivates it.
func (e *Engine) dispatchOne(ctx context.Context, sched *Schedule) error {
	var scheduledFor time.Time
	if sched.NextRunAt != nil {
		scheduledFor = *sched.NextRunAt
	}

	dispatchCtx := ctx
	if timeout := e.config().DispatchTimeout; timeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	jobID, err := e.dispatcher.CreateAndEnqueueJob(dispatchCtx, DispatchRequest{
		OrgID:        sched.OrgID,
		JobType:      sched.JobType,
		CreatedBy:    sched.CreatedBy,
		Input:        sched.JobConfig,
		ScheduleID:   sched.ID,
		TriggeredBy:  TriggeredByScheduler,
		ScheduledFor: scheduledFor,
	})

	now := e.now()

	if err != nil {
		newCount := sched.FailureCount + 1
		e.engineLog.Errorw("Dispatch failed",
			"schedule_id", sched.ID,
			"org_id", sched.OrgID,
			"job_type", sched.JobType,
			"failure_count", newCount,
			"error", err,
		)
		if newCount >= MaxFailureCount {
			e.engineLog.Warnw("Schedule deactivated after repeated failures",
				"schedule_id", sched.ID,
				"failure_count", newCount,
			)
		}
		if recordErr := e.store.RecordDispatchFailure(sched.ID, now); recordErr != nil {
			// Best effort: the schedule stays due and is re-evaluated
			// next tick.
			e.engineLog.Errorw("Failed to record dispatch failure",
				"schedule_id", sched.ID,
				"error", recordErr,
			)
		}
		return err
	}

	next := NextRun(sched.Recurrence, now)
	if recordErr := e.store.RecordDispatchSuccess(sched.ID, jobID, now, next); recordErr != nil {
		e.engineLog.Errorw("Failed to record dispatch success",
			"schedule_id", sched.ID,
			"job_id", jobID,
			"error", recordErr,
		)
	}

	e.engineLog.Infow("Dispatched scheduled job",
		"schedule_id", sched.ID,
		"org_id", sched.OrgID,
		"job_id", jobID,
		"job_type", sched.JobType,
		"next_run_at", next,
	)
	return nil
}
