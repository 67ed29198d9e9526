package job

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/tempo/db"
	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/sym"
)

const (
	// MaxOrphanedJobsToRecover limits how many orphaned jobs are
	// requeued on startup after an ungraceful shutdown
	MaxOrphanedJobsToRecover = 1000
)

// workerLogger wraps zap.SugaredLogger with lifecycle methods.
// Opening events log at debug, closing events at warn, so startup and
// shutdown stand out at different verbosity levels.
type workerLogger struct {
	*zap.SugaredLogger
}

func (l workerLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.Open+" "+msg, keysAndValues...)
}

func (l workerLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.Close+" "+msg, keysAndValues...)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers       int           `json:"workers"`         // Number of concurrent workers
	PollInterval  time.Duration `json:"poll_interval"`   // How often workers check for new jobs
	RatePerSecond float64       `json:"rate_per_second"` // Job execution rate limit, 0 = unlimited
	StopTimeout   time.Duration `json:"stop_timeout"`    // How long Stop waits for workers to exit
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: 5 * time.Second,
		StopTimeout:  30 * time.Second,
	}
}

// WorkerPool manages a pool of workers draining the job queue.
// Workers dequeue one job at a time and execute it through the handler
// registry.
type WorkerPool struct {
	queue    *Queue
	registry *Registry
	cfg      WorkerPoolConfig
	limiter  *rate.Limiter // nil when unlimited

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    workerLogger

	mu            sync.Mutex
	activeWorkers int
	jobsProcessed int
}

// NewWorkerPool creates a worker pool with an empty handler registry.
// Callers must register handlers before calling Start().
func NewWorkerPool(database *sql.DB, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), database, cfg, log)
}

// NewWorkerPoolWithContext creates a worker pool whose workers exit
// when the parent context is cancelled.
func NewWorkerPoolWithContext(ctx context.Context, database *sql.DB, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		queue:     NewQueue(database),
		registry:  NewRegistry(),
		cfg:       cfg,
		limiter:   limiter,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    workerLogger{log.Named("workers")},
	}
}

// Start requeues orphaned jobs and launches the workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// After a Stop() the context is cancelled; recreate it from the
	// parent before spawning workers
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.requeueOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to requeue orphaned jobs", "error", err)
		// Workers still start; orphans stay running until cleaned up
	}

	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Starting("Worker pool started",
		"workers", wp.cfg.Workers,
		"poll_interval", wp.cfg.PollInterval,
	)
}

// Stop cancels the workers and waits for them to exit, up to the
// configured timeout. A job in flight keeps its checkpointed state and
// is requeued by its worker on cancellation.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow(sym.Close + " Worker pool stopped, all workers exited cleanly")
	case <-time.After(wp.cfg.StopTimeout):
		wp.logger.Closing("Worker pool stop timeout, workers may still be finishing",
			"timeout", wp.cfg.StopTimeout)
	}
}

// requeueOrphanedJobs flips jobs stuck in "running" back to "queued".
// They were orphaned by a crash: no worker owns them anymore.
func (wp *WorkerPool) requeueOrphanedJobs() error {
	orphaned, err := wp.queue.store.ListRunning(MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "list running jobs")
	}
	if len(orphaned) == 0 {
		return nil
	}

	wp.logger.Starting("Found orphaned jobs from previous shutdown", "count", len(orphaned))

	for _, orphan := range orphaned {
		orphan.Status = StatusQueued
		orphan.Error = ""
		if err := wp.queue.UpdateJob(orphan); err != nil {
			wp.logger.Warnw("Failed to requeue orphaned job", "job_id", orphan.ID, "error", err)
			continue
		}
		wp.logger.Starting("Requeued orphaned job", "job_id", orphan.ID, "job_type", orphan.Type)
	}
	return nil
}

// worker polls the queue and processes jobs until cancelled.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
					// Database closed during shutdown
					return
				}
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id,
					"error", err,
				)
			}
		}
	}
}

// processNextJob dequeues and executes one job. A nil return means
// either success or nothing to do.
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	// Rate gate before dequeue so a limited pool leaves jobs queued
	// instead of bouncing their status
	if wp.limiter != nil && !wp.limiter.Allow() {
		return nil
	}

	queued, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "dequeue job")
	}
	if queued == nil {
		return nil
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	result, execErr := wp.registry.Execute(wp.ctx, queued)
	if execErr != nil {
		select {
		case <-wp.ctx.Done():
			// Cancelled mid-execution: requeue rather than fail
			wp.logger.Closing("Job cancelled during execution, requeuing", "job_id", queued.ID)
			queued.Status = StatusQueued
			if updateErr := wp.queue.UpdateJob(queued); updateErr != nil {
				wp.logger.Errorw("Failed to requeue cancelled job", "job_id", queued.ID, "error", updateErr)
			}
			return nil
		default:
		}
		return wp.queue.FailJob(queued.ID, execErr)
	}

	return wp.queue.CompleteJob(queued.ID, result)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the configured worker count
func (wp *WorkerPool) Workers() int {
	return wp.cfg.Workers
}

// Registry returns the handler registry. Register handlers here before
// calling Start().
func (wp *WorkerPool) Registry() *Registry {
	return wp.registry
}
