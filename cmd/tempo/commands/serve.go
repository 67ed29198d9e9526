package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/tempo/config"
	"github.com/teranos/tempo/job"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/schedule"
	"github.com/teranos/tempo/server"
	"github.com/teranos/tempo/sym"
)

// ServeCmd starts the full tempo stack: HTTP API, worker pool, and the
// schedule engine.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Engine + " Start the tempo server",
	Long: sym.Engine + ` serve - run the full tempo stack in foreground.

Starts:
- HTTP API for schedule and job management
- Worker pool draining the async job queue
- Schedule engine polling for due schedules (unless engine.autostart
  is disabled in config)

Runs until interrupted (Ctrl+C), then shuts down gracefully: the HTTP
server drains, the engine finishes its tick, and workers requeue any
jobs still in flight.

Example:
  tempo serve              # Use config defaults
  tempo serve --port 9000  # Override the listen port`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().Int("port", 0, "HTTP listen port (overrides config)")
	ServeCmd.Flags().Int("workers", 0, "Number of job workers (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	port := config.DefaultServerPort
	if cfg.Server.Port != nil {
		port = *cfg.Server.Port
	}
	if v, _ := cmd.Flags().GetInt("port"); v > 0 {
		port = v
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolCfg := job.DefaultWorkerPoolConfig()
	if cfg.Workers.Count > 0 {
		poolCfg.Workers = cfg.Workers.Count
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		poolCfg.Workers = v
	}
	if cfg.Workers.PollIntervalSeconds > 0 {
		poolCfg.PollInterval = time.Duration(cfg.Workers.PollIntervalSeconds) * time.Second
	}
	poolCfg.RatePerSecond = cfg.Workers.RatePerSecond

	pool := job.NewWorkerPoolWithContext(ctx, database, poolCfg, logger.Logger)

	// Job handlers are registered by the embedding application; the
	// stock binary runs with whatever is in the registry at this point.
	pool.Start()

	store := schedule.NewStore(database)
	dispatcher := job.NewQueueDispatcher(pool.GetQueue(), logger.Logger)
	service := schedule.NewService(store, dispatcher, logger.Logger)

	engine := schedule.NewEngine(store, dispatcher, engineConfigFrom(cfg), logger.Logger)
	if cfg.Engine.Autostart {
		engine.Start()
	}

	srv := server.NewServer(service, engine, pool, logger.Logger)

	// Hot-reload engine settings when the config file changes. Port and
	// database path changes still need a restart.
	if configPath := config.FilePath(); configPath != "" {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			logger.Warnw("Config watcher unavailable", "path", configPath, "error", err)
		} else {
			watcher.OnReload(func(newCfg *config.Config) error {
				engine.UpdateConfig(engineConfigFrom(newCfg))
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(port)
	}()

	fmt.Printf("%s tempo serving on port %d\n", sym.Engine, port)
	fmt.Printf("  Workers: %d\n", poolCfg.Workers)
	fmt.Printf("  Engine autostart: %v\n", cfg.Engine.Autostart)
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
	case err := <-serveErr:
		if err != nil {
			engine.Stop()
			pool.Stop()
			return err
		}
	}

	fmt.Printf("\n%s Shutting down...\n", sym.Close)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("HTTP shutdown error", "error", err)
	}

	// Reverse order of startup
	engine.Stop()
	pool.Stop()
	cancel()

	fmt.Printf("%s tempo stopped\n", sym.Close)
	return nil
}

// engineConfigFrom translates the file config into engine settings,
// leaving zeros for NewEngine's defaults to fill.
func engineConfigFrom(cfg *config.Config) schedule.EngineConfig {
	return schedule.EngineConfig{
		PollInterval:    time.Duration(cfg.Engine.PollIntervalMS) * time.Millisecond,
		BatchSize:       cfg.Engine.BatchSize,
		DispatchTimeout: time.Duration(cfg.Engine.DispatchTimeoutSeconds) * time.Second,
	}
}
