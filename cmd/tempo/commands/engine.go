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
	"github.com/teranos/tempo/sym"
)

// EngineCmd manages the headless schedule engine.
var EngineCmd = &cobra.Command{
	Use:   "engine",
	Short: sym.Engine + " Manage the schedule engine",
	Long: sym.Engine + ` engine - the schedule polling loop.

The engine periodically queries for due schedules and dispatches each
one to the job queue. Run it headless on a box that shares the
database with the API server, or let "tempo serve" embed it.

Run exactly one engine per database: dispatch does not take a lease,
so two engines polling the same file will double-dispatch.

Example:
  tempo engine start            # Engine + workers, no HTTP`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// EngineStartCmd runs the engine and worker pool in foreground.
var EngineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the schedule engine in foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
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
		if cfg.Workers.PollIntervalSeconds > 0 {
			poolCfg.PollInterval = time.Duration(cfg.Workers.PollIntervalSeconds) * time.Second
		}
		poolCfg.RatePerSecond = cfg.Workers.RatePerSecond

		pool := job.NewWorkerPoolWithContext(ctx, database, poolCfg, logger.Logger)
		pool.Start()

		store := schedule.NewStore(database)
		dispatcher := job.NewQueueDispatcher(pool.GetQueue(), logger.Logger)
		engine := schedule.NewEngine(store, dispatcher, engineConfigFrom(cfg), logger.Logger)
		engine.Start()

		status := engine.Status()
		fmt.Printf("%s Engine started\n", sym.Engine)
		fmt.Printf("  Poll interval: %dms\n", status.PollIntervalMS)
		fmt.Printf("  Batch size: %d\n", status.BatchSize)
		fmt.Printf("  Workers: %d\n", pool.Workers())
		fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\n%s Stopping engine...\n", sym.Close)
		engine.Stop()
		pool.Stop()
		cancel()

		fmt.Printf("%s Engine stopped\n", sym.Close)
		return nil
	},
}

func init() {
	EngineCmd.AddCommand(EngineStartCmd)
}
