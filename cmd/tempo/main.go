package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/tempo/cmd/tempo/commands"
	"github.com/teranos/tempo/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tempo",
	Short: "tempo - multi-tenant scheduled job engine",
	Long: `tempo - multi-tenant scheduled job engine.

tempo stores recurring job definitions per tenant, computes when each
is next due, and dispatches them to an async worker queue.

Available commands:
  serve    - Start the HTTP API, schedule engine, and worker pool
  engine   - Run the headless schedule engine (no HTTP)
  schedule - Manage schedules from the command line
  db       - Manage tempo database operations
  version  - Show version information

Examples:
  tempo serve                   # Start everything in foreground
  tempo engine start            # Headless engine + workers
  tempo schedule list --org a1  # List a tenant's schedules
  tempo db migrate              # Apply pending migrations`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit machine-readable JSON logs")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.EngineCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
