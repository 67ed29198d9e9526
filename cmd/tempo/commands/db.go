package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/tempo/config"
	"github.com/teranos/tempo/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage tempo database",
	Long: sym.DB + ` db - manage tempo database operations

Examples:
  tempo db migrate   # Apply pending migrations
  tempo db stats     # Show schedule and job counts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// openDatabase migrates as a side effect
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Printf("%s Database is up to date\n", sym.DB)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show schedule and job statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	var totalSchedules, activeSchedules, deactivated, orgs int
	err = database.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_active = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failure_count >= 5 THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT org_id)
		FROM schedules
		WHERE deleted_at IS NULL
	`).Scan(&totalSchedules, &activeSchedules, &deactivated, &orgs)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query schedule stats: %w", err)
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:     %s\n", cfg.Database.Path)
	fmt.Printf("Organizations:     %d\n", orgs)
	fmt.Printf("Schedules:         %d (%d active, %d tripped on failures)\n",
		totalSchedules, activeSchedules, deactivated)
	fmt.Println()

	rows, err := database.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status ORDER BY status`)
	if err != nil {
		return fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	fmt.Printf("Jobs by status:\n")
	var hasJobs bool
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return fmt.Errorf("failed to scan job stats: %w", err)
		}
		hasJobs = true
		fmt.Printf("  %-10s %d\n", status, count)
	}
	if !hasJobs {
		fmt.Println("  No jobs recorded yet")
	}

	return rows.Err()
}
