package commands

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tempo/internal/util"
	"github.com/teranos/tempo/job"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/schedule"
	"github.com/teranos/tempo/sym"
)

// ScheduleCmd manages schedules from the command line.
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Clock + " Manage schedules",
	Long: sym.Clock + ` schedule - manage a tenant's recurring jobs.

All subcommands operate directly on the database; a running server is
not required (manual runs are picked up by whichever worker pool
shares the database).

Examples:
  tempo schedule list --org acme
  tempo schedule create --org acme --name nightly --job-type report --frequency daily --hour 2
  tempo schedule pause --org acme <schedule-id>
  tempo schedule run --org acme <schedule-id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var (
	scheduleOrgFlag string

	createNameFlag       string
	createJobTypeFlag    string
	createFrequencyFlag  string
	createHourFlag       int
	createMinuteFlag     int
	createDayOfWeekFlag  int
	createDayOfMonthFlag int
	createCronFlag       string
	createTimezoneFlag   string

	listActiveOnlyFlag bool
	listLimitFlag      int
)

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules for the tenant",
	RunE:  runScheduleList,
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a schedule",
	RunE:  runScheduleCreate,
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <schedule-id>",
	Short: "Pause a schedule (next_run_at is preserved)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduleService(func(svc *schedule.Service) error {
			sched, err := svc.Pause(scheduleOrgFlag, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s Paused %s (%s)\n", sym.Clock, sched.Name, sched.ID)
			return nil
		})
	},
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <schedule-id>",
	Short: "Resume a schedule (next_run_at recomputed from now, failure count cleared)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduleService(func(svc *schedule.Service) error {
			sched, err := svc.Resume(scheduleOrgFlag, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s Resumed %s, next run %s\n", sym.Clock, sched.Name, formatNextRun(sched.NextRunAt))
			return nil
		})
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <schedule-id>",
	Short: "Dispatch the schedule's job immediately",
	Long: `Dispatch the schedule's job immediately as a manual trigger.

The regular cadence is unaffected: next_run_at does not move and the
failure count is untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduleService(func(svc *schedule.Service) error {
			jobID, err := svc.RunNow(cmd.Context(), scheduleOrgFlag, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s Dispatched job %s\n", sym.Rocket, jobID)
			return nil
		})
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <schedule-id>",
	Short: "Soft-delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduleService(func(svc *schedule.Service) error {
			if err := svc.Delete(scheduleOrgFlag, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Deleted schedule %s\n", sym.Clock, args[0])
			return nil
		})
	},
}

func init() {
	ScheduleCmd.PersistentFlags().StringVar(&scheduleOrgFlag, "org", "", "Tenant organization id (required)")
	ScheduleCmd.MarkPersistentFlagRequired("org")

	scheduleListCmd.Flags().BoolVar(&listActiveOnlyFlag, "active", false, "Only show active schedules")
	scheduleListCmd.Flags().IntVar(&listLimitFlag, "limit", 50, "Maximum schedules to list")

	scheduleCreateCmd.Flags().StringVar(&createNameFlag, "name", "", "Schedule name (required)")
	scheduleCreateCmd.Flags().StringVar(&createJobTypeFlag, "job-type", "", "Job handler type (required)")
	scheduleCreateCmd.Flags().StringVar(&createFrequencyFlag, "frequency", "daily", "Frequency: once, daily, weekly, monthly, custom")
	scheduleCreateCmd.Flags().IntVar(&createHourFlag, "hour", 0, "Hour of day (0-23)")
	scheduleCreateCmd.Flags().IntVar(&createMinuteFlag, "minute", 0, "Minute of hour (0-59)")
	scheduleCreateCmd.Flags().IntVar(&createDayOfWeekFlag, "day-of-week", -1, "Day of week for weekly (0=Sunday .. 6=Saturday)")
	scheduleCreateCmd.Flags().IntVar(&createDayOfMonthFlag, "day-of-month", 0, "Day of month for monthly (1-28)")
	scheduleCreateCmd.Flags().StringVar(&createCronFlag, "cron", "", "Cron expression for custom frequency")
	scheduleCreateCmd.Flags().StringVar(&createTimezoneFlag, "timezone", "UTC", "IANA timezone for recurrence evaluation")
	scheduleCreateCmd.MarkFlagRequired("name")
	scheduleCreateCmd.MarkFlagRequired("job-type")

	ScheduleCmd.AddCommand(scheduleListCmd)
	ScheduleCmd.AddCommand(scheduleCreateCmd)
	ScheduleCmd.AddCommand(schedulePauseCmd)
	ScheduleCmd.AddCommand(scheduleResumeCmd)
	ScheduleCmd.AddCommand(scheduleRunCmd)
	ScheduleCmd.AddCommand(scheduleDeleteCmd)
}

// withScheduleService opens the database, builds the service, and
// closes everything when fn returns.
func withScheduleService(fn func(*schedule.Service) error) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	return fn(newScheduleService(database))
}

func newScheduleService(database *sql.DB) *schedule.Service {
	queue := job.NewQueue(database)
	dispatcher := job.NewQueueDispatcher(queue, logger.Logger)
	return schedule.NewService(schedule.NewStore(database), dispatcher, logger.Logger)
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	return withScheduleService(func(svc *schedule.Service) error {
		opts := schedule.ListOptions{
			Limit:   listLimitFlag,
			OrderBy: "next_run_at",
		}
		if listActiveOnlyFlag {
			active := true
			opts.IsActive = &active
		}

		schedules, total, err := svc.List(scheduleOrgFlag, opts)
		if err != nil {
			return err
		}

		if len(schedules) == 0 {
			pterm.Printf("No schedules for org %s\n", pterm.Yellow(scheduleOrgFlag))
			return nil
		}

		data := pterm.TableData{
			{"ID", "NAME", "JOB TYPE", "FREQUENCY", "ACTIVE", "NEXT RUN", "FAILURES"},
		}
		for _, sched := range schedules {
			activeMark := pterm.Green("yes")
			if !sched.IsActive {
				activeMark = pterm.Gray("no")
			}
			failures := fmt.Sprintf("%d", sched.FailureCount)
			if sched.FailureCount >= schedule.MaxFailureCount {
				failures = pterm.Red(failures)
			}
			data = append(data, []string{
				sched.ID,
				sched.Name,
				sched.JobType,
				string(sched.Frequency),
				activeMark,
				formatNextRun(sched.NextRunAt),
				failures,
			})
		}

		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
		pterm.Printf("\n%d of %d schedules\n", len(schedules), total)
		return nil
	})
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	return withScheduleService(func(svc *schedule.Service) error {
		params := schedule.CreateParams{
			Name:    createNameFlag,
			JobType: createJobTypeFlag,
			Recurrence: schedule.Recurrence{
				Frequency: schedule.Frequency(createFrequencyFlag),
				Hour:      createHourFlag,
				Minute:    createMinuteFlag,
				Timezone:  createTimezoneFlag,
			},
		}
		if createDayOfWeekFlag >= 0 {
			params.DayOfWeek = util.Ptr(createDayOfWeekFlag)
		}
		if createDayOfMonthFlag > 0 {
			params.DayOfMonth = util.Ptr(createDayOfMonthFlag)
		}
		if createCronFlag != "" {
			params.CronExpr = util.Ptr(createCronFlag)
		}
		if params.Frequency == schedule.FrequencyOnce {
			now := time.Now().UTC()
			params.StartDate = &now
		}

		sched, err := svc.Create(scheduleOrgFlag, "cli", params)
		if err != nil {
			return err
		}

		fmt.Printf("%s Created schedule %s\n", sym.Clock, sched.ID)
		fmt.Printf("  Name:      %s\n", sched.Name)
		fmt.Printf("  Job type:  %s\n", sched.JobType)
		fmt.Printf("  Frequency: %s\n", sched.Frequency)
		fmt.Printf("  Next run:  %s\n", formatNextRun(sched.NextRunAt))
		return nil
	})
}

func formatNextRun(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
