package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tenderfeed/tender-cli/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily API ingestion and stale-run sweep on cron",
	Long:  "Ingests yesterday through today from the release API at start and on schedule.ingest_cron, and closes abandoned runs on schedule.sweep_cron. Stops on SIGINT/SIGTERM.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initIngest(ctx, "schedule")
		if err != nil {
			return err
		}
		defer env.Close()

		return newScheduler(env).Run(ctx)
	},
}

func newScheduler(env *ingestEnv) *scheduler.Scheduler {
	return scheduler.New(env.Service, scheduler.Options{
		IngestSpec: cfg.Schedule.IngestCron,
		SweepSpec:  cfg.Schedule.SweepCron,
		PageSize:   cfg.OCDS.PageSize,
	})
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
