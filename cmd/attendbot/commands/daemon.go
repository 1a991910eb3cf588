package commands

import (
	"log/slog"

	"attendbot-backend/lib/serviceutil"
	"attendbot-backend/lib/telemetry"
	"attendbot-backend/services/checker"

	"github.com/spf13/cobra"
)

var (
	daemonShard       *int
	daemonTotalShards *int
	daemonCron        *string
)

func init() {
	daemonShard = daemonCmd.Flags().Int("shard", 0, "Zero-based index of this shard.")
	daemonTotalShards = daemonCmd.Flags().Int("total-shards", 1, "Total number of shards splitting the user list.")
	daemonCron = daemonCmd.Flags().String("cron", "", "Cron spec overriding the configured schedule.")
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon [--shard N --total-shards M] [--cron <spec>]",
	Short: "Runs the checker on the configured cron schedule until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()
		svc := newChecker(cfg)

		telemetry.InstrumentPerfStats(ctx)

		spec := cfg.CronSpec
		if *daemonCron != "" {
			spec = *daemonCron
		}
		c, err := svc.StartCron(spec, checker.RunOptions{
			ShardID:     *daemonShard,
			TotalShards: *daemonTotalShards,
		})
		if err != nil {
			serviceutil.Fatal("failed to schedule runs", err)
		}
		slog.Info(
			"daemon started",
			"cron", spec,
			"shard", *daemonShard,
			"total_shards", *daemonTotalShards,
		)

		<-ctx.Done()
		<-c.Stop().Done()
	},
}
