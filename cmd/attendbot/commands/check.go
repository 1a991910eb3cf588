package commands

import (
	"fmt"
	"os"

	"attendbot-backend/lib/serviceutil"
	"attendbot-backend/services/checker"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	checkShard       *int
	checkTotalShards *int
	checkUser        *string
	checkDryRun      *bool
)

func init() {
	checkShard = checkCmd.Flags().Int("shard", 0, "Zero-based index of this shard.")
	checkTotalShards = checkCmd.Flags().Int("total-shards", 1, "Total number of shards splitting the user list.")
	checkUser = checkCmd.Flags().String("user", "", "Only process this college id.")
	checkDryRun = checkCmd.Flags().Bool("dry-run", false, "Scrape and print results without emailing or recording failures.")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check [--shard N --total-shards M] [--user <id>] [--dry-run]",
	Short: "Runs one pass over the active users and emails their reports.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		svc := newChecker(cfg)

		report, err := svc.Run(cmd.Context(), checker.RunOptions{
			ShardID:     *checkShard,
			TotalShards: *checkTotalShards,
			OnlyUser:    *checkUser,
			DryRun:      *checkDryRun,
		})
		if err != nil {
			serviceutil.Fatal("run failed", err)
		}

		if *checkDryRun {
			printDryRun(report)
		}
		fmt.Printf(
			"processed=%d succeeded=%d failed=%d deactivated=%d\n",
			report.Processed, report.Succeeded, report.Failed, report.Deactivated,
		)
	},
}

func printDryRun(report checker.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"College ID", "Overall", "Subject", "%", "Yesterday"})

	for _, result := range report.Results {
		if result.Err != nil {
			t.AppendRow(table.Row{result.CollegeID, "error", result.Err.Error(), "", ""})
			t.AppendSeparator()
			continue
		}
		for _, subject := range result.Snapshot.Subjects {
			t.AppendRow(table.Row{
				result.CollegeID,
				result.Snapshot.OverallText,
				subject.Name,
				subject.PercentText,
				result.Statuses[subject.Name].String(),
			})
		}
		t.AppendSeparator()
	}
	t.Render()
}
