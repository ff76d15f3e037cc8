package main

import (
	"fmt"

	"github.com/nityam2007/rclone-backup-manager/internal/config"
	"github.com/nityam2007/rclone-backup-manager/internal/history"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run statistics and last run times",
	RunE:  showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg := config.NewParser(log.Logger).LoadFile(configFile)
	hist := history.New(statePath(), log.Logger)

	stats := hist.Statistics()
	fmt.Println("Statistics:")
	fmt.Printf("  Total runs: %d\n", stats.TotalRuns)
	fmt.Printf("  Successful: %d\n", stats.SuccessfulRuns)
	fmt.Printf("  Failed: %d\n", stats.FailedRuns)
	fmt.Println()

	if len(cfg.BackupSets) == 0 {
		fmt.Println("No backup sets configured.")
		return nil
	}

	fmt.Println("Backup Sets:")
	for _, set := range cfg.BackupSets {
		outcome := ""
		if last := hist.LastRun(set.Name); last != nil {
			if last.Success {
				outcome = "OK"
			} else {
				outcome = "FAILED"
			}
		}
		fmt.Printf("  %-20s last run: %-20s %s\n", set.Name, hist.LastRunTime(set.Name), outcome)
	}

	return nil
}
