package main

import (
	"fmt"

	"github.com/nityam2007/rclone-backup-manager/internal/history"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent run history",
	RunE:  showHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of entries to show")
}

func showHistory(cmd *cobra.Command, args []string) error {
	hist := history.New(statePath(), log.Logger)

	entries := hist.RecentHistory(historyLimit)
	if len(entries) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, entry := range entries {
		outcome := "OK"
		if !entry.Success {
			outcome = "FAILED"
		}
		fmt.Printf("%s  %-20s %-7s %.1fs\n",
			entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Name, outcome, entry.Duration)
	}

	return nil
}
