package main

import (
	"fmt"

	"github.com/nityam2007/rclone-backup-manager/internal/services/rclone"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var remotesCmd = &cobra.Command{
	Use:   "remotes",
	Short: "List configured rclone remotes",
	RunE:  listRemotes,
}

func listRemotes(cmd *cobra.Command, args []string) error {
	svc := rclone.New(log.Logger)

	remotes, err := svc.ListRemotes(cmd.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list remotes")
		return err
	}

	if len(remotes) == 0 {
		fmt.Println("No remotes configured. Run 'rclone config' to add one.")
		return nil
	}

	for _, remote := range remotes {
		fmt.Println(remote)
	}
	return nil
}
