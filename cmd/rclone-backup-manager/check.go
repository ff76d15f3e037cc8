package main

import (
	"fmt"

	"github.com/nityam2007/rclone-backup-manager/internal/services/rclone"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the rclone binary is installed",
	RunE:  checkRclone,
}

func checkRclone(cmd *cobra.Command, args []string) error {
	svc := rclone.New(log.Logger)

	version, err := svc.Version(cmd.Context())
	if err != nil {
		log.Error().Err(err).Msg("rclone is not available")
		return fmt.Errorf("rclone not found: install rclone and add it to PATH")
	}

	fmt.Printf("rclone is installed: %s\n", version)
	return nil
}
