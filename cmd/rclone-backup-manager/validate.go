package main

import (
	"fmt"
	"os"

	"github.com/nityam2007/rclone-backup-manager/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file without launching any backups.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser(log.Logger)
	cfg, err := parser.LoadFileStrict(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Printf("Backup Sets (%d):\n", len(cfg.BackupSets))
	for _, set := range cfg.BackupSets {
		fmt.Printf("  %-20s %s -> %s\n", set.Name, set.Local, set.Remote)
	}
	fmt.Println()
	fmt.Println("Transfer Settings:")
	fmt.Printf("  Transfers: %d\n", cfg.Settings.Transfers)
	fmt.Printf("  Checkers: %d\n", cfg.Settings.Checkers)
	fmt.Printf("  Retries: %d\n", cfg.Settings.Retries)
	fmt.Printf("  Retries sleep: %s\n", cfg.Settings.RetriesSleep)
	fmt.Println()
	fmt.Println("Application Settings:")
	fmt.Printf("  Dry run: %v\n", cfg.App.DryRun)
	fmt.Printf("  Auto-run: %v", cfg.App.AutoRunEnabled)
	if cfg.App.AutoRunEnabled {
		fmt.Printf(" (every %d min)", cfg.App.AutoRunIntervalMin)
	}
	fmt.Println()
	fmt.Printf("  Notifications: %v\n", cfg.Notify != nil)

	return nil
}
