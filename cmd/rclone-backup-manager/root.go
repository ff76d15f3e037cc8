package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "rclone-backup-manager",
	Short: "An rclone backup orchestrator for named backup sets",
	Long: `rclone-backup-manager runs configured backup sets (local folder to
rclone remote) concurrently, tracking per-set progress, logs, and run
history. It shells out to the rclone binary for the actual transfers.

Backup sets and transfer options live in a JSON config file (folders.json
by default). Run on demand, or with --loop as a long-running timer.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "folders.json", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(remotesCmd)
	rootCmd.AddCommand(checkCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// statePath returns the run-history file location, next to the config
// file in a data/ subdirectory.
func statePath() string {
	return filepath.Join(filepath.Dir(configFile), "data", "state.json")
}

// firstRunMarkerPath returns the first-run sentinel location, next to the
// config file.
func firstRunMarkerPath() string {
	return filepath.Join(filepath.Dir(configFile), ".first_run_done")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
