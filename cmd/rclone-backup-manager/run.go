package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/nityam2007/rclone-backup-manager/internal/config"
	"github.com/nityam2007/rclone-backup-manager/internal/models"
	"github.com/nityam2007/rclone-backup-manager/internal/services/manager"
	"github.com/nityam2007/rclone-backup-manager/internal/services/notify"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	dryRun  bool
	runLoop bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all configured backup sets",
	Long: `Run every configured backup set concurrently, one rclone process per
set, and wait for all of them to finish. The very first run ever uses
--checksum for accuracy; later runs rely on mtime/size comparison.

With --loop, keeps running batches on the configured auto-run interval
until interrupted.`,
	RunE: runBackups,
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate transfers without copying data")
	runCmd.Flags().BoolVar(&runLoop, "loop", false, "keep running on the configured auto-run interval")
}

func runBackups(cmd *cobra.Command, args []string) error {
	loadConfig := func() *models.Config {
		return config.NewParser(log.Logger).LoadFile(configFile)
	}

	cfg := loadConfig()
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if len(cfg.BackupSets) == 0 {
		log.Warn().Str("config", configFile).Msg("no backup sets configured, nothing to do")
		return nil
	}

	log.Info().
		Str("config", configFile).
		Int("backup_sets", len(cfg.BackupSets)).
		Msg("configuration loaded")

	mgr := manager.New(log.Logger, loadConfig, statePath(), firstRunMarkerPath())

	mgr.OnComplete(func(name string, success bool) {
		if success {
			log.Info().Str("name", name).Msg("backup set finished")
		} else {
			log.Error().Str("name", name).Msg("backup set failed")
		}
	})

	if cfg.Notify != nil && cfg.App.ShowNotifications {
		registerNotifier(mgr, *cfg.Notify)
	}

	dry := dryRun
	if !cmd.Flags().Changed("dry-run") {
		dry = cfg.App.DryRun
	}

	if runLoop {
		return loopBatches(mgr, dry)
	}
	return runBatch(mgr, dry)
}

// registerNotifier subscribes a Telegram notification sender to set
// completions. Send failures are logged, never fatal.
func registerNotifier(mgr *manager.Impl, notifyCfg models.NotifyConfig) {
	svc := notify.New(log.Logger)

	mgr.OnComplete(func(name string, success bool) {
		status := mgr.Status()[name]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := svc.SendRunResult(ctx, notifyCfg, notify.RunResultMessage{
			SetName:   name,
			Success:   success,
			Duration:  status.Duration,
			Timestamp: time.Now(),
		})
		if err != nil {
			log.Error().Err(err).Str("name", name).Msg("failed to send notification")
			return
		}
		if result.Error != nil {
			log.Error().Err(result.Error).Str("name", name).Msg("failed to send notification")
		}
	})
}

// runBatch launches one batch, waits for it to settle, and reports the
// per-set outcomes. Returns an error if any set failed.
func runBatch(mgr *manager.Impl, dry bool) error {
	if err := mgr.StartAll(dry); err != nil {
		log.Error().Err(err).Msg("failed to start backups")
		return err
	}

	watchProgress(mgr)
	mgr.Wait()

	return reportResults(mgr)
}

// loopBatches runs a batch immediately and then on every auto-run tick
// until interrupted, skipping ticks while a batch is still active.
func loopBatches(mgr *manager.Impl, dry bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := mgr.AppSettings().AutoRunIntervalMin
	if interval <= 0 {
		interval = config.DefaultAutoRunIntervalMin
	}
	log.Info().Int("interval_min", interval).Msg("auto-run loop started")

	ticker := time.NewTicker(time.Duration(interval) * time.Minute)
	defer ticker.Stop()

	for {
		if mgr.IsRunning() {
			log.Info().Msg("previous batch still running, skipping this tick")
		} else if err := mgr.StartAll(dry); err != nil {
			if !errors.Is(err, manager.ErrBatchRunning) {
				log.Error().Err(err).Msg("failed to start backups")
			}
		}

		select {
		case <-ctx.Done():
			log.Warn().Msg("received signal, waiting for in-flight runs to finish")
			mgr.Wait()
			return reportResults(mgr)
		case <-ticker.C:
			mgr.ReloadConfig()
		}
	}
}

// watchProgress renders an aggregate progress bar while the batch runs.
// Suppressed for JSON/quiet output and when stderr is not a terminal.
func watchProgress(mgr *manager.Impl) {
	if jsonOutput || quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("backing up"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	for mgr.IsRunning() {
		snapshot := mgr.Status()
		if len(snapshot) > 0 {
			total := 0.0
			for _, status := range snapshot {
				total += status.Percent
			}
			_ = bar.Set(int(total / float64(len(snapshot))))
		}
		bar.Describe(fmt.Sprintf("backing up (%d running)", mgr.RunningCount()))
		time.Sleep(500 * time.Millisecond)
	}
	_ = bar.Finish()
}

func reportResults(mgr *manager.Impl) error {
	snapshot := mgr.Status()

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		status := snapshot[name]
		if status.Success() {
			fmt.Printf("  %-20s OK      (%.1fs)\n", name, status.Duration.Seconds())
		} else {
			fmt.Printf("  %-20s FAILED  (exit code: %d)\n", name, status.ExitCode)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d backup sets failed", failed, len(names))
	}

	log.Info().Int("backup_sets", len(names)).Msg("all backups completed successfully")
	return nil
}
