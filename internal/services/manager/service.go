// Package manager orchestrates concurrent backup runs across all
// configured backup sets.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nityam2007/rclone-backup-manager/internal/history"
	"github.com/nityam2007/rclone-backup-manager/internal/models"
	"github.com/nityam2007/rclone-backup-manager/internal/services/rclone"
	"github.com/nityam2007/rclone-backup-manager/internal/state"
	"github.com/rs/zerolog"
)

// ErrBatchRunning is returned by StartAll while any set's run is still in
// flight. The guard is enforced here rather than at the call site so a
// fast double invocation cannot orphan a live process behind a reset
// status entry.
var ErrBatchRunning = errors.New("a backup batch is already running")

// CompleteFunc is invoked after each individual set's run settles.
type CompleteFunc func(name string, success bool)

// LoadConfigFunc supplies the current configuration snapshot.
type LoadConfigFunc func() *models.Config

// Service defines the interface for the backup orchestrator.
type Service interface {
	StartAll(dryRun bool) error
	Wait()
	IsRunning() bool
	RunningCount() int
	ReloadConfig()
	BackupSets() []models.BackupSet
	Settings() models.TransferSettings
	AppSettings() models.AppSettings
	NotifyConfig() *models.NotifyConfig
	Status() map[string]models.RunStatus
	Log(name string) string
	LastRunTime(name string) string
	Statistics() models.Statistics
	RecentHistory(limit int) []models.HistoryEntry
	OnComplete(cb CompleteFunc)
}

// Impl implements the orchestrator Service interface. It owns the
// authoritative configuration snapshot; collaborators read through its
// accessors instead of holding their own copies.
type Impl struct {
	rcloneSvc  rclone.Service
	stateStore *state.Store
	histStore  *history.Store
	logger     zerolog.Logger

	loadConfig   LoadConfigFunc
	firstRunPath string

	cfgMu sync.RWMutex
	cfg   *models.Config

	batchMu sync.Mutex
	wg      sync.WaitGroup

	cbMu      sync.Mutex
	callbacks []CompleteFunc
}

// New creates a new backup orchestrator.
func New(logger zerolog.Logger, loadConfig LoadConfigFunc, historyPath, firstRunPath string) *Impl {
	return &Impl{
		rcloneSvc:    rclone.New(logger),
		stateStore:   state.New(),
		histStore:    history.New(historyPath, logger),
		logger:       logger,
		loadConfig:   loadConfig,
		firstRunPath: firstRunPath,
		cfg:          loadConfig(),
	}
}

// NewWithServices creates a new orchestrator with custom collaborators (for testing).
func NewWithServices(
	logger zerolog.Logger,
	rcloneSvc rclone.Service,
	stateStore *state.Store,
	histStore *history.Store,
	loadConfig LoadConfigFunc,
	firstRunPath string,
) *Impl {
	return &Impl{
		rcloneSvc:    rcloneSvc,
		stateStore:   stateStore,
		histStore:    histStore,
		logger:       logger,
		loadConfig:   loadConfig,
		firstRunPath: firstRunPath,
		cfg:          loadConfig(),
	}
}

// StartAll launches one concurrent run per configured backup set. Sets
// missing a local or remote path are skipped with a warning and receive
// no status entry. Returns ErrBatchRunning if any run is still active.
func (m *Impl) StartAll(dryRun bool) error {
	m.batchMu.Lock()
	defer m.batchMu.Unlock()

	if m.stateStore.IsAnyRunning() {
		return ErrBatchRunning
	}

	cfg := m.configSnapshot()
	settings := cfg.Settings

	extras := []string{
		fmt.Sprintf("--transfers=%d", settings.Transfers),
		fmt.Sprintf("--checkers=%d", settings.Checkers),
		fmt.Sprintf("--retries=%d", settings.Retries),
		fmt.Sprintf("--retries-sleep=%s", settings.RetriesSleep),
		"--stats-one-line",
	}

	firstRun := !m.firstRunDone()
	if firstRun {
		extras = append(extras, "--checksum")
		m.logger.Info().Msg("first run detected, using --checksum for accuracy")
	}

	if dryRun {
		extras = append(extras, "--dry-run")
		m.logger.Info().Msg("dry run mode enabled")
	}

	for _, set := range cfg.BackupSets {
		name := set.Name
		if name == "" {
			name = "unnamed"
		}

		if set.Local == "" || set.Remote == "" {
			m.logger.Warn().Str("name", name).Msg("skipping backup set: missing local or remote path")
			continue
		}

		m.stateStore.ResetForRun(name)
		m.wg.Add(1)
		go m.runSet(name, set.Local, set.Remote, extras)
	}

	// The marker is written after launching, not after completion: the
	// checksum flag is meant for the next invocation, not this one.
	if firstRun && len(cfg.BackupSets) > 0 {
		m.markFirstRunDone()
	}

	return nil
}

// runSet executes one backup set's run to completion.
func (m *Impl) runSet(name, local, remote string, extras []string) {
	defer m.wg.Done()

	start := time.Now()
	rule := strings.Repeat("=", 60)

	m.stateStore.AppendLog(name, rule+"\n")
	m.stateStore.AppendLog(name, "Backup: "+name+"\n")
	m.stateStore.AppendLog(name, "Source: "+local+"\n")
	m.stateStore.AppendLog(name, "Target: "+remote+"\n")
	m.stateStore.AppendLog(name, "Started: "+start.Format("2006-01-02 15:04:05")+"\n")
	m.stateStore.AppendLog(name, rule+"\n\n")

	dest := adjustDestination(local, remote)

	m.logger.Info().
		Str("name", name).
		Str("source", local).
		Str("target", dest).
		Msg("starting backup")

	rc := m.rcloneSvc.Copy(context.Background(), local, dest, extras, &storeSink{store: m.stateStore, name: name})

	end := time.Now()
	duration := end.Sub(start)

	status := "SUCCESS"
	if rc != 0 {
		status = "FAILED"
	}
	summary := []string{
		"\n" + rule + "\n",
		"Completed: " + end.Format("2006-01-02 15:04:05") + "\n",
		fmt.Sprintf("Duration: %.1fs\n", duration.Seconds()),
		"Status: " + status + "\n",
		rule + "\n",
	}

	m.stateStore.Finish(name, rc, duration, summary)
	m.histStore.RecordRun(name, rc == 0, duration.Seconds())

	m.logger.Info().
		Str("name", name).
		Int("exit_code", rc).
		Dur("duration", duration).
		Msg("backup completed")

	m.notifyComplete(name, rc == 0)
}

// adjustDestination appends the source folder's base name when the remote
// path component is a bare remote root or a single bucket name without a
// slash. A nested path is used unchanged.
func adjustDestination(local, remote string) string {
	_, path, found := strings.Cut(remote, ":")
	if !found || strings.Contains(path, "/") {
		return remote
	}
	if path == "" {
		return remote + filepath.Base(local)
	}
	return strings.TrimRight(remote, "/") + "/" + filepath.Base(local)
}

// storeSink adapts the run-state store to the rclone event interface for
// one named run.
type storeSink struct {
	store *state.Store
	name  string
}

func (s *storeSink) Progress(percent float64, line string) {
	s.store.UpdateProgress(s.name, percent, line)
}

func (s *storeSink) LogLine(line string) {
	s.store.AppendLog(s.name, line)
}

func (m *Impl) notifyComplete(name string, success bool) {
	m.cbMu.Lock()
	callbacks := make([]CompleteFunc, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.Unlock()

	for _, cb := range callbacks {
		m.invokeCallback(cb, name, success)
	}
}

// invokeCallback isolates subscribers from each other: a panicking
// callback is logged, not propagated.
func (m *Impl) invokeCallback(cb CompleteFunc, name string, success bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("name", name).Msg("completion callback panicked")
		}
	}()
	cb(name, success)
}

// OnComplete registers a callback invoked after every individual set's
// completion, not once per batch.
func (m *Impl) OnComplete(cb CompleteFunc) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Wait blocks until every run launched so far has settled.
func (m *Impl) Wait() {
	m.wg.Wait()
}

// IsRunning reports whether any backup is currently running.
func (m *Impl) IsRunning() bool {
	return m.stateStore.IsAnyRunning()
}

// RunningCount returns the number of currently running backups.
func (m *Impl) RunningCount() int {
	return m.stateStore.RunningCount()
}

// ReloadConfig replaces the configuration snapshot. In-flight runs keep
// the arguments they were launched with.
func (m *Impl) ReloadConfig() {
	cfg := m.loadConfig()

	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()

	m.logger.Info().Msg("configuration reloaded")
}

func (m *Impl) configSnapshot() *models.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// BackupSets returns the configured backup sets.
func (m *Impl) BackupSets() []models.BackupSet {
	return m.configSnapshot().BackupSets
}

// Settings returns the global transfer settings.
func (m *Impl) Settings() models.TransferSettings {
	return m.configSnapshot().Settings
}

// AppSettings returns the application settings.
func (m *Impl) AppSettings() models.AppSettings {
	return m.configSnapshot().App
}

// NotifyConfig returns the notification settings, nil if not configured.
func (m *Impl) NotifyConfig() *models.NotifyConfig {
	return m.configSnapshot().Notify
}

// Status returns a point-in-time copy of all run statuses.
func (m *Impl) Status() map[string]models.RunStatus {
	return m.stateStore.Snapshot()
}

// Log returns the accumulated log for one backup set.
func (m *Impl) Log(name string) string {
	return m.stateStore.Log(name)
}

// LastRunTime returns the formatted last run time for a set, or "Never".
func (m *Impl) LastRunTime(name string) string {
	return m.histStore.LastRunTime(name)
}

// Statistics returns the aggregate run counters.
func (m *Impl) Statistics() models.Statistics {
	return m.histStore.Statistics()
}

// RecentHistory returns up to limit history entries, most recent first.
func (m *Impl) RecentHistory(limit int) []models.HistoryEntry {
	return m.histStore.RecentHistory(limit)
}

func (m *Impl) firstRunDone() bool {
	_, err := os.Stat(m.firstRunPath)
	return err == nil
}

// markFirstRunDone creates the marker file. Its content is informational
// only and never read back; existence is the flag.
func (m *Impl) markFirstRunDone() {
	if err := os.MkdirAll(filepath.Dir(m.firstRunPath), 0o755); err != nil {
		m.logger.Error().Err(err).Msg("failed to write first-run marker")
		return
	}
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(m.firstRunPath, []byte(content), 0o644); err != nil {
		m.logger.Error().Err(err).Msg("failed to write first-run marker")
	}
}
