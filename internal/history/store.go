// Package history persists run outcomes and aggregate statistics.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nityam2007/rclone-backup-manager/internal/models"
	"github.com/rs/zerolog"
)

// historyCap bounds the durable run history; oldest entries drop first.
const historyCap = 100

// lastRunRecord is the per-name entry in the last_runs map. It carries no
// name field: the map key is the name.
type lastRunRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Duration  float64   `json:"duration"`
}

// document is the on-disk JSON shape.
type document struct {
	LastRuns   map[string]lastRunRecord `json:"last_runs"`
	RunHistory []models.HistoryEntry    `json:"run_history"`
	Statistics models.Statistics        `json:"statistics"`
}

func emptyDocument() document {
	return document{
		LastRuns:   make(map[string]lastRunRecord),
		RunHistory: []models.HistoryEntry{},
	}
}

// Store is the durable history and statistics store. Persistence is
// synchronous and best-effort: a failed save is logged, never raised, and
// the in-memory state stays authoritative for the process lifetime.
type Store struct {
	mu     sync.Mutex
	path   string
	doc    document
	logger zerolog.Logger
}

// New creates a history store backed by the given file path, loading any
// existing state. A missing file yields empty defaults; a corrupt file is
// logged and also yields empty defaults.
func New(path string, logger zerolog.Logger) *Store {
	s := &Store{
		path:   path,
		doc:    emptyDocument(),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error().Err(err).Str("file", path).Msg("failed to load history state")
		}
		return s
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Error().Err(err).Str("file", path).Msg("invalid history state, starting empty")
		return s
	}
	if doc.LastRuns == nil {
		doc.LastRuns = make(map[string]lastRunRecord)
	}
	if doc.RunHistory == nil {
		doc.RunHistory = []models.HistoryEntry{}
	}
	s.doc = doc
	return s
}

// RecordRun records one completed run: updates the per-name last run,
// appends to the capped history, bumps aggregate counters, and saves.
func (s *Store) RecordRun(name string, success bool, durationSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	s.doc.LastRuns[name] = lastRunRecord{
		Timestamp: now,
		Success:   success,
		Duration:  durationSeconds,
	}

	s.doc.RunHistory = append(s.doc.RunHistory, models.HistoryEntry{
		Name:      name,
		Timestamp: now,
		Success:   success,
		Duration:  durationSeconds,
	})
	if n := len(s.doc.RunHistory); n > historyCap {
		s.doc.RunHistory = s.doc.RunHistory[n-historyCap:]
	}

	s.doc.Statistics.TotalRuns++
	if success {
		s.doc.Statistics.SuccessfulRuns++
	} else {
		s.doc.Statistics.FailedRuns++
	}

	s.save()
}

// save writes the document to disk. Caller must hold the lock.
func (s *Store) save() {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Error().Err(err).Str("file", s.path).Msg("failed to save history state")
		return
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode history state")
		return
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.logger.Error().Err(err).Str("file", s.path).Msg("failed to save history state")
	}
}

// LastRun returns the most recent run for a name, or nil if it never ran.
func (s *Store) LastRun(name string) *models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.LastRuns[name]
	if !ok {
		return nil
	}
	return &models.HistoryEntry{
		Name:      name,
		Timestamp: rec.Timestamp,
		Success:   rec.Success,
		Duration:  rec.Duration,
	}
}

// LastRunTime returns the formatted last run time for a name, or "Never".
func (s *Store) LastRunTime(name string) string {
	last := s.LastRun(name)
	if last == nil {
		return "Never"
	}
	return last.Timestamp.Format("2006-01-02 15:04:05")
}

// Statistics returns the aggregate run counters.
func (s *Store) Statistics() models.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Statistics
}

// RecentHistory returns up to limit entries, most recent first.
func (s *Store) RecentHistory(limit int) []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.doc.RunHistory)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]models.HistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.doc.RunHistory[i])
	}
	return out
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
