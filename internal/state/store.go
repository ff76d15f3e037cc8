// Package state tracks the live status and log buffer of each backup set.
package state

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nityam2007/rclone-backup-manager/internal/models"
)

// Store is a concurrency-safe map from backup-set name to run status and
// log buffer. A single lock guards both maps: updates are small and
// infrequent relative to the poll rate, so contention is not a concern.
type Store struct {
	mu       sync.Mutex
	statuses map[string]models.RunStatus
	logs     map[string][]string
}

// New creates an empty run-state store.
func New() *Store {
	return &Store{
		statuses: make(map[string]models.RunStatus),
		logs:     make(map[string][]string),
	}
}

// ResetForRun prepares a name for a fresh run: status back to running at
// zero percent, log buffer cleared. Must be called before the process for
// that name is spawned.
func (s *Store) ResetForRun(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[name] = models.RunStatus{
		State:     models.RunStateRunning,
		Percent:   0,
		Line:      "Starting...",
		StartedAt: time.Now(),
	}
	s.logs[name] = nil
}

// UpdateProgress overwrites the percent and status line for a running set.
// Names that were never reset are ignored.
func (s *Store) UpdateProgress(name string, percent float64, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.statuses[name]
	if !ok {
		return
	}
	status.Percent = percent
	status.Line = line
	s.statuses[name] = status
}

// AppendLog appends a raw line to the set's log buffer.
func (s *Store) AppendLog(name, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[name] = append(s.logs[name], line)
}

// Finish marks a run as completed and appends the summary lines to its log.
func (s *Store) Finish(name string, exitCode int, duration time.Duration, summary []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := "Completed successfully"
	if exitCode != 0 {
		line = fmt.Sprintf("Failed (exit code: %d)", exitCode)
	}

	status := s.statuses[name]
	s.statuses[name] = models.RunStatus{
		State:     models.RunStateCompleted,
		Percent:   100,
		Line:      line,
		ExitCode:  exitCode,
		StartedAt: status.StartedAt,
		Duration:  duration,
	}
	s.logs[name] = append(s.logs[name], summary...)
}

// Snapshot returns a point-in-time copy of all statuses, safe to read
// without holding the lock.
func (s *Store) Snapshot() map[string]models.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.RunStatus, len(s.statuses))
	for name, status := range s.statuses {
		out[name] = status
	}
	return out
}

// Log returns the concatenated log buffer for a name.
func (s *Store) Log(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.logs[name], "")
}

// IsAnyRunning reports whether any set's run is still in flight.
func (s *Store) IsAnyRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, status := range s.statuses {
		if status.Running() {
			return true
		}
	}
	return false
}

// RunningCount returns the number of sets currently running.
func (s *Store) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, status := range s.statuses {
		if status.Running() {
			count++
		}
	}
	return count
}
