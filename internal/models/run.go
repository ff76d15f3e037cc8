package models

import "time"

// RunState is the lifecycle state of a single backup run.
type RunState int

const (
	// RunStateRunning means the rclone process has been launched and has
	// not exited yet.
	RunStateRunning RunState = iota
	// RunStateCompleted means the process exited; ExitCode is meaningful.
	RunStateCompleted
)

// String returns the string representation of a run state.
func (s RunState) String() string {
	switch s {
	case RunStateRunning:
		return "running"
	case RunStateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Synthetic exit codes assigned locally, never produced by rclone itself.
const (
	// ExitToolNotFound is returned when the rclone binary is missing.
	ExitToolNotFound = 127
	// ExitUnexpected is returned for any other local launch or stream failure.
	ExitUnexpected = 1
)

// RunStatus is the mutable per-set run status, overwritten each run.
type RunStatus struct {
	State     RunState
	Percent   float64
	Line      string
	ExitCode  int // meaningful only when State == RunStateCompleted
	StartedAt time.Time
	Duration  time.Duration // set when completed
}

// Running reports whether the run is still in flight.
func (s RunStatus) Running() bool {
	return s.State == RunStateRunning
}

// Success reports whether the run completed with exit code 0.
func (s RunStatus) Success() bool {
	return s.State == RunStateCompleted && s.ExitCode == 0
}

// HistoryEntry is one durable run outcome record.
type HistoryEntry struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Duration  float64   `json:"duration"`
}

// Statistics are monotonic aggregate counters over all recorded runs.
// They are incremented alongside every append and never recomputed from
// the capped history list, so they stay accurate after entries age out.
type Statistics struct {
	TotalRuns      int `json:"total_runs"`
	SuccessfulRuns int `json:"successful_runs"`
	FailedRuns     int `json:"failed_runs"`
}
