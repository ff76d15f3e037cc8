package manager

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nityam2007/rclone-backup-manager/internal/history"
	"github.com/nityam2007/rclone-backup-manager/internal/models"
	"github.com/nityam2007/rclone-backup-manager/internal/services/rclone"
	"github.com/nityam2007/rclone-backup-manager/internal/state"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type copyCall struct {
	source string
	dest   string
	extras []string
}

// mockRclone is a mock implementation of the rclone Service for testing.
type mockRclone struct {
	mu       sync.Mutex
	calls    []copyCall
	copyFunc func(source, dest string, extras []string, events rclone.EventSink) int
}

func (m *mockRclone) Copy(ctx context.Context, source, dest string, extras []string, events rclone.EventSink) int {
	m.mu.Lock()
	m.calls = append(m.calls, copyCall{source, dest, append([]string(nil), extras...)})
	m.mu.Unlock()

	if m.copyFunc != nil {
		return m.copyFunc(source, dest, extras, events)
	}
	return 0
}

func (m *mockRclone) Version(ctx context.Context) (string, error) {
	return "rclone v1.66.0", nil
}

func (m *mockRclone) ListRemotes(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (m *mockRclone) copyCalls() []copyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]copyCall(nil), m.calls...)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type fixture struct {
	mgr        *Impl
	svc        *mockRclone
	markerPath string
}

func newFixture(t *testing.T, cfg *models.Config, svc *mockRclone) *fixture {
	t.Helper()
	dir := t.TempDir()
	markerPath := filepath.Join(dir, ".first_run_done")

	mgr := NewWithServices(
		testLogger(),
		svc,
		state.New(),
		history.New(filepath.Join(dir, "data", "state.json"), testLogger()),
		func() *models.Config { return cfg },
		markerPath,
	)
	return &fixture{mgr: mgr, svc: svc, markerPath: markerPath}
}

func twoSetConfig() *models.Config {
	return &models.Config{
		BackupSets: []models.BackupSet{
			{Name: "docs", Local: "/home/user/Docs", Remote: "gdrive:backup/docs"},
			{Name: "pics", Local: "/home/user/Pics", Remote: "gdrive:backup/pics"},
		},
		Settings: models.TransferSettings{Transfers: 8, Checkers: 8, Retries: 3, RetriesSleep: "10s"},
	}
}

func TestStartAll_FirstRunUsesChecksumOnce(t *testing.T) {
	f := newFixture(t, twoSetConfig(), &mockRclone{})

	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()

	calls := f.svc.copyCalls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Contains(t, call.extras, "--checksum")
		assert.Contains(t, call.extras, "--transfers=8")
		assert.Contains(t, call.extras, "--checkers=8")
		assert.Contains(t, call.extras, "--retries=3")
		assert.Contains(t, call.extras, "--retries-sleep=10s")
		assert.NotContains(t, call.extras, "--dry-run")
	}

	// Marker written after launching.
	_, err := os.Stat(f.markerPath)
	assert.NoError(t, err)

	// Second batch omits the checksum flag.
	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()

	calls = f.svc.copyCalls()
	require.Len(t, calls, 4)
	assert.NotContains(t, calls[2].extras, "--checksum")
	assert.NotContains(t, calls[3].extras, "--checksum")
}

func TestStartAll_DryRun(t *testing.T) {
	f := newFixture(t, twoSetConfig(), &mockRclone{})

	require.NoError(t, f.mgr.StartAll(true))
	f.mgr.Wait()

	for _, call := range f.svc.copyCalls() {
		assert.Contains(t, call.extras, "--dry-run")
		// Dry run does not affect first-run detection.
		assert.Contains(t, call.extras, "--checksum")
	}
}

func TestStartAll_SkipsIncompleteSets(t *testing.T) {
	cfg := &models.Config{
		BackupSets: []models.BackupSet{
			{Name: "docs", Local: "/home/user/Docs", Remote: "gdrive:backup/docs"},
			{Name: "broken", Local: "", Remote: "gdrive:backup/broken"},
			{Name: "pics", Local: "/home/user/Pics", Remote: "gdrive:backup/pics"},
		},
		Settings: models.TransferSettings{Transfers: 8, Checkers: 8, Retries: 3, RetriesSleep: "10s"},
	}
	f := newFixture(t, cfg, &mockRclone{})

	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()

	// Exactly two runs launched, each a first run.
	calls := f.svc.copyCalls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Contains(t, call.extras, "--checksum")
	}

	// The skipped set gets no run-state entry at all.
	status := f.mgr.Status()
	assert.Len(t, status, 2)
	assert.Contains(t, status, "docs")
	assert.Contains(t, status, "pics")
	assert.NotContains(t, status, "broken")
	assert.Empty(t, f.mgr.Log("broken"))
}

func TestStartAll_MarkerWrittenEvenWhenAllSkipped(t *testing.T) {
	cfg := &models.Config{
		BackupSets: []models.BackupSet{{Name: "broken", Local: "", Remote: ""}},
	}
	f := newFixture(t, cfg, &mockRclone{})

	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()

	assert.Empty(t, f.svc.copyCalls())
	_, err := os.Stat(f.markerPath)
	assert.NoError(t, err, "marker is written whenever sets are configured")
}

func TestStartAll_NoMarkerWithoutSets(t *testing.T) {
	f := newFixture(t, &models.Config{}, &mockRclone{})

	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()

	_, err := os.Stat(f.markerPath)
	assert.True(t, os.IsNotExist(err))
}

func TestStartAll_RejectedWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	svc := &mockRclone{
		copyFunc: func(source, dest string, extras []string, events rclone.EventSink) int {
			started <- struct{}{}
			<-release
			return 0
		},
	}
	f := newFixture(t, twoSetConfig(), svc)

	require.NoError(t, f.mgr.StartAll(false))
	<-started
	<-started

	assert.True(t, f.mgr.IsRunning())
	assert.Equal(t, 2, f.mgr.RunningCount())
	assert.ErrorIs(t, f.mgr.StartAll(false), ErrBatchRunning)

	close(release)
	f.mgr.Wait()

	assert.False(t, f.mgr.IsRunning())
	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()
}

func TestRunSet_UpdatesStateAndHistory(t *testing.T) {
	svc := &mockRclone{
		copyFunc: func(source, dest string, extras []string, events rclone.EventSink) int {
			events.LogLine("Transferred: 42%\n")
			events.Progress(42, "Transferred: 42%")
			if source == "/home/user/Pics" {
				return 3
			}
			return 0
		},
	}
	f := newFixture(t, twoSetConfig(), svc)

	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()

	status := f.mgr.Status()
	require.Len(t, status, 2)

	assert.True(t, status["docs"].Success())
	assert.Equal(t, "Completed successfully", status["docs"].Line)
	assert.Equal(t, 100.0, status["docs"].Percent)

	assert.False(t, status["pics"].Success())
	assert.Equal(t, 3, status["pics"].ExitCode)
	assert.Equal(t, "Failed (exit code: 3)", status["pics"].Line)

	// Header, runner output, and footer all land in the per-set log.
	docsLog := f.mgr.Log("docs")
	assert.Contains(t, docsLog, "Backup: docs")
	assert.Contains(t, docsLog, "Source: /home/user/Docs")
	assert.Contains(t, docsLog, "Transferred: 42%")
	assert.Contains(t, docsLog, "Status: SUCCESS")
	assert.Contains(t, f.mgr.Log("pics"), "Status: FAILED")

	stats := f.mgr.Statistics()
	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 1, stats.SuccessfulRuns)
	assert.Equal(t, 1, stats.FailedRuns)

	assert.NotEqual(t, "Never", f.mgr.LastRunTime("docs"))
	require.Len(t, f.mgr.RecentHistory(10), 2)
}

func TestOnComplete_SubscribersIsolated(t *testing.T) {
	f := newFixture(t, twoSetConfig(), &mockRclone{})

	var mu sync.Mutex
	got := map[string]bool{}

	f.mgr.OnComplete(func(name string, success bool) {
		panic("bad subscriber")
	})
	f.mgr.OnComplete(func(name string, success bool) {
		mu.Lock()
		got[name] = success
		mu.Unlock()
	})

	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]bool{"docs": true, "pics": true}, got)
}

func TestReloadConfig(t *testing.T) {
	cfg := twoSetConfig()
	dir := t.TempDir()

	current := cfg
	mgr := NewWithServices(
		testLogger(),
		&mockRclone{},
		state.New(),
		history.New(filepath.Join(dir, "state.json"), testLogger()),
		func() *models.Config { return current },
		filepath.Join(dir, ".first_run_done"),
	)

	require.Len(t, mgr.BackupSets(), 2)

	current = &models.Config{
		BackupSets: []models.BackupSet{{Name: "only", Local: "/tmp/x", Remote: "r:p/q"}},
		Settings:   models.TransferSettings{Transfers: 2},
	}
	mgr.ReloadConfig()

	require.Len(t, mgr.BackupSets(), 1)
	assert.Equal(t, "only", mgr.BackupSets()[0].Name)
	assert.Equal(t, 2, mgr.Settings().Transfers)
}

func TestAdjustDestination(t *testing.T) {
	tests := []struct {
		name   string
		local  string
		remote string
		want   string
	}{
		{"bare remote root", "/home/user/Docs", "remote:", "remote:Docs"},
		{"bucket only", "/home/user/Docs", "remote:bucket", "remote:bucket/Docs"},
		{"nested path unchanged", "/home/user/Docs", "remote:existing/path", "remote:existing/path"},
		{"no colon unchanged", "/home/user/Docs", "plainpath", "plainpath"},
		{"trailing slash source", "/home/user/Docs/", "remote:bucket", "remote:bucket/Docs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adjustDestination(tt.local, tt.remote))
		})
	}
}

func TestStartAll_UnnamedSetGetsPlaceholder(t *testing.T) {
	cfg := &models.Config{
		BackupSets: []models.BackupSet{{Local: "/tmp/x", Remote: "r:p/q"}},
	}
	f := newFixture(t, cfg, &mockRclone{})

	require.NoError(t, f.mgr.StartAll(false))
	f.mgr.Wait()

	assert.Contains(t, f.mgr.Status(), "unnamed")
}
