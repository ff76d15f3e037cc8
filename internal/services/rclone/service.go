// Package rclone executes the rclone binary and streams its progress output.
package rclone

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nityam2007/rclone-backup-manager/internal/models"
	"github.com/rs/zerolog"
)

const binaryName = "rclone"

// percentPattern matches the coarse NN% token rclone embeds in its
// progress lines. Values may go backwards between lines; the last match
// always wins.
var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// EventSink receives progress and log events from a running copy. Calls
// are made synchronously from the goroutine driving the process's output
// loop, not necessarily the caller's.
type EventSink interface {
	Progress(percent float64, line string)
	LogLine(line string)
}

// Service defines the interface for rclone operations.
type Service interface {
	// Copy runs `rclone copy source dest --progress` plus extras and
	// returns the process exit code. It never returns an error: every
	// failure path resolves to an integer code (127 when the binary is
	// missing, 1 for any other local failure).
	Copy(ctx context.Context, source, dest string, extras []string, events EventSink) int
	// Version returns the first line of `rclone version` output.
	Version(ctx context.Context) (string, error)
	// ListRemotes returns the configured rclone remote names.
	ListRemotes(ctx context.Context) ([]string, error)
}

// Process is a started external process with merged stdout+stderr.
type Process interface {
	// Output is the merged output stream, readable until process exit.
	Output() io.Reader
	// Wait blocks until the process exits and returns its exit code.
	Wait() int
}

// CommandExecutor allows mocking process execution in tests.
type CommandExecutor interface {
	// Execute runs a command to completion and returns its combined output.
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
	// Stream starts a command with stdout and stderr merged into a single
	// pipe for line-by-line consumption.
	Stream(ctx context.Context, name string, args ...string) (Process, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Stream starts a command with both output streams writing to one pipe.
func (e *DefaultExecutor) Stream(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// The child holds its own copies of the write end; close ours so the
	// read end sees EOF when the process exits.
	_ = pw.Close()

	return &osProcess{cmd: cmd, out: pr}, nil
}

type osProcess struct {
	cmd *exec.Cmd
	out *os.File
}

func (p *osProcess) Output() io.Reader { return p.out }

func (p *osProcess) Wait() int {
	_ = p.out.Close()
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return models.ExitUnexpected
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new rclone service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new rclone service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Copy executes rclone copy with progress tracking.
func (s *Impl) Copy(ctx context.Context, source, dest string, extras []string, events EventSink) int {
	args := append([]string{"copy", source, dest, "--progress", "--stats=1s"}, extras...)

	cmdStr := quoteCommand(binaryName, args)
	s.logger.Info().Str("command", cmdStr).Msg("executing rclone copy")
	events.LogLine("$ " + cmdStr + "\n\n")

	proc, err := s.executor.Stream(ctx, binaryName, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			msg := "rclone not found. Please install rclone and add it to PATH."
			s.logger.Error().Str("source", source).Msg(msg)
			events.LogLine("ERROR: " + msg + "\n")
			events.Progress(0, msg)
			return models.ExitToolNotFound
		}
		msg := fmt.Sprintf("Unexpected error: %v", err)
		s.logger.Error().Err(err).Str("source", source).Msg("failed to start rclone")
		events.LogLine("ERROR: " + msg + "\n")
		events.Progress(0, msg)
		return models.ExitUnexpected
	}

	percent := 0.0
	scanner := bufio.NewScanner(proc.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.ToValidUTF8(scanner.Text(), string(utf8.RuneError))
		events.LogLine(line + "\n")

		if m := percentPattern.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				percent = v
			}
		}
		events.Progress(percent, line)
	}

	if err := scanner.Err(); err != nil {
		msg := fmt.Sprintf("Unexpected error: %v", err)
		s.logger.Error().Err(err).Str("source", source).Msg("error reading rclone output")
		events.LogLine("ERROR: " + msg + "\n")
		events.Progress(percent, msg)
		_ = proc.Wait()
		return models.ExitUnexpected
	}

	rc := proc.Wait()

	events.Progress(100, fmt.Sprintf("Finished (exit code: %d)", rc))

	status := "SUCCESS"
	if rc != 0 {
		status = "FAILED"
	}
	events.LogLine(fmt.Sprintf("\n[%s] Exit code: %d\n", status, rc))

	s.logger.Info().Int("exit_code", rc).Str("source", source).Msg("rclone copy finished")
	return rc
}

// Version checks whether rclone is installed and returns its version line.
func (s *Impl) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := s.executor.Execute(ctx, binaryName, "version")
	if err != nil {
		return "", fmt.Errorf("rclone not installed: %w", err)
	}

	line, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(line), nil
}

// ListRemotes returns the configured rclone remotes.
func (s *Impl) ListRemotes(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	output, err := s.executor.Execute(ctx, binaryName, "listremotes")
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}

	var remotes []string
	for _, line := range strings.Split(string(output), "\n") {
		if r := strings.TrimSpace(line); r != "" {
			remotes = append(remotes, r)
		}
	}
	return remotes, nil
}

// quoteCommand renders a command line with shell quoting, for logging only.
func quoteCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>()*?[]#~%!{}`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
