// Package claude starts and stops the assistant CLI process inside an
// instance's tmux session.
//
// The assistant is not spawned directly: its command line is typed into
// the session's shell, so the process lives under the pane and survives
// orchestrator restarts. The PID is resolved afterwards by polling the
// pane's child processes.
package claude

import (
	"fmt"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dispatchworks/dispatch/internal/logging"
	"github.com/dispatchworks/dispatch/internal/tmux"
)

// DefaultBinary is the assistant CLI executable.
const DefaultBinary = "claude"

// DefaultPIDTimeout bounds how long Launch waits for the assistant
// process to appear under the pane shell.
const DefaultPIDTimeout = 10 * time.Second

// LaunchOptions configures an assistant launch.
type LaunchOptions struct {
	Socket  string
	Session string
	Binary  string
	// Args replace the default CLI arguments when non-empty.
	Args []string
	// Env is prefixed onto the command line so the assistant sees it
	// regardless of the session's environment.
	Env        map[string]string
	PIDTimeout time.Duration
}

// Process identifies a launched assistant.
type Process struct {
	PID     int
	Session string
}

// Launcher launches and terminates assistant processes. A positive
// PIDTimeout replaces DefaultPIDTimeout for launches that do not set
// their own.
type Launcher struct {
	PIDTimeout time.Duration

	logger *logging.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(logger *logging.Logger) *Launcher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Launcher{logger: logger}
}

// Launch types the assistant command into the session and resolves the
// resulting process id. The session must already exist.
func (l *Launcher) Launch(opts LaunchOptions) (*Process, error) {
	command := buildCommand(opts)

	if err := tmux.SendKeys(opts.Socket, opts.Session, command); err != nil {
		return nil, fmt.Errorf("failed to start assistant in session %s: %w", opts.Session, err)
	}

	timeout := opts.PIDTimeout
	if timeout == 0 {
		timeout = l.PIDTimeout
	}
	if timeout == 0 {
		timeout = DefaultPIDTimeout
	}
	pid := l.waitForPID(opts.Socket, opts.Session, timeout)
	if pid == 0 {
		return nil, fmt.Errorf("assistant process did not appear in session %s within %s", opts.Session, timeout)
	}

	l.logger.Info("assistant started", "session", opts.Session, "pid", pid)
	return &Process{PID: pid, Session: opts.Session}, nil
}

// Terminate stops an assistant process: SIGTERM, a grace period, then
// SIGKILL for the whole tree. A process that is already gone is not an
// error.
func (l *Launcher) Terminate(pid int) error {
	if pid <= 0 || !tmux.IsProcessAlive(pid) {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		l.logger.Warn("failed to signal assistant", "pid", pid, "err", err)
	}
	if tmux.WaitForProcessExit(pid, tmux.DefaultGracefulStopTimeout) {
		return nil
	}

	tmux.KillProcessTree(pid)
	if tmux.IsProcessAlive(pid) {
		return fmt.Errorf("assistant process %d survived SIGKILL", pid)
	}
	return nil
}

// waitForPID polls the pane's children until the assistant process
// appears or the timeout elapses. Returns 0 on timeout.
func (l *Launcher) waitForPID(socket, session string, timeout time.Duration) int {
	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return 0
		case <-ticker.C:
			panePID := tmux.GetPanePID(socket, session)
			if panePID <= 0 {
				continue
			}
			if children := tmux.GetDescendantPIDs(panePID); len(children) > 0 {
				return children[0]
			}
		}
	}
}

// buildCommand assembles the shell command line: env assignments in
// sorted key order, then the binary and its arguments.
func buildCommand(opts LaunchOptions) string {
	binary := opts.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	args := opts.Args
	if len(args) == 0 {
		args = []string{"--dangerously-skip-permissions"}
	}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1+len(args))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, opts.Env[k]))
	}
	parts = append(parts, binary)
	parts = append(parts, args...)
	return strings.Join(parts, " ")
}
