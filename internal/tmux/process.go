package tmux

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultGracefulStopTimeout is how long shutdown waits after Ctrl+C
// before force-killing. Shared by every teardown path so instances stop
// the same way everywhere.
const DefaultGracefulStopTimeout = 500 * time.Millisecond

// GetPanePID returns the PID of the process running in the session's
// pane, or 0 when it cannot be determined (e.g. the session is gone).
func GetPanePID(socket, session string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := CommandContextWithSocket(ctx, socket, "display-message", "-t", session, "-p", "#{pane_pid}")
	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0
	}
	return pid
}

// GetDescendantPIDs returns all descendant PIDs of pid, found by walking
// pgrep -P recursively.
func GetDescendantPIDs(pid int) []int {
	if pid <= 0 {
		return nil
	}
	return getDescendantPIDs(pid)
}

func getDescendantPIDs(pid int) []int {
	cmd := exec.Command("pgrep", "-P", strconv.Itoa(pid))
	output, err := cmd.Output()
	if err != nil {
		return nil
	}

	var descendants []int
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		childPID, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		descendants = append(descendants, childPID)
		descendants = append(descendants, getDescendantPIDs(childPID)...)
	}
	return descendants
}

// IsProcessAlive reports whether a process exists. kill(pid, 0) checks
// existence without delivering a signal.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// KillProcessTree sends SIGKILL to a process and all its descendants,
// deepest children first so nothing is orphaned mid-walk.
func KillProcessTree(pid int) {
	if pid <= 0 {
		return
	}

	descendants := GetDescendantPIDs(pid)
	for i := len(descendants) - 1; i >= 0; i-- {
		if IsProcessAlive(descendants[i]) {
			_ = syscall.Kill(descendants[i], syscall.SIGKILL)
		}
	}

	if IsProcessAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

// KillServer kills the tmux server behind a socket, taking down every
// session on it.
func KillServer(socket string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return CommandContextWithSocket(ctx, socket, "kill-server").Run()
}

// CollectProcessTree returns the pane PID and all its descendants. Call
// it before starting a shutdown so the full tree is known while the
// session still exists.
func CollectProcessTree(socket, session string) []int {
	panePID := GetPanePID(socket, session)
	if panePID <= 0 {
		return nil
	}

	pids := []int{panePID}
	pids = append(pids, GetDescendantPIDs(panePID)...)
	return pids
}

// EnsureProcessesKilled force-kills any of the given PIDs that are still
// alive, including descendants they spawned since collection.
func EnsureProcessesKilled(pids []int) {
	for _, pid := range pids {
		if IsProcessAlive(pid) {
			KillProcessTree(pid)
		}
	}
}

// WaitForProcessExit polls until pid exits or the timeout elapses.
// Returns true if the process is gone.
func WaitForProcessExit(pid int, timeout time.Duration) bool {
	if pid <= 0 || !IsProcessAlive(pid) {
		return true
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return !IsProcessAlive(pid)
		case <-ticker.C:
			if !IsProcessAlive(pid) {
				return true
			}
		}
	}
}
