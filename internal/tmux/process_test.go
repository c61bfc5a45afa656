package tmux

import (
	"os"
	"os/exec"
	"testing"
	"time"
)

func TestGetPanePIDInvalidSession(t *testing.T) {
	if pid := GetPanePID("nonexistent-socket-test", "nonexistent-session"); pid != 0 {
		t.Errorf("GetPanePID(nonexistent) = %d, want 0", pid)
	}
}

func TestGetDescendantPIDsInvalidPID(t *testing.T) {
	for _, pid := range []int{0, -1} {
		if pids := GetDescendantPIDs(pid); pids != nil {
			t.Errorf("GetDescendantPIDs(%d) = %v, want nil", pid, pids)
		}
	}
}

func TestGetDescendantPIDsWithChildren(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start sleep process: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	childPID := cmd.Process.Pid
	descendants := GetDescendantPIDs(os.Getpid())

	found := false
	for _, pid := range descendants {
		if pid == childPID {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("GetDescendantPIDs(%d) missing child %d, got %v", os.Getpid(), childPID, descendants)
	}
}

func TestIsProcessAlive(t *testing.T) {
	tests := []struct {
		name string
		pid  int
		want bool
	}{
		{"zero PID", 0, false},
		{"negative PID", -1, false},
		{"own process", os.Getpid(), true},
		{"nonexistent PID", 99999999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProcessAlive(tt.pid); got != tt.want {
				t.Errorf("IsProcessAlive(%d) = %v, want %v", tt.pid, got, tt.want)
			}
		})
	}
}

func TestKillProcessTreeInvalidPID(t *testing.T) {
	// Must not panic.
	KillProcessTree(0)
	KillProcessTree(-1)
}

func TestKillProcessTreeKillsProcess(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start sleep process: %v", err)
	}
	pid := cmd.Process.Pid

	if !IsProcessAlive(pid) {
		t.Fatalf("process %d should be alive after start", pid)
	}

	KillProcessTree(pid)
	_ = cmd.Wait()

	if IsProcessAlive(pid) {
		t.Errorf("process %d should be dead after KillProcessTree", pid)
	}
}

func TestKillServerNonexistentSocket(t *testing.T) {
	if err := KillServer("nonexistent-socket-for-test-12345"); err == nil {
		t.Error("KillServer on non-existent socket should return error")
	}
}

func TestCollectProcessTreeInvalidSession(t *testing.T) {
	if pids := CollectProcessTree("nonexistent-socket", "nonexistent-session"); pids != nil {
		t.Errorf("CollectProcessTree(nonexistent) = %v, want nil", pids)
	}
}

func TestEnsureProcessesKilledTolerant(t *testing.T) {
	// Must not panic on empty input or already-dead PIDs.
	EnsureProcessesKilled(nil)
	EnsureProcessesKilled([]int{})
	EnsureProcessesKilled([]int{99999999, 99999998})
}

func TestWaitForProcessExitAlreadyDead(t *testing.T) {
	if !WaitForProcessExit(99999999, 100*time.Millisecond) {
		t.Error("WaitForProcessExit should return true for non-existent process")
	}
	if !WaitForProcessExit(0, 100*time.Millisecond) {
		t.Error("WaitForProcessExit should return true for invalid PID")
	}
}

func TestWaitForProcessExitProcessExits(t *testing.T) {
	cmd := exec.Command("sleep", "0.1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	pid := cmd.Process.Pid

	// Reap in a goroutine; zombies still look alive to kill(pid, 0).
	go func() { _ = cmd.Wait() }()

	if !WaitForProcessExit(pid, 2*time.Second) {
		t.Error("WaitForProcessExit should return true when process exits within timeout")
	}
}
