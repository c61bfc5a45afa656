// Package tmux wraps the tmux CLI for instance sessions.
//
// Every instance gets its own tmux server through a per-instance socket
// named "dispatch-{instanceID}". A crash of one instance's server never
// affects another instance. The bare "dispatch" socket exists for global
// operations such as enumerating sockets during reconciliation.
package tmux

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
)

// SocketName is the tmux socket for global operations. Instances use
// per-instance sockets named "{SocketPrefix}-{instanceID}".
const SocketName = "dispatch"

// SocketPrefix prefixes every socket the engine creates.
const SocketPrefix = "dispatch"

// Command creates an exec.Cmd for tmux on the global socket.
func Command(args ...string) *exec.Cmd {
	return CommandWithSocket(SocketName, args...)
}

// CommandContext creates a context-aware exec.Cmd on the global socket.
func CommandContext(ctx context.Context, args ...string) *exec.Cmd {
	return CommandContextWithSocket(ctx, SocketName, args...)
}

// CommandWithSocket creates an exec.Cmd for tmux on a specific socket.
func CommandWithSocket(socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.Command("tmux", fullArgs...)
}

// CommandContextWithSocket creates a context-aware exec.Cmd on a
// specific socket.
func CommandContextWithSocket(ctx context.Context, socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.CommandContext(ctx, "tmux", fullArgs...)
}

// InstanceSocketName returns the socket name for an instance.
func InstanceSocketName(instanceID string) string {
	return SocketPrefix + "-" + instanceID
}

// IsInstanceSocket reports whether the socket name belongs to an
// instance rather than the global socket.
func IsInstanceSocket(socket string) bool {
	return strings.HasPrefix(socket, SocketPrefix+"-") && socket != SocketName
}

// ExtractInstanceID extracts the instance id from an instance socket
// name, or returns the empty string for other sockets.
func ExtractInstanceID(socket string) string {
	if id, found := strings.CutPrefix(socket, SocketPrefix+"-"); found {
		return id
	}
	return ""
}

// ServerAlive reports whether a tmux server answers on the socket. A
// socket file with no server behind it (stale after a crash) reports
// false.
func ServerAlive(socket string) bool {
	return CommandWithSocket(socket, "list-sessions").Run() == nil
}

// ListInstanceSockets returns the names of all dispatch sockets in the
// user's tmux socket directory, the global socket included when present.
func ListInstanceSockets() ([]string, error) {
	socketDir, err := getSocketDir()
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(socketDir, SocketPrefix+"-*"))
	if err != nil {
		return nil, err
	}

	defaultSocket := filepath.Join(socketDir, SocketName)
	if _, err := os.Stat(defaultSocket); err == nil {
		matches = append(matches, defaultSocket)
	}

	sockets := make([]string, 0, len(matches))
	for _, match := range matches {
		sockets = append(sockets, filepath.Base(match))
	}
	return sockets, nil
}

// getSocketDir returns the tmux socket directory for the current user.
// tmux keeps sockets under /tmp/tmux-{uid}/.
func getSocketDir() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join("/tmp", "tmux-"+u.Uid), nil
}
