package tmux

import (
	"fmt"
	"os"
	"strings"

	"github.com/dispatchworks/dispatch/internal/errors"
)

// Session defaults. Wide panes keep assistant output from wrapping
// mid-word in captured scrollback.
const (
	DefaultWidth        = 200
	DefaultHeight       = 50
	DefaultHistoryLimit = 10000
)

// SessionOptions configures session creation.
type SessionOptions struct {
	Socket string
	Name   string
	Dir    string
	Width  int
	Height int
	// HistoryLimit is the scrollback retained per pane.
	HistoryLimit int
	// Env entries (KEY=VALUE) appended to the inherited environment.
	Env []string
}

// Session describes a created session.
type Session struct {
	Socket string
	Name   string
	// PID of the pane's shell process.
	PID int
}

// NewSession creates a detached session on the given socket, bound to
// the working directory. Any leftover session with the same name from a
// previous run is killed first.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Width == 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height == 0 {
		opts.Height = DefaultHeight
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	_ = CommandWithSocket(opts.Socket, "kill-session", "-t", opts.Name).Run()

	createCmd := CommandWithSocket(opts.Socket,
		"new-session",
		"-d",
		"-s", opts.Name,
		"-x", fmt.Sprintf("%d", opts.Width),
		"-y", fmt.Sprintf("%d", opts.Height),
		"-c", opts.Dir,
	)
	// Inherit the full environment (assistant credentials live there)
	// and make sure TERM supports colors.
	createCmd.Env = append(os.Environ(), "TERM=xterm-256color")
	createCmd.Env = append(createCmd.Env, opts.Env...)

	if output, err := createCmd.CombinedOutput(); err != nil {
		return nil, errors.Session(errors.CodeSessionCreateFailed,
			fmt.Sprintf("failed to create tmux session %s", opts.Name),
			errors.WithCause(fmt.Errorf("%w\n%s", err, string(output))))
	}

	_ = CommandWithSocket(opts.Socket, "set-option", "-t", opts.Name, "history-limit", fmt.Sprintf("%d", opts.HistoryLimit)).Run()
	_ = CommandWithSocket(opts.Socket, "set-option", "-t", opts.Name, "default-terminal", "xterm-256color").Run()

	return &Session{
		Socket: opts.Socket,
		Name:   opts.Name,
		PID:    GetPanePID(opts.Socket, opts.Name),
	}, nil
}

// KillSession terminates a session and its socket's server. A session
// that is already gone is not an error.
func KillSession(socket, name string) error {
	if output, err := CommandWithSocket(socket, "kill-session", "-t", name).CombinedOutput(); err != nil {
		if isSessionNotFound(string(output)) {
			return nil
		}
		return errors.Session(errors.CodeSessionNotFound,
			fmt.Sprintf("failed to kill tmux session %s", name),
			errors.WithCause(fmt.Errorf("%w\n%s", err, string(output))))
	}
	// Take the per-instance server down too so no empty server lingers.
	_ = KillServer(socket)
	return nil
}

// HasSession reports whether a session exists on the socket.
func HasSession(socket, name string) bool {
	return CommandWithSocket(socket, "has-session", "-t", name).Run() == nil
}

// SendKeys delivers text into the session followed by Enter. The text is
// sent literally so tmux does not interpret key names inside it.
func SendKeys(socket, name, text string) error {
	if output, err := CommandWithSocket(socket, "send-keys", "-t", name, "-l", text).CombinedOutput(); err != nil {
		return sendKeysError(name, err, output)
	}
	if output, err := CommandWithSocket(socket, "send-keys", "-t", name, "Enter").CombinedOutput(); err != nil {
		return sendKeysError(name, err, output)
	}
	return nil
}

func sendKeysError(name string, err error, output []byte) error {
	code := errors.CodeSessionInputFailed
	if isSessionNotFound(string(output)) {
		code = errors.CodeSessionNotFound
	}
	return errors.Session(code,
		fmt.Sprintf("failed to send input to tmux session %s", name),
		errors.WithCause(fmt.Errorf("%w\n%s", err, string(output))))
}

// CapturePane returns the session's visible pane plus scrollback with
// ANSI escape sequences preserved.
func CapturePane(socket, name string) (string, error) {
	cmd := CommandWithSocket(socket,
		"capture-pane",
		"-t", name,
		"-p",
		"-e",
		"-S", "-",
	)
	output, err := cmd.Output()
	if err != nil {
		return "", errors.Session(errors.CodeSessionNotFound,
			fmt.Sprintf("failed to capture tmux session %s", name),
			errors.WithCause(err))
	}
	return string(output), nil
}

// isSessionNotFound matches the tmux error strings that mean the session
// or its server is already gone.
func isSessionNotFound(output string) bool {
	out := strings.ToLower(output)
	return strings.Contains(out, "session not found") ||
		strings.Contains(out, "no server running") ||
		strings.Contains(out, "can't find session")
}
