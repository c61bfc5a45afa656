// Package control launches the per-instance MCP control server. The
// server is a detached sidecar process the assistant's tooling connects
// to; a completed MCP initialize handshake is the launch signal.
package control

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dispatchworks/dispatch/internal/logging"
)

// Identity environment keys. The engine assigns these at launch; caller
// overrides never win.
const (
	EnvInstanceID = "DISPATCH_INSTANCE_ID"
	EnvServerType = "DISPATCH_SERVER_TYPE"
	EnvAgentID    = "DISPATCH_AGENT_ID"
)

// Server type values carried in EnvServerType.
const (
	ServerTypeCoding = "coding"
	ServerTypeReview = "review"
)

// LaunchOptions configures one control server.
type LaunchOptions struct {
	// AgentID is the instance id the server fronts.
	AgentID string

	// Workspace is the instance worktree, used as the server's working
	// directory and passed via --workspace.
	Workspace string

	// Branch is the instance branch.
	Branch string

	// Session is the tmux session name the server can address.
	Session string

	// IssueNumber is passed via --issue when non-zero.
	IssueNumber int

	// ServerType selects coding or review tooling. Defaults to coding.
	ServerType string

	// Env holds caller environment overrides. Identity keys are replaced
	// with engine-assigned values.
	Env map[string]string
}

// Server is a running control server with a live MCP session.
type Server struct {
	AgentID string
	PID     int

	session *mcp.ClientSession
	cmd     *exec.Cmd
}

// Session exposes the MCP client session for tool calls.
func (s *Server) Session() *mcp.ClientSession {
	return s.session
}

// Close shuts down the MCP session and signals the server process.
func (s *Server) Close() error {
	var err error
	if s.session != nil {
		err = s.session.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		// Tolerate an already-exited process.
		_ = s.cmd.Process.Kill()
	}
	return err
}

// Launcher starts control servers from a fixed binary path.
type Launcher struct {
	binPath string
	logger  *logging.Logger
}

// NewLauncher creates a Launcher for the given server binary. A nil
// logger discards output.
func NewLauncher(binPath string, logger *logging.Logger) *Launcher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Launcher{binPath: binPath, logger: logger}
}

// Launch starts a detached control server and performs the MCP
// handshake. The returned Server holds the live session; any failure
// surfaces as a "Failed to launch MCP server" error.
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) (*Server, error) {
	if l.binPath == "" {
		return nil, fmt.Errorf("Failed to launch MCP server: no server binary configured")
	}
	if opts.AgentID == "" || opts.Workspace == "" || opts.Session == "" {
		return nil, fmt.Errorf("Failed to launch MCP server: agent id, workspace and session are required")
	}

	cmd := exec.Command(l.binPath, buildArgs(opts)...)
	cmd.Dir = opts.Workspace
	cmd.Env = buildEnv(os.Environ(), opts)
	cmd.Stderr = io.Discard
	detach(cmd)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "dispatch",
		Version: "1.0.0",
	}, nil)

	// CommandTransport starts the process and pipes stdin/stdout for the
	// JSON-RPC stream; a successful Connect means initialize completed.
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("Failed to launch MCP server: %w", err)
	}

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}

	l.logger.Info("control server started",
		"agent_id", opts.AgentID, "pid", pid, "server_type", serverType(opts))

	return &Server{
		AgentID: opts.AgentID,
		PID:     pid,
		session: session,
		cmd:     cmd,
	}, nil
}

func buildArgs(opts LaunchOptions) []string {
	args := []string{
		"--agent-id", opts.AgentID,
		"--workspace", opts.Workspace,
		"--branch", opts.Branch,
		"--session", opts.Session,
	}
	if opts.IssueNumber > 0 {
		args = append(args, "--issue", strconv.Itoa(opts.IssueNumber))
	}
	return args
}

// buildEnv layers caller overrides onto the base environment, then the
// identity keys on top so they are always engine-assigned.
func buildEnv(base []string, opts LaunchOptions) []string {
	env := append([]string(nil), base...)

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	env = append(env,
		fmt.Sprintf("%s=%s", EnvInstanceID, opts.AgentID),
		fmt.Sprintf("%s=%s", EnvServerType, serverType(opts)),
		fmt.Sprintf("%s=%s", EnvAgentID, opts.AgentID),
	)
	return env
}

func serverType(opts LaunchOptions) string {
	if opts.ServerType == "" {
		return ServerTypeCoding
	}
	return opts.ServerType
}
