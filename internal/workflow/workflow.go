// Package workflow orchestrates the lifecycle of coding and review
// instances. Execute provisions the worktree, session, assistant and
// control server for an instance and tracks its status in the store;
// Terminate runs the compensations that release them.
//
// The engine never auto-rolls-back a partially provisioned instance.
// A failed Execute marks the instance terminated and re-throws the
// triggering error; releasing whatever was created is the job of an
// explicit Terminate or a reconciliation sweep.
package workflow

import (
	"context"
	"time"

	"github.com/dispatchworks/dispatch/internal/claude"
	"github.com/dispatchworks/dispatch/internal/control"
	"github.com/dispatchworks/dispatch/internal/instance"
	"github.com/dispatchworks/dispatch/internal/issue"
	"github.com/dispatchworks/dispatch/internal/pr"
	"github.com/dispatchworks/dispatch/internal/tmux"
	"github.com/dispatchworks/dispatch/internal/worktree"
)

// DefaultMaxReviews bounds review rounds per parent when the caller does
// not say otherwise.
const DefaultMaxReviews = 3

// DefaultExecutionTimeout is advisory metadata carried on coding
// executions; the engine does not enforce it.
const DefaultExecutionTimeout = 24 * time.Hour

// DefaultReviewTimeout is the advisory review deadline in the same sense.
const DefaultReviewTimeout = 30 * time.Minute

// DerivedState is the live view of an instance computed from the store.
type DerivedState struct {
	Phase       instance.Phase `json:"phase"`
	ReviewCount int            `json:"reviewCount"`
	MaxReviews  int            `json:"maxReviews"`

	// CurrentReviewInstanceID names the live review child, empty when
	// none is in flight.
	CurrentReviewInstanceID string `json:"currentReviewInstanceId,omitempty"`

	LastActivity time.Time `json:"lastActivity"`
}

// Resources are the external handles provisioned for an instance.
type Resources struct {
	WorktreePath     string `json:"worktreePath"`
	SessionName      string `json:"sessionName"`
	Branch           string `json:"branch"`
	AssistantPID     int    `json:"assistantPid"`
	ControlServerPID int    `json:"controlServerPid"`
}

// Execution describes a provisioned instance as returned by Execute.
// Config echoes the configuration the instance was started with
// (*CodingConfig or *ReviewConfig).
type Execution struct {
	ID        string
	Kind      instance.Kind
	Status    instance.Status
	State     DerivedState
	Resources Resources
	Config    any
}

// Worktrees is the slice of the worktree manager the workflows consume.
type Worktrees interface {
	RepoDir() string
	PathFor(instanceID string) string
	Create(path, branch, base string) (*worktree.Worktree, error)
	Remove(path string) error
	Push(path string, force bool) error
	ChangedFiles(path, base string) ([]string, error)
	DefaultBranch() string
	DeleteBranch(branch string) error
}

// Sessions provisions and addresses tmux sessions.
type Sessions interface {
	New(opts tmux.SessionOptions) (*tmux.Session, error)
	Kill(socket, name string) error
	Send(socket, name, text string) error
}

// Assistants launches and terminates assistant processes.
type Assistants interface {
	Launch(opts claude.LaunchOptions) (*claude.Process, error)
	Terminate(pid int) error
}

// ControlServers launches per-instance control sidecars.
type ControlServers interface {
	Launch(ctx context.Context, opts control.LaunchOptions) (*control.Server, error)
}

// Issues resolves issue context for prompts.
type Issues interface {
	Get(ctx context.Context, number int) (*issue.Context, error)
}

// PullRequests opens pull requests for finished work.
type PullRequests interface {
	Create(ctx context.Context, opts pr.Options) (*pr.PullRequest, error)
}

// TmuxSessions adapts the tmux package to the Sessions interface. The
// fields supply session geometry where the caller left it unset.
type TmuxSessions struct {
	Width        int
	Height       int
	HistoryLimit int
}

func (s TmuxSessions) New(opts tmux.SessionOptions) (*tmux.Session, error) {
	if opts.Width == 0 {
		opts.Width = s.Width
	}
	if opts.Height == 0 {
		opts.Height = s.Height
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = s.HistoryLimit
	}
	return tmux.NewSession(opts)
}

// Kill collects the session's process tree before killing it so
// stragglers the pane shell re-parented still die afterwards.
func (TmuxSessions) Kill(socket, name string) error {
	pids := tmux.CollectProcessTree(socket, name)
	if err := tmux.KillSession(socket, name); err != nil {
		return err
	}
	tmux.EnsureProcessesKilled(pids)
	return nil
}

func (TmuxSessions) KillServer(socket string) error {
	return tmux.KillServer(socket)
}

func (TmuxSessions) Send(socket, name, text string) error {
	return tmux.SendKeys(socket, name, text)
}

// identityEnv layers the engine-assigned identity keys over caller
// overrides. Callers can extend the environment but never impersonate
// another instance.
func identityEnv(overrides map[string]string, instanceID, serverType string) map[string]string {
	env := make(map[string]string, len(overrides)+3)
	for k, v := range overrides {
		env[k] = v
	}
	env[control.EnvInstanceID] = instanceID
	env[control.EnvServerType] = serverType
	env[control.EnvAgentID] = instanceID
	return env
}
