package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dispatchworks/dispatch/internal/claude"
	"github.com/dispatchworks/dispatch/internal/control"
	"github.com/dispatchworks/dispatch/internal/issue"
	"github.com/dispatchworks/dispatch/internal/pr"
	"github.com/dispatchworks/dispatch/internal/store"
	"github.com/dispatchworks/dispatch/internal/tmux"
	"github.com/dispatchworks/dispatch/internal/worktree"
)

// Fakes for the external adapters. The store is the real SQLite
// implementation so the tests also exercise read-your-writes behavior.

type createCall struct {
	path, branch, base string
}

type fakeWorktrees struct {
	mu      sync.Mutex
	baseDir string

	created         []createCall
	removed         []string
	deletedBranches []string

	failCreate error
	failRemove error
	failPush   error

	changedFiles []string
}

func (f *fakeWorktrees) RepoDir() string { return f.baseDir }

func (f *fakeWorktrees) PathFor(instanceID string) string {
	return filepath.Join(f.baseDir, instanceID)
}

func (f *fakeWorktrees) Create(path, branch, base string) (*worktree.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.created = append(f.created, createCall{path: path, branch: branch, base: base})
	return &worktree.Worktree{Path: path, Branch: branch}, nil
}

func (f *fakeWorktrees) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemove != nil {
		return f.failRemove
	}
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeWorktrees) Push(path string, force bool) error { return f.failPush }

func (f *fakeWorktrees) ChangedFiles(path, base string) ([]string, error) {
	return f.changedFiles, nil
}

func (f *fakeWorktrees) DefaultBranch() string { return "main" }

func (f *fakeWorktrees) DeleteBranch(branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedBranches = append(f.deletedBranches, branch)
	return nil
}

type sentMessage struct {
	socket, name, text string
}

type fakeSessions struct {
	mu sync.Mutex

	created []tmux.SessionOptions
	killed  []string
	sent    []sentMessage

	failNew  error
	failKill error
	failSend error
}

func (f *fakeSessions) New(opts tmux.SessionOptions) (*tmux.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNew != nil {
		return nil, f.failNew
	}
	f.created = append(f.created, opts)
	return &tmux.Session{Socket: opts.Socket, Name: opts.Name, PID: 4000 + len(f.created)}, nil
}

func (f *fakeSessions) Kill(socket, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKill != nil {
		return f.failKill
	}
	f.killed = append(f.killed, name)
	return nil
}

func (f *fakeSessions) Send(socket, name, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return f.failSend
	}
	f.sent = append(f.sent, sentMessage{socket: socket, name: name, text: text})
	return nil
}

func (f *fakeSessions) sentTo(name string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out
}

type fakeAssistants struct {
	mu sync.Mutex

	launched   []claude.LaunchOptions
	terminated []int

	failLaunch    error
	failTerminate error
	nextPID       int
}

func (f *fakeAssistants) Launch(opts claude.LaunchOptions) (*claude.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLaunch != nil {
		return nil, f.failLaunch
	}
	f.launched = append(f.launched, opts)
	f.nextPID++
	return &claude.Process{PID: 5000 + f.nextPID, Session: opts.Session}, nil
}

func (f *fakeAssistants) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTerminate != nil {
		return f.failTerminate
	}
	f.terminated = append(f.terminated, pid)
	return nil
}

type fakeControl struct {
	mu       sync.Mutex
	launched []control.LaunchOptions
	fail     error
}

func (f *fakeControl) Launch(ctx context.Context, opts control.LaunchOptions) (*control.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.launched = append(f.launched, opts)
	return &control.Server{AgentID: opts.AgentID, PID: 7000 + len(f.launched)}, nil
}

type fakeIssues struct {
	issues map[int]*issue.Context
	fail   error
}

func (f *fakeIssues) Get(ctx context.Context, number int) (*issue.Context, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	ic, ok := f.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d not found", number)
	}
	return ic, nil
}

type fakePRs struct {
	mu      sync.Mutex
	created []pr.Options
	fail    error
	next    *pr.PullRequest
}

func (f *fakePRs) Create(ctx context.Context, opts pr.Options) (*pr.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.created = append(f.created, opts)
	if f.next != nil {
		return f.next, nil
	}
	return &pr.PullRequest{URL: "https://github.com/acme/widgets/pull/99", Number: 99}, nil
}

// env is the whole fake-backed engine wired against one SQLite store.
type env struct {
	store      store.Store
	worktrees  *fakeWorktrees
	sessions   *fakeSessions
	assistants *fakeAssistants
	control    *fakeControl
	issues     *fakeIssues
	prs        *fakePRs

	coding *Coding
	review *Review
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err, "opening store should succeed")
	t.Cleanup(func() { s.Close() })

	e := &env{store: s}
	e.worktrees = &fakeWorktrees{baseDir: t.TempDir()}
	e.sessions = &fakeSessions{}
	e.assistants = &fakeAssistants{}
	e.control = &fakeControl{}
	e.issues = &fakeIssues{issues: map[int]*issue.Context{
		123: {
			Number: 123,
			Title:  "Login times out after 5 seconds",
			Body:   "Users on slow connections get logged out mid-request.",
			URL:    "https://github.com/acme/widgets/issues/123",
		},
	}}
	e.prs = &fakePRs{}

	e.coding = NewCoding(CodingDeps{
		Store:      e.store,
		Worktrees:  e.worktrees,
		Sessions:   e.sessions,
		Assistants: e.assistants,
		Control:    e.control,
		Issues:     e.issues,
		PRs:        e.prs,
	})
	e.review = NewReview(ReviewDeps{
		Store:      e.store,
		Worktrees:  e.worktrees,
		Sessions:   e.sessions,
		Assistants: e.assistants,
		Control:    e.control,
	})
	return e
}

// startCoding runs a coding Execute for issue 123 and fails the test on
// error.
func (e *env) startCoding(t *testing.T, cfg *CodingConfig) *Execution {
	t.Helper()
	if cfg == nil {
		cfg = &CodingConfig{BaseBranch: "main", IssueNumber: 123}
	}
	exec, err := e.coding.Execute(context.Background(), cfg)
	require.NoError(t, err, "coding execute should succeed")
	return exec
}
