package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchworks/dispatch/internal/instance"
	"github.com/dispatchworks/dispatch/internal/store"
)

type fakeWorktrees struct {
	removed    []string
	dirty      map[string]bool
	failRemove error
}

func (f *fakeWorktrees) Remove(path string) error {
	if f.failRemove != nil {
		return f.failRemove
	}
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeWorktrees) HasUncommittedChanges(path string) (bool, error) {
	return f.dirty[path], nil
}

type fakeSessions struct {
	killed        []string
	serversKilled []string
	failKill      error
}

func (f *fakeSessions) Kill(socket, name string) error {
	if f.failKill != nil {
		return f.failKill
	}
	f.killed = append(f.killed, name)
	return nil
}

func (f *fakeSessions) KillServer(socket string) error {
	f.serversKilled = append(f.serversKilled, socket)
	return nil
}

type fakeAssistants struct {
	terminated []int
	fail       error
}

func (f *fakeAssistants) Terminate(pid int) error {
	if f.fail != nil {
		return f.fail
	}
	f.terminated = append(f.terminated, pid)
	return nil
}

type sweepEnv struct {
	store      store.Store
	worktrees  *fakeWorktrees
	sessions   *fakeSessions
	assistants *fakeAssistants
	sweeper    *Sweeper
}

func newSweepEnv(t *testing.T, force bool) *sweepEnv {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := &sweepEnv{store: s}
	e.worktrees = &fakeWorktrees{dirty: make(map[string]bool)}
	e.sessions = &fakeSessions{}
	e.assistants = &fakeAssistants{}
	e.sweeper = NewSweeper(SweeperDeps{
		Store:      s,
		Worktrees:  e.worktrees,
		Sessions:   e.sessions,
		Assistants: e.assistants,
		Force:      force,
	})

	// Everything recorded on a row counts as still present unless a test
	// says otherwise. No sockets exist unless a test lists some.
	e.sweeper.pathExists = func(string) bool { return true }
	e.sweeper.sessionAlive = func(string, string) bool { return true }
	e.sweeper.pidAlive = func(int) bool { return true }
	e.sweeper.serverAlive = func(string) bool { return true }
	e.sweeper.listSockets = func() ([]string, error) { return nil, nil }
	return e
}

func (e *sweepEnv) addInstance(t *testing.T, id string, status instance.Status, worktree, session string, pid int) {
	t.Helper()
	now := time.Now()
	inst := &instance.Instance{
		ID:           id,
		Kind:         instance.KindCoding,
		Status:       status,
		WorktreePath: worktree,
		SessionName:  session,
		PID:          pid,
		CreatedAt:    now,
		LastActivity: now,
	}
	if status == instance.StatusTerminated {
		inst.TerminatedAt = &now
	}
	require.NoError(t, e.store.CreateInstance(context.Background(), inst))
}

func TestSweepReleasesOrphans(t *testing.T) {
	e := newSweepEnv(t, false)
	e.addInstance(t, "work-1-0-aaaa1111", instance.StatusTerminated, "/wt/work-1", "work-1-0-aaaa1111", 4321)

	report, err := e.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Leftovers)
	assert.Equal(t, 3, report.Count(OutcomeRemoved))
	assert.Equal(t, 0, report.Count(OutcomeFailed))

	assert.Equal(t, []int{4321}, e.assistants.terminated)
	assert.Equal(t, []string{"work-1-0-aaaa1111"}, e.sessions.killed)
	assert.Equal(t, []string{"/wt/work-1"}, e.worktrees.removed)
}

func TestSweepNeverTouchesLiveInstances(t *testing.T) {
	e := newSweepEnv(t, false)
	e.addInstance(t, "work-1-0-aaaa1111", instance.StatusStarted, "/wt/work-1", "work-1-0-aaaa1111", 4321)
	e.addInstance(t, "work-2-0-bbbb2222", instance.StatusWaitingReview, "/wt/work-2", "work-2-0-bbbb2222", 4322)

	report, err := e.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 0, report.Leftovers)
	assert.Empty(t, report.Results)
	assert.Empty(t, e.assistants.terminated)
	assert.Empty(t, e.sessions.killed)
	assert.Empty(t, e.worktrees.removed)
}

func TestSweepKillsOrphanedServers(t *testing.T) {
	e := newSweepEnv(t, false)
	e.addInstance(t, "work-1-0-aaaa1111", instance.StatusTerminated, "", "", 0)
	e.addInstance(t, "work-2-0-bbbb2222", instance.StatusStarted, "/wt/work-2", "work-2-0-bbbb2222", 4322)
	e.sweeper.listSockets = func() ([]string, error) {
		return []string{
			"dispatch",
			"dispatch-work-1-0-aaaa1111",
			"dispatch-work-2-0-bbbb2222",
			"dispatch-work-8-0-dead8888",
			"dispatch-work-9-0-gone9999",
		}, nil
	}
	// work-8's socket file is stale, no server behind it.
	e.sweeper.serverAlive = func(socket string) bool {
		return socket != "dispatch-work-8-0-dead8888"
	}

	report, err := e.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	// work-1 is terminated with no recorded resources, work-9 has no row
	// at all; both servers go. The live work-2, the global socket and the
	// stale socket are left alone.
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Leftovers)
	assert.Equal(t, 2, report.Count(OutcomeRemoved))
	assert.ElementsMatch(t,
		[]string{"dispatch-work-1-0-aaaa1111", "dispatch-work-9-0-gone9999"},
		e.sessions.serversKilled)
	assert.Empty(t, e.sessions.killed)
}

func TestSweepSessionKillCoversItsServer(t *testing.T) {
	e := newSweepEnv(t, false)
	e.addInstance(t, "work-1-0-aaaa1111", instance.StatusTerminated, "", "work-1-0-aaaa1111", 0)
	e.sweeper.listSockets = func() ([]string, error) {
		return []string{"dispatch-work-1-0-aaaa1111"}, nil
	}

	report, err := e.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, "session", report.Results[0].Resource)
	assert.Equal(t, []string{"work-1-0-aaaa1111"}, e.sessions.killed)
	assert.Empty(t, e.sessions.serversKilled)
}

func TestSnapshotSkipsAlreadyReleased(t *testing.T) {
	e := newSweepEnv(t, false)
	e.addInstance(t, "work-1-0-aaaa1111", instance.StatusTerminated, "/wt/work-1", "work-1-0-aaaa1111", 4321)
	e.sweeper.pathExists = func(string) bool { return false }
	e.sweeper.sessionAlive = func(string, string) bool { return false }
	e.sweeper.pidAlive = func(int) bool { return false }

	scanned, leftovers, err := e.sweeper.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, scanned)
	assert.Empty(t, leftovers)
}

func TestSweepSkipsDirtyWorktree(t *testing.T) {
	e := newSweepEnv(t, false)
	e.addInstance(t, "work-1-0-aaaa1111", instance.StatusTerminated, "/wt/work-1", "", 0)
	e.worktrees.dirty["/wt/work-1"] = true

	report, err := e.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeSkipped, report.Results[0].Outcome)
	assert.Equal(t, "uncommitted changes", report.Results[0].Reason)
	assert.Empty(t, e.worktrees.removed)
}

func TestSweepForceRemovesDirtyWorktree(t *testing.T) {
	e := newSweepEnv(t, true)
	e.addInstance(t, "work-1-0-aaaa1111", instance.StatusTerminated, "/wt/work-1", "", 0)
	e.worktrees.dirty["/wt/work-1"] = true

	report, err := e.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeRemoved, report.Results[0].Outcome)
	assert.Equal(t, []string{"/wt/work-1"}, e.worktrees.removed)
}

func TestSweepRecordsFailuresAndContinues(t *testing.T) {
	e := newSweepEnv(t, false)
	e.addInstance(t, "work-1-0-aaaa1111", instance.StatusTerminated, "/wt/work-1", "work-1-0-aaaa1111", 4321)
	e.sessions.failKill = errors.New("server exited unexpectedly")

	report, err := e.sweeper.Sweep(context.Background())
	require.NoError(t, err, "release failures go into the report, not the error")

	require.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.Count(OutcomeRemoved))
	assert.Equal(t, 1, report.Count(OutcomeFailed))

	var failed Result
	for _, res := range report.Results {
		if res.Outcome == OutcomeFailed {
			failed = res
		}
	}
	assert.Equal(t, "session", failed.Resource)
	assert.Contains(t, failed.Reason, "server exited unexpectedly")

	// The worktree after the failing session was still attempted.
	assert.Equal(t, []string{"/wt/work-1"}, e.worktrees.removed)
}

func TestSweepEmptyStore(t *testing.T) {
	e := newSweepEnv(t, false)

	report, err := e.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, report.Leftovers)
	assert.Empty(t, report.Results)
}
