// Package reconcile finds and releases resources that outlived their
// terminated instances: worktrees still on disk, sessions still alive,
// assistant processes still running. A sweep snapshots what lingers
// first, then releases only what the snapshot saw. Instances that are
// not terminated are never touched.
package reconcile

import (
	"context"
	"os"
	"strconv"

	"github.com/dispatchworks/dispatch/internal/instance"
	"github.com/dispatchworks/dispatch/internal/logging"
	"github.com/dispatchworks/dispatch/internal/tmux"
)

// Outcome classifies one release attempt.
type Outcome string

const (
	OutcomeRemoved Outcome = "removed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Leftover is a terminated instance with resources still present at
// snapshot time. Zero fields mean the resource was already gone.
type Leftover struct {
	InstanceID   string
	WorktreePath string
	SessionName  string
	PID          int

	// Socket names a per-instance tmux server to take down whole; set
	// when the instance is unknown to the store or its session name was
	// never recorded.
	Socket string
}

// Result records one release attempt for one resource.
type Result struct {
	InstanceID string  `json:"instance_id"`
	Resource   string  `json:"resource"`
	Target     string  `json:"target"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
}

// Report summarizes one sweep pass.
type Report struct {
	Scanned   int      `json:"scanned"`
	Leftovers int      `json:"leftovers"`
	Results   []Result `json:"results"`
}

// Count returns how many results ended with the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Stores is the slice of the store the sweeper reads.
type Stores interface {
	ListInstances(ctx context.Context) ([]*instance.Instance, error)
}

// Worktrees removes worktrees and reports local modifications.
type Worktrees interface {
	Remove(path string) error
	HasUncommittedChanges(path string) (bool, error)
}

// Sessions kills terminal sessions and their servers.
type Sessions interface {
	Kill(socket, name string) error
	KillServer(socket string) error
}

// Assistants terminates assistant processes.
type Assistants interface {
	Terminate(pid int) error
}

// Sweeper performs snapshot-and-release passes over the store.
type Sweeper struct {
	store      Stores
	worktrees  Worktrees
	sessions   Sessions
	assistants Assistants
	logger     *logging.Logger
	force      bool

	pathExists   func(path string) bool
	sessionAlive func(socket, name string) bool
	pidAlive     func(pid int) bool
	serverAlive  func(socket string) bool
	listSockets  func() ([]string, error)
}

// SweeperDeps collects the sweeper's collaborators.
type SweeperDeps struct {
	Store      Stores
	Worktrees  Worktrees
	Sessions   Sessions
	Assistants Assistants
	Logger     *logging.Logger

	// Force removes worktrees even when they hold uncommitted changes.
	Force bool
}

// NewSweeper creates a sweeper with live resource probes.
func NewSweeper(deps SweeperDeps) *Sweeper {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sweeper{
		store:      deps.Store,
		worktrees:  deps.Worktrees,
		sessions:   deps.Sessions,
		assistants: deps.Assistants,
		logger:     logger.With("component", "reconcile"),
		force:      deps.Force,
		pathExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		sessionAlive: tmux.HasSession,
		pidAlive:     tmux.IsProcessAlive,
		serverAlive:  tmux.ServerAlive,
		listSockets:  tmux.ListInstanceSockets,
	}
}

// Snapshot scans the store and probes each terminated instance's
// recorded resources, returning the total row count and the instances
// with something left to release. Per-instance tmux servers whose
// instance is terminated or unknown to the store are included.
func (s *Sweeper) Snapshot(ctx context.Context) (scanned int, leftovers []Leftover, err error) {
	rows, err := s.store.ListInstances(ctx)
	if err != nil {
		return 0, nil, err
	}

	live := make(map[string]bool)
	index := make(map[string]int)
	for _, row := range rows {
		if !row.Status.Terminal() {
			live[row.ID] = true
			continue
		}
		lo := Leftover{InstanceID: row.ID}
		if row.WorktreePath != "" && s.pathExists(row.WorktreePath) {
			lo.WorktreePath = row.WorktreePath
		}
		if row.SessionName != "" && s.sessionAlive(tmux.InstanceSocketName(row.ID), row.SessionName) {
			lo.SessionName = row.SessionName
		}
		if row.PID > 0 && s.pidAlive(row.PID) {
			lo.PID = row.PID
		}
		if lo.WorktreePath == "" && lo.SessionName == "" && lo.PID == 0 {
			continue
		}
		index[row.ID] = len(leftovers)
		leftovers = append(leftovers, lo)
	}

	return len(rows), s.appendOrphanedServers(leftovers, index, live), nil
}

// appendOrphanedServers folds in live per-instance servers that no sweep
// action would otherwise reach. Killing a leftover's recorded session
// takes its server down too, so only uncovered sockets are added.
func (s *Sweeper) appendOrphanedServers(leftovers []Leftover, index map[string]int, live map[string]bool) []Leftover {
	sockets, lerr := s.listSockets()
	if lerr != nil {
		s.logger.Warn("could not list instance sockets", "err", lerr)
		return leftovers
	}

	for _, socket := range sockets {
		if !tmux.IsInstanceSocket(socket) || !s.serverAlive(socket) {
			continue
		}
		id := tmux.ExtractInstanceID(socket)
		if id == "" || live[id] {
			continue
		}
		if i, ok := index[id]; ok {
			if leftovers[i].SessionName == "" {
				leftovers[i].Socket = socket
			}
			continue
		}
		leftovers = append(leftovers, Leftover{InstanceID: id, Socket: socket})
	}
	return leftovers
}

// Sweep runs one snapshot-and-release pass. Release failures are
// recorded in the report, not returned: the next sweep retries them.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	scanned, leftovers, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Scanned: scanned, Leftovers: len(leftovers)}
	for _, lo := range leftovers {
		report.Results = append(report.Results, s.release(lo)...)
	}

	s.logger.Info("sweep finished",
		"scanned", scanned,
		"leftovers", len(leftovers),
		"removed", report.Count(OutcomeRemoved),
		"failed", report.Count(OutcomeFailed),
		"skipped", report.Count(OutcomeSkipped),
	)
	return report, nil
}

// release frees one instance's leftover resources in the same order
// Terminate compensates: process, session, server, worktree.
func (s *Sweeper) release(lo Leftover) []Result {
	var results []Result
	logger := s.logger.WithInstance(lo.InstanceID)

	if lo.PID > 0 {
		res := Result{InstanceID: lo.InstanceID, Resource: "assistant", Target: strconv.Itoa(lo.PID)}
		if err := s.assistants.Terminate(lo.PID); err != nil {
			res.Outcome, res.Reason = OutcomeFailed, err.Error()
			logger.Warn("failed to terminate leftover assistant", "pid", lo.PID, "err", err)
		} else {
			res.Outcome = OutcomeRemoved
		}
		results = append(results, res)
	}

	if lo.SessionName != "" {
		res := Result{InstanceID: lo.InstanceID, Resource: "session", Target: lo.SessionName}
		if err := s.sessions.Kill(tmux.InstanceSocketName(lo.InstanceID), lo.SessionName); err != nil {
			res.Outcome, res.Reason = OutcomeFailed, err.Error()
			logger.Warn("failed to kill leftover session", "session", lo.SessionName, "err", err)
		} else {
			res.Outcome = OutcomeRemoved
		}
		results = append(results, res)
	}

	if lo.Socket != "" {
		res := Result{InstanceID: lo.InstanceID, Resource: "server", Target: lo.Socket}
		if err := s.sessions.KillServer(lo.Socket); err != nil {
			res.Outcome, res.Reason = OutcomeFailed, err.Error()
			logger.Warn("failed to kill leftover server", "socket", lo.Socket, "err", err)
		} else {
			res.Outcome = OutcomeRemoved
		}
		results = append(results, res)
	}

	if lo.WorktreePath != "" {
		results = append(results, s.releaseWorktree(logger, lo))
	}
	return results
}

func (s *Sweeper) releaseWorktree(logger *logging.Logger, lo Leftover) Result {
	res := Result{InstanceID: lo.InstanceID, Resource: "worktree", Target: lo.WorktreePath}

	if !s.force {
		dirty, err := s.worktrees.HasUncommittedChanges(lo.WorktreePath)
		if err != nil {
			logger.Warn("could not check worktree for local changes", "path", lo.WorktreePath, "err", err)
		}
		if err == nil && dirty {
			res.Outcome, res.Reason = OutcomeSkipped, "uncommitted changes"
			logger.Info("skipping dirty worktree", "path", lo.WorktreePath)
			return res
		}
	}

	if err := s.worktrees.Remove(lo.WorktreePath); err != nil {
		res.Outcome, res.Reason = OutcomeFailed, err.Error()
		logger.Warn("failed to remove leftover worktree", "path", lo.WorktreePath, "err", err)
		return res
	}
	res.Outcome = OutcomeRemoved
	return res
}
