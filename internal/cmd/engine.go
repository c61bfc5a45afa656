package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dispatchworks/dispatch/internal/claude"
	"github.com/dispatchworks/dispatch/internal/config"
	"github.com/dispatchworks/dispatch/internal/control"
	"github.com/dispatchworks/dispatch/internal/errors"
	"github.com/dispatchworks/dispatch/internal/issue"
	"github.com/dispatchworks/dispatch/internal/logging"
	"github.com/dispatchworks/dispatch/internal/pr"
	"github.com/dispatchworks/dispatch/internal/reconcile"
	"github.com/dispatchworks/dispatch/internal/store"
	"github.com/dispatchworks/dispatch/internal/workflow"
	"github.com/dispatchworks/dispatch/internal/worktree"
)

// engine bundles the wired collaborators behind every dispatch command.
// Commands build one per invocation and close it when done.
type engine struct {
	cfg        *config.Config
	logger     *logging.Logger
	store      *store.SQLiteStore
	worktrees  *worktree.Manager
	sessions   workflow.TmuxSessions
	assistants *claude.Launcher
	issues     *issue.Service
	coding     *workflow.Coding
	review     *workflow.Review
}

func newEngine() (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	repoDir := cfg.Repo.Path
	if repoDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		repoDir, err = worktree.FindGitRoot(cwd)
		if err != nil {
			return nil, err
		}
	}

	logger, err := logging.NewLoggerWithRotation(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	worktrees, err := worktree.New(repoDir, cfg.WorktreeBaseDir(repoDir))
	if err != nil {
		_ = st.Close()
		_ = logger.Close()
		return nil, err
	}

	sessions := workflow.TmuxSessions{
		Width:        cfg.Tmux.Width,
		Height:       cfg.Tmux.Height,
		HistoryLimit: cfg.Tmux.HistoryLimit,
	}
	assistants := claude.NewLauncher(logger)
	assistants.PIDTimeout = time.Duration(cfg.Assistant.PIDTimeoutSeconds) * time.Second
	controlServers := control.NewLauncher(cfg.Control.Binary, logger)
	issues := issue.NewService(logger, cfg.GitHub.Binary, repoDir)
	prs := pr.NewClient(cfg.GitHub.Binary, repoDir)

	coding := workflow.NewCoding(workflow.CodingDeps{
		Store:      st,
		Worktrees:  worktrees,
		Sessions:   sessions,
		Assistants: assistants,
		Control:    controlServers,
		Issues:     issues,
		PRs:        prs,
		Logger:     logger,
		MaxReviews: cfg.Workflow.MaxReviews,
	})
	review := workflow.NewReview(workflow.ReviewDeps{
		Store:      st,
		Worktrees:  worktrees,
		Sessions:   sessions,
		Assistants: assistants,
		Control:    controlServers,
		Logger:     logger,
	})

	return &engine{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		worktrees:  worktrees,
		sessions:   sessions,
		assistants: assistants,
		issues:     issues,
		coding:     coding,
		review:     review,
	}, nil
}

func (e *engine) Close() {
	if err := e.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
	_ = e.logger.Close()
}

// sweeper builds a reconcile sweeper over the engine's collaborators.
func (e *engine) sweeper(force bool) *reconcile.Sweeper {
	return reconcile.NewSweeper(reconcile.SweeperDeps{
		Store:      e.store,
		Worktrees:  e.worktrees,
		Sessions:   e.sessions,
		Assistants: e.assistants,
		Logger:     e.logger,
		Force:      force,
	})
}

// resolveReviewers routes reviewers from the instance's changed files
// when the config carries path rules. Lookup failures fall back to the
// default reviewer list rather than blocking the PR.
func (e *engine) resolveReviewers(ctx context.Context, instanceID string) []string {
	rc := e.cfg.PR.Reviewers
	if len(rc.Default) == 0 && len(rc.ByPath) == 0 {
		return nil
	}
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil || inst == nil || inst.WorktreePath == "" {
		return rc.Default
	}
	changed, err := e.worktrees.ChangedFiles(inst.WorktreePath, inst.BaseBranch)
	if err != nil {
		return rc.Default
	}
	return pr.ResolveReviewers(changed, rc.Default, rc.ByPath)
}

// commandError renders coded errors with their recovery suggestion and
// wraps everything else with the failed action.
func commandError(action string, err error) error {
	var coded *errors.Error
	if errors.As(err, &coded) {
		return fmt.Errorf("%s", coded.UserMessage())
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}
