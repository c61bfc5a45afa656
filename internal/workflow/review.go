package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dispatchworks/dispatch/internal/claude"
	"github.com/dispatchworks/dispatch/internal/control"
	"github.com/dispatchworks/dispatch/internal/errors"
	"github.com/dispatchworks/dispatch/internal/instance"
	"github.com/dispatchworks/dispatch/internal/logging"
	"github.com/dispatchworks/dispatch/internal/prompt"
	"github.com/dispatchworks/dispatch/internal/store"
	"github.com/dispatchworks/dispatch/internal/tmux"
)

// ReviewConfig drives one review instance.
type ReviewConfig struct {
	// ParentID names the coding instance whose work is under review.
	ParentID string

	// ReviewInstanceID is the id reserved by RequestReview. Empty resolves
	// the parent's pending reservation.
	ReviewInstanceID string

	// IssueNumber is carried to the control server; 0 inherits the
	// parent's issue.
	IssueNumber int

	// TaskSummary restates the original task and what the coding agent
	// reports having accomplished.
	TaskSummary string

	// Criteria optionally narrows the review focus.
	Criteria *prompt.Criteria

	// Branch overrides the derived review branch name.
	Branch string

	// PreserveChanges keeps the review worktree after completion.
	PreserveChanges bool

	// Timeout is advisory; 0 selects DefaultReviewTimeout.
	Timeout time.Duration

	// Env holds assistant and control server environment overrides.
	Env map[string]string

	// AssistantBinary and AssistantArgs override the assistant command.
	AssistantBinary string
	AssistantArgs   []string
}

// Review is the review workflow manager.
type Review struct {
	store      store.Store
	worktrees  Worktrees
	sessions   Sessions
	assistants Assistants
	control    ControlServers
	prompts    *prompt.ReviewBuilder
	logger     *logging.Logger

	// preserve remembers PreserveChanges per review instance for the
	// SaveReview cleanup decision. In-memory only: a restarted engine
	// falls back to the default (remove).
	mu       sync.Mutex
	preserve map[string]bool
}

// ReviewDeps collects the collaborators a Review manager needs.
type ReviewDeps struct {
	Store      store.Store
	Worktrees  Worktrees
	Sessions   Sessions
	Assistants Assistants
	Control    ControlServers
	Logger     *logging.Logger
}

// NewReview creates a review workflow manager.
func NewReview(deps ReviewDeps) *Review {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Review{
		store:      deps.Store,
		worktrees:  deps.Worktrees,
		sessions:   deps.Sessions,
		assistants: deps.Assistants,
		control:    deps.Control,
		prompts:    prompt.NewReviewBuilder(),
		logger:     logger.WithWorkflow("review"),
		preserve:   make(map[string]bool),
	}
}

// Execute provisions a review instance against a reservation made by
// RequestReview: a worktree forked from the parent's branch, a session,
// an assistant and a control server, then the review prompt. Failure
// handling matches the coding workflow: mark terminated, re-throw.
func (r *Review) Execute(ctx context.Context, cfg *ReviewConfig) (*Execution, error) {
	if cfg == nil || cfg.ParentID == "" {
		return nil, errors.Workflow(errors.CodeInvalidConfiguration,
			"review config requires a parent instance id")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReviewTimeout
	}

	parent, err := r.store.GetInstance(ctx, cfg.ParentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, errors.Workflow(errors.CodeParentNotFound,
			fmt.Sprintf("parent instance %s not found", cfg.ParentID),
			errors.WithDetail("parent_id", cfg.ParentID),
		)
	}
	if parent.Status.Terminal() {
		return nil, errors.Workflow(errors.CodeParentInvalidState,
			fmt.Sprintf("parent instance %s is in status %q", cfg.ParentID, parent.Status),
			errors.WithDetail("status", string(parent.Status)),
		)
	}

	reviewID, iteration, err := r.resolveReservation(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := r.logger.WithInstance(reviewID)

	issueNumber := cfg.IssueNumber
	if issueNumber == 0 {
		issueNumber = parent.IssueNumber
	}
	branch := cfg.Branch
	if branch == "" {
		branch = BranchFor(reviewID)
	}

	now := time.Now()
	inst := &instance.Instance{
		ID:           reviewID,
		Kind:         instance.KindReview,
		Status:       instance.StatusStarted,
		Branch:       branch,
		BaseBranch:   parent.Branch,
		IssueNumber:  issueNumber,
		ParentID:     cfg.ParentID,
		Prompt:       cfg.TaskSummary,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := r.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}
	logger.Info("review instance created",
		"parent_id", cfg.ParentID, "iteration", iteration, "base", parent.Branch)

	path := r.worktrees.PathFor(reviewID)
	wt, err := r.worktrees.Create(path, branch, parent.Branch)
	if err != nil {
		forkErr := errors.Workflow(errors.CodeForkFailed,
			fmt.Sprintf("failed to fork worktree from branch %s", parent.Branch),
			errors.WithCause(err),
			errors.WithDetail("parent_branch", parent.Branch),
		)
		return nil, r.failExecution(ctx, logger, reviewID, forkErr)
	}
	logger.Info("review worktree forked", "path", wt.Path)

	socket := tmux.InstanceSocketName(reviewID)
	sess, err := r.sessions.New(tmux.SessionOptions{
		Socket: socket,
		Name:   reviewID,
		Dir:    wt.Path,
	})
	if err != nil {
		return nil, r.failExecution(ctx, logger, reviewID, err)
	}

	proc, err := r.assistants.Launch(claude.LaunchOptions{
		Socket:  socket,
		Session: sess.Name,
		Binary:  cfg.AssistantBinary,
		Args:    cfg.AssistantArgs,
		Env:     identityEnv(cfg.Env, reviewID, control.ServerTypeReview),
	})
	if err != nil {
		return nil, r.failExecution(ctx, logger, reviewID, err)
	}
	logger.Info("review assistant launched", "pid", proc.PID)

	if err := r.store.UpdateInstance(ctx, reviewID, store.InstanceUpdate{
		WorktreePath: store.String(wt.Path),
		SessionName:  store.String(sess.Name),
		Branch:       store.String(wt.Branch),
		PID:          store.Int(proc.PID),
		LastActivity: store.Time(time.Now()),
	}); err != nil {
		return nil, r.failExecution(ctx, logger, reviewID, err)
	}

	srv, err := r.control.Launch(ctx, control.LaunchOptions{
		AgentID:     reviewID,
		Workspace:   wt.Path,
		Branch:      wt.Branch,
		Session:     sess.Name,
		IssueNumber: issueNumber,
		ServerType:  control.ServerTypeReview,
		Env:         cfg.Env,
	})
	if err != nil {
		return nil, r.failExecution(ctx, logger, reviewID, err)
	}

	promptText, err := r.prompts.Build(&prompt.ReviewContext{
		Workdir:     wt.Path,
		Branch:      wt.Branch,
		BaseBranch:  parent.Branch,
		TaskSummary: cfg.TaskSummary,
		Iteration:   iteration,
		Criteria:    cfg.Criteria,
	})
	if err != nil {
		return nil, r.failExecution(ctx, logger, reviewID, err)
	}
	if err := r.sessions.Send(socket, sess.Name, promptText); err != nil {
		return nil, r.failExecution(ctx, logger, reviewID, err)
	}

	r.mu.Lock()
	r.preserve[reviewID] = cfg.PreserveChanges
	r.mu.Unlock()

	return &Execution{
		ID:     reviewID,
		Kind:   instance.KindReview,
		Status: instance.StatusStarted,
		State: DerivedState{
			Phase:        instance.PhaseWorking,
			LastActivity: time.Now(),
		},
		Resources: Resources{
			WorktreePath:     wt.Path,
			SessionName:      sess.Name,
			Branch:           wt.Branch,
			AssistantPID:     proc.PID,
			ControlServerPID: srv.PID,
		},
		Config: cfg,
	}, nil
}

// resolveReservation binds Execute to the relationship RequestReview
// created. An explicit ReviewInstanceID must match a reservation; empty
// picks the parent's most recent reservation with no instance row yet.
func (r *Review) resolveReservation(ctx context.Context, cfg *ReviewConfig) (string, int, error) {
	rels, err := r.store.GetRelationships(ctx, cfg.ParentID)
	if err != nil {
		return "", 0, err
	}

	if cfg.ReviewInstanceID != "" {
		for _, rel := range rels {
			if rel.Kind == instance.RelSpawnedReview && rel.ChildID == cfg.ReviewInstanceID {
				return rel.ChildID, rel.Iteration, nil
			}
		}
		return "", 0, errors.Workflow(errors.CodeInvalidState,
			fmt.Sprintf("review %s was not reserved for instance %s", cfg.ReviewInstanceID, cfg.ParentID),
			errors.WithDetail("review_instance_id", cfg.ReviewInstanceID),
		)
	}

	var pendingID string
	var pendingIteration int
	for _, rel := range rels {
		if rel.Kind != instance.RelSpawnedReview || rel.ParentID != cfg.ParentID {
			continue
		}
		child, err := r.store.GetInstance(ctx, rel.ChildID)
		if err != nil {
			return "", 0, err
		}
		if child == nil {
			pendingID = rel.ChildID
			pendingIteration = rel.Iteration
		}
	}
	if pendingID == "" {
		return "", 0, errors.Workflow(errors.CodeInvalidState,
			fmt.Sprintf("no pending review reservation for instance %s", cfg.ParentID),
			errors.WithDetail("parent_id", cfg.ParentID),
		)
	}
	return pendingID, pendingIteration, nil
}

func (r *Review) failExecution(ctx context.Context, logger *logging.Logger, id string, cause error) error {
	logger.Error("review execution failed", "err", cause)
	now := time.Now()
	if err := r.store.UpdateInstance(ctx, id, store.InstanceUpdate{
		Status:       store.Status(instance.StatusTerminated),
		TerminatedAt: store.Time(now),
		LastActivity: store.Time(now),
	}); err != nil {
		logger.Error("failed to mark review instance terminated", "err", err)
	}
	return cause
}

// SaveReview records a completed review: review text, decision and
// completion time go into the owning relationship's metadata, the review
// instance becomes terminal, and the feedback is injected into the
// parent's recorded session. Feedback is delivered before any cleanup so
// it is never lost to a cleanup failure; cleanup failures are non-fatal.
func (r *Review) SaveReview(ctx context.Context, reviewInstanceID, reviewText string, decision instance.Decision) error {
	if _, err := instance.ParseDecision(string(decision)); err != nil {
		return errors.Workflow(errors.CodeInvalidConfiguration,
			fmt.Sprintf("invalid review decision %q", decision),
			errors.WithCause(err),
		)
	}

	rel, err := r.owningRelationship(ctx, reviewInstanceID)
	if err != nil {
		return err
	}

	reviewInst, err := r.store.GetInstance(ctx, reviewInstanceID)
	if err != nil {
		return err
	}
	if reviewInst == nil {
		return errors.Workflow(errors.CodeInstanceNotFound,
			fmt.Sprintf("review instance %s was never provisioned", reviewInstanceID),
			errors.WithDetail("review_instance_id", reviewInstanceID),
		)
	}
	logger := r.logger.WithInstance(reviewInstanceID)

	now := time.Now()
	meta, err := instance.DecodeReviewMetadata(rel.Metadata)
	if err != nil {
		return err
	}
	meta.ReviewText = reviewText
	meta.Decision = decision
	meta.CompletedAt = &now
	encoded, err := instance.EncodeReviewMetadata(meta)
	if err != nil {
		return err
	}
	if err := r.store.UpdateRelationship(ctx, rel.ID, store.RelationshipUpdate{
		Metadata: store.String(encoded),
	}); err != nil {
		return err
	}

	if err := r.store.UpdateInstance(ctx, reviewInstanceID, store.InstanceUpdate{
		Status:       store.Status(instance.StatusTerminated),
		TerminatedAt: store.Time(now),
		LastActivity: store.Time(now),
	}); err != nil {
		return err
	}
	logger.Info("review saved",
		"decision", decision, "next_phase", instance.ReviewPhaseForDecision(decision))

	if err := r.deliverFeedback(ctx, rel, reviewInstanceID, reviewText, decision); err != nil {
		// Outcome is recorded; the worktree stays for inspection.
		return err
	}

	r.cleanup(logger, reviewInstanceID, reviewInst)
	return nil
}

// owningRelationship finds the spawned_review edge whose child is the
// review instance.
func (r *Review) owningRelationship(ctx context.Context, reviewInstanceID string) (*instance.Relationship, error) {
	rels, err := r.store.GetRelationships(ctx, reviewInstanceID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		if rel.Kind == instance.RelSpawnedReview && rel.ChildID == reviewInstanceID {
			return rel, nil
		}
	}
	return nil, errors.Workflow(errors.CodeInstanceNotFound,
		fmt.Sprintf("review instance %s not found", reviewInstanceID),
		errors.WithDetail("review_instance_id", reviewInstanceID),
	)
}

// deliverFeedback injects the review outcome into the parent's recorded
// session and, when changes were requested, moves the parent back to
// started so its phase reads working again.
func (r *Review) deliverFeedback(ctx context.Context, rel *instance.Relationship, reviewInstanceID, reviewText string, decision instance.Decision) error {
	parent, err := r.store.GetInstance(ctx, rel.ParentID)
	if err != nil {
		return err
	}
	if parent == nil || parent.SessionName == "" {
		return errors.Workflow(errors.CodeParentUpdateFailed,
			fmt.Sprintf("parent instance %s has no recorded session for feedback", rel.ParentID),
			errors.WithDetail("parent_id", rel.ParentID),
		)
	}

	message := feedbackMessage(rel.Iteration, decision, reviewText)
	socket := tmux.InstanceSocketName(parent.ID)
	if err := r.sessions.Send(socket, parent.SessionName, message); err != nil {
		return errors.Workflow(errors.CodeParentUpdateFailed,
			fmt.Sprintf("failed to deliver review feedback to session %s", parent.SessionName),
			errors.WithCause(err),
			errors.WithDetail("parent_id", rel.ParentID),
		)
	}

	update := store.InstanceUpdate{LastActivity: store.Time(time.Now())}
	if decision == instance.DecisionRequestChanges {
		update.Status = store.Status(instance.StatusStarted)
	}
	if err := r.store.UpdateInstance(ctx, rel.ParentID, update); err != nil {
		return errors.Workflow(errors.CodeParentUpdateFailed,
			fmt.Sprintf("failed to update parent instance %s after review", rel.ParentID),
			errors.WithCause(err),
		)
	}

	r.logger.WithInstance(reviewInstanceID).Info("feedback delivered",
		"parent_id", rel.ParentID, "session", parent.SessionName)
	return nil
}

// cleanup releases the review instance's resources best-effort. The
// worktree survives when PreserveChanges was set at Execute; otherwise
// the scratch review branch goes with it.
func (r *Review) cleanup(logger *logging.Logger, reviewInstanceID string, reviewInst *instance.Instance) {
	r.mu.Lock()
	preserve := r.preserve[reviewInstanceID]
	delete(r.preserve, reviewInstanceID)
	r.mu.Unlock()

	if reviewInst.PID > 0 {
		if err := r.assistants.Terminate(reviewInst.PID); err != nil {
			logger.Warn("failed to terminate review assistant", "pid", reviewInst.PID, "err", err)
		}
	}
	if reviewInst.SessionName != "" {
		if err := r.sessions.Kill(tmux.InstanceSocketName(reviewInstanceID), reviewInst.SessionName); err != nil {
			logger.Warn("failed to kill review session", "session", reviewInst.SessionName, "err", err)
		}
	}
	if preserve {
		logger.Info("preserving review worktree", "path", reviewInst.WorktreePath)
		return
	}
	if reviewInst.WorktreePath != "" {
		if err := r.worktrees.Remove(reviewInst.WorktreePath); err != nil {
			logger.Warn("failed to remove review worktree", "path", reviewInst.WorktreePath, "err", err)
			return
		}
		if reviewInst.Branch != "" {
			if err := r.worktrees.DeleteBranch(reviewInst.Branch); err != nil {
				logger.Warn("failed to delete review branch", "branch", reviewInst.Branch, "err", err)
			}
		}
	}
}

func feedbackMessage(iteration int, decision instance.Decision, reviewText string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Review feedback (round %d)\n\n", iteration)
	fmt.Fprintf(&sb, "Decision: %s\n\n", decision)
	sb.WriteString(strings.TrimSpace(reviewText))
	sb.WriteString("\n\n")
	if decision == instance.DecisionRequestChanges {
		sb.WriteString("Address the feedback above, then request another review when ready.")
	} else {
		sb.WriteString("The review approved your changes.")
	}
	return sb.String()
}
