package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dispatchworks/dispatch/internal/claude"
	"github.com/dispatchworks/dispatch/internal/control"
	"github.com/dispatchworks/dispatch/internal/errors"
	"github.com/dispatchworks/dispatch/internal/instance"
	"github.com/dispatchworks/dispatch/internal/logging"
	"github.com/dispatchworks/dispatch/internal/pr"
	"github.com/dispatchworks/dispatch/internal/prompt"
	"github.com/dispatchworks/dispatch/internal/store"
	"github.com/dispatchworks/dispatch/internal/tmux"
)

// CodingConfig drives one coding instance.
type CodingConfig struct {
	// BaseBranch is the branch the work starts from. Empty selects the
	// repository default branch.
	BaseBranch string

	// IssueNumber seeds the prompt with issue content when non-zero.
	IssueNumber int

	// Instructions is the caller-supplied task or additional guidance.
	Instructions string

	// Branch overrides the derived dispatch/<id> branch name.
	Branch string

	// RequireReview is advisory config metadata echoed on the Execution.
	RequireReview bool

	// MaxReviews bounds review rounds; 0 selects DefaultMaxReviews.
	MaxReviews int

	// Env holds assistant and control server environment overrides.
	// Identity keys are always engine-assigned.
	Env map[string]string

	// AssistantBinary and AssistantArgs override the assistant command.
	AssistantBinary string
	AssistantArgs   []string

	// ExecutionTimeout is advisory; 0 selects DefaultExecutionTimeout.
	ExecutionTimeout time.Duration
}

// PullRequestOptions shape the PR opened for a finished instance.
type PullRequestOptions struct {
	Title string

	// Body is used verbatim when set. Otherwise the body is rendered
	// from BodyTemplate (or the default template when that is empty too).
	Body         string
	BodyTemplate string

	Draft     bool
	Reviewers []string
	Labels    []string
}

// Coding is the coding workflow manager.
type Coding struct {
	store      store.Store
	worktrees  Worktrees
	sessions   Sessions
	assistants Assistants
	control    ControlServers
	issues     Issues
	prs        PullRequests
	prompts    *prompt.CodingBuilder
	logger     *logging.Logger

	maxReviews int

	mu      sync.Mutex
	parents map[string]*sync.Mutex
}

// CodingDeps collects the collaborators a Coding manager needs. Issues
// and PRs may be nil when issue fetching or PR creation is not wired.
type CodingDeps struct {
	Store      store.Store
	Worktrees  Worktrees
	Sessions   Sessions
	Assistants Assistants
	Control    ControlServers
	Issues     Issues
	PRs        PullRequests
	Logger     *logging.Logger
	MaxReviews int
}

// NewCoding creates a coding workflow manager.
func NewCoding(deps CodingDeps) *Coding {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	maxReviews := deps.MaxReviews
	if maxReviews <= 0 {
		maxReviews = DefaultMaxReviews
	}
	return &Coding{
		store:      deps.Store,
		worktrees:  deps.Worktrees,
		sessions:   deps.Sessions,
		assistants: deps.Assistants,
		control:    deps.Control,
		issues:     deps.Issues,
		prs:        deps.PRs,
		prompts:    prompt.NewCodingBuilder(),
		logger:     logger.WithWorkflow("coding"),
		maxReviews: maxReviews,
		parents:    make(map[string]*sync.Mutex),
	}
}

// Execute provisions a coding instance. Steps run in strict order; on
// failure the instance row is marked terminated and the triggering error
// is returned unmodified. Resources created before the failing step are
// not released here.
func (c *Coding) Execute(ctx context.Context, cfg *CodingConfig) (*Execution, error) {
	if cfg == nil {
		cfg = &CodingConfig{}
	}
	if cfg.MaxReviews <= 0 {
		cfg.MaxReviews = c.maxReviews
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	baseBranch := cfg.BaseBranch
	if baseBranch == "" {
		baseBranch = c.worktrees.DefaultBranch()
	}

	now := time.Now()
	id := NewWorkID(cfg.IssueNumber, now)
	branch := cfg.Branch
	if branch == "" {
		branch = BranchFor(id)
	}
	logger := c.logger.WithInstance(id)

	inst := &instance.Instance{
		ID:           id,
		Kind:         instance.KindCoding,
		Status:       instance.StatusStarted,
		Branch:       branch,
		BaseBranch:   baseBranch,
		IssueNumber:  cfg.IssueNumber,
		Prompt:       cfg.Instructions,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := c.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}
	logger.Info("instance created", "issue", cfg.IssueNumber, "branch", branch, "base", baseBranch)

	path := c.worktrees.PathFor(id)
	wt, err := c.worktrees.Create(path, branch, baseBranch)
	if err != nil {
		return nil, c.failExecution(ctx, logger, id, err)
	}
	logger.Info("worktree created", "path", wt.Path)

	socket := tmux.InstanceSocketName(id)
	sess, err := c.sessions.New(tmux.SessionOptions{
		Socket: socket,
		Name:   id,
		Dir:    wt.Path,
	})
	if err != nil {
		return nil, c.failExecution(ctx, logger, id, err)
	}
	logger.Info("session created", "session", sess.Name)

	proc, err := c.assistants.Launch(claude.LaunchOptions{
		Socket:  socket,
		Session: sess.Name,
		Binary:  cfg.AssistantBinary,
		Args:    cfg.AssistantArgs,
		Env:     identityEnv(cfg.Env, id, control.ServerTypeCoding),
	})
	if err != nil {
		return nil, c.failExecution(ctx, logger, id, err)
	}
	logger.Info("assistant launched", "pid", proc.PID)

	if err := c.store.UpdateInstance(ctx, id, store.InstanceUpdate{
		WorktreePath: store.String(wt.Path),
		SessionName:  store.String(sess.Name),
		Branch:       store.String(wt.Branch),
		PID:          store.Int(proc.PID),
		LastActivity: store.Time(time.Now()),
	}); err != nil {
		return nil, c.failExecution(ctx, logger, id, err)
	}

	srv, err := c.control.Launch(ctx, control.LaunchOptions{
		AgentID:     id,
		Workspace:   wt.Path,
		Branch:      wt.Branch,
		Session:     sess.Name,
		IssueNumber: cfg.IssueNumber,
		ServerType:  control.ServerTypeCoding,
		Env:         cfg.Env,
	})
	if err != nil {
		return nil, c.failExecution(ctx, logger, id, err)
	}
	logger.Info("control server launched", "pid", srv.PID)

	promptText, err := c.buildPrompt(ctx, cfg, wt.Path, wt.Branch, baseBranch)
	if err != nil {
		return nil, c.failExecution(ctx, logger, id, err)
	}
	if err := c.sessions.Send(socket, sess.Name, promptText); err != nil {
		return nil, c.failExecution(ctx, logger, id, err)
	}
	logger.Info("prompt delivered", "bytes", len(promptText))

	return &Execution{
		ID:     id,
		Kind:   instance.KindCoding,
		Status: instance.StatusStarted,
		State: DerivedState{
			Phase:        instance.PhaseWorking,
			ReviewCount:  0,
			MaxReviews:   cfg.MaxReviews,
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

// buildPrompt assembles the initial task prompt, fetching issue context
// when the instance was started from an issue.
func (c *Coding) buildPrompt(ctx context.Context, cfg *CodingConfig, workdir, branch, baseBranch string) (string, error) {
	pctx := &prompt.CodingContext{
		Workdir:      workdir,
		Branch:       branch,
		BaseBranch:   baseBranch,
		Instructions: cfg.Instructions,
	}
	if cfg.IssueNumber > 0 && c.issues != nil {
		ic, err := c.issues.Get(ctx, cfg.IssueNumber)
		if err != nil {
			return "", err
		}
		pctx.Issue = &prompt.IssueInfo{
			Number: ic.Number,
			Title:  ic.Title,
			Body:   ic.Body,
			URL:    ic.URL,
		}
	}
	return c.prompts.Build(pctx)
}

// failExecution marks the instance terminated and hands the triggering
// error back unmodified.
func (c *Coding) failExecution(ctx context.Context, logger *logging.Logger, id string, cause error) error {
	logger.Error("execution failed", "err", cause)
	now := time.Now()
	if err := c.store.UpdateInstance(ctx, id, store.InstanceUpdate{
		Status:       store.Status(instance.StatusTerminated),
		TerminatedAt: store.Time(now),
		LastActivity: store.Time(now),
	}); err != nil {
		logger.Error("failed to mark instance terminated", "err", err)
	}
	return cause
}

// Terminate releases an instance's resources and marks it terminated.
// The status update commits before failure evaluation: "marked
// terminated" and "resources released" are separable facts.
func (c *Coding) Terminate(ctx context.Context, instanceID, reason string) error {
	inst, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst == nil {
		return errors.Workflow(errors.CodeInstanceNotFound,
			fmt.Sprintf("instance %s not found", instanceID),
			errors.WithDetail("instance_id", instanceID),
		)
	}
	logger := c.logger.WithInstance(instanceID)
	logger.Info("terminating instance", "reason", reason)

	var failures []error
	if inst.PID > 0 {
		if err := c.assistants.Terminate(inst.PID); err != nil {
			failures = append(failures, fmt.Errorf("terminate assistant %d: %w", inst.PID, err))
		}
	}
	if inst.SessionName != "" {
		if err := c.sessions.Kill(tmux.InstanceSocketName(instanceID), inst.SessionName); err != nil {
			failures = append(failures, fmt.Errorf("kill session %s: %w", inst.SessionName, err))
		}
	}
	if inst.WorktreePath != "" {
		if err := c.worktrees.Remove(inst.WorktreePath); err != nil {
			failures = append(failures, fmt.Errorf("remove worktree %s: %w", inst.WorktreePath, err))
		}
	}

	now := time.Now()
	if err := c.store.UpdateInstance(ctx, instanceID, store.InstanceUpdate{
		Status:       store.Status(instance.StatusTerminated),
		TerminatedAt: store.Time(now),
		LastActivity: store.Time(now),
	}); err != nil {
		failures = append(failures, fmt.Errorf("update status: %w", err))
	}

	if len(failures) > 0 {
		return errors.Workflow(errors.CodeCleanupFailed,
			"Failed to terminate workflow",
			errors.WithCause(joinErrors(failures)),
			errors.WithDetail("instance_id", instanceID),
		)
	}
	logger.Info("instance terminated")
	return nil
}

// GetState returns the derived state for an instance, nil when the
// instance does not exist.
func (c *Coding) GetState(ctx context.Context, instanceID string) (*DerivedState, error) {
	inst, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}

	count, current, err := c.reviewStatus(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return &DerivedState{
		Phase:                   instance.PhaseForStatus(inst.Status),
		ReviewCount:             count,
		MaxReviews:              c.maxReviews,
		CurrentReviewInstanceID: current,
		LastActivity:            inst.LastActivity,
	}, nil
}

// reviewStatus counts spawned_review relationships where instanceID is
// parent and resolves the most recent child that is not yet terminal.
// A reserved child with no instance row counts as live: the slot is
// taken even before provisioning.
func (c *Coding) reviewStatus(ctx context.Context, instanceID string) (count int, current string, err error) {
	rels, err := c.store.GetRelationships(ctx, instanceID)
	if err != nil {
		return 0, "", err
	}
	for _, rel := range rels {
		if rel.Kind != instance.RelSpawnedReview || rel.ParentID != instanceID {
			continue
		}
		count++
		child, err := c.store.GetInstance(ctx, rel.ChildID)
		if err != nil {
			return 0, "", err
		}
		if child == nil || !child.Status.Terminal() {
			current = rel.ChildID
		}
	}
	return count, current, nil
}

// RequestReview validates and reserves the next review slot for a
// parent. It only reserves: provisioning the review instance is the
// review workflow's Execute. maxReviews <= 0 selects the manager
// default.
func (c *Coding) RequestReview(ctx context.Context, instanceID string, maxReviews int) (string, error) {
	if maxReviews <= 0 {
		maxReviews = c.maxReviews
	}

	unlock := c.lockParent(instanceID)
	defer unlock()

	inst, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return "", errors.Workflow(errors.CodeInstanceNotFound,
			fmt.Sprintf("instance %s not found", instanceID),
			errors.WithDetail("instance_id", instanceID),
		)
	}
	if inst.Status == instance.StatusTerminated {
		return "", errors.Workflow(errors.CodeInvalidState,
			fmt.Sprintf("instance %s is in status %q and cannot request a review", instanceID, inst.Status),
			errors.WithDetail("status", string(inst.Status)),
		)
	}

	count, current, err := c.reviewStatus(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if count >= maxReviews {
		return "", errors.Workflow(errors.CodeMaxReviewsExceeded,
			fmt.Sprintf("instance %s already used %d of %d reviews", instanceID, count, maxReviews),
			errors.WithDetails(map[string]any{
				"review_count": count,
				"max_reviews":  maxReviews,
			}),
		)
	}
	if current != "" {
		return "", errors.Workflow(errors.CodeReviewInProgress,
			fmt.Sprintf("review %s is still in progress for instance %s", current, instanceID),
			errors.WithDetail("review_instance_id", current),
		)
	}

	iteration := count + 1
	reviewID := ReviewID(instanceID, iteration)
	now := time.Now()

	metadata, err := instance.EncodeReviewMetadata(instance.ReviewMetadata{RequestedAt: now})
	if err != nil {
		return "", err
	}
	if err := c.store.CreateRelationship(ctx, &instance.Relationship{
		ParentID:  instanceID,
		ChildID:   reviewID,
		Kind:      instance.RelSpawnedReview,
		Iteration: iteration,
		Metadata:  metadata,
		CreatedAt: now,
	}); err != nil {
		return "", err
	}

	if err := c.store.UpdateInstance(ctx, instanceID, store.InstanceUpdate{
		Status:       store.Status(instance.StatusWaitingReview),
		LastActivity: store.Time(now),
	}); err != nil {
		return "", err
	}

	c.logger.WithInstance(instanceID).Info("review reserved",
		"review_instance_id", reviewID, "iteration", iteration)
	return reviewID, nil
}

// CreatePullRequest pushes the instance branch and opens a PR for it,
// advancing the instance to pr_created. Called by the layer that decided
// the work is ready, typically after an approved review.
func (c *Coding) CreatePullRequest(ctx context.Context, instanceID string, opts PullRequestOptions) (*pr.PullRequest, error) {
	inst, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, errors.Workflow(errors.CodeInstanceNotFound,
			fmt.Sprintf("instance %s not found", instanceID),
			errors.WithDetail("instance_id", instanceID),
		)
	}
	if inst.Status.Terminal() {
		return nil, errors.Workflow(errors.CodeInvalidState,
			fmt.Sprintf("instance %s is in status %q and cannot open a pull request", instanceID, inst.Status),
			errors.WithDetail("status", string(inst.Status)),
		)
	}
	if c.prs == nil {
		return nil, errors.Workflow(errors.CodeInvalidConfiguration,
			"pull request creation is not configured")
	}
	logger := c.logger.WithInstance(instanceID)

	if err := c.worktrees.Push(inst.WorktreePath, false); err != nil {
		return nil, errors.Workflow(errors.CodePRCreationFailed,
			fmt.Sprintf("failed to push branch %s", inst.Branch),
			errors.WithCause(err),
		)
	}

	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("dispatch: %s", inst.Branch)
	}
	body := opts.Body
	if body == "" {
		changed, err := c.worktrees.ChangedFiles(inst.WorktreePath, inst.BaseBranch)
		if err != nil {
			logger.Warn("could not list changed files for PR body", "err", err)
		}
		issueNumber := inst.IssueNumber
		if issueNumber == 0 {
			issueNumber = pr.ExtractIssueNumber(inst.Prompt)
		}
		body, err = pr.BuildBody(opts.BodyTemplate, pr.BodyData{
			Task:         inst.Prompt,
			Branch:       inst.Branch,
			ChangedFiles: changed,
			IssueNumber:  issueNumber,
			InstanceID:   inst.ID,
		})
		if err != nil {
			return nil, errors.Workflow(errors.CodePRCreationFailed,
				"failed to build pull request body",
				errors.WithCause(err),
			)
		}
	}

	created, err := c.prs.Create(ctx, pr.Options{
		Title:     title,
		Body:      body,
		Head:      inst.Branch,
		Base:      inst.BaseBranch,
		Draft:     opts.Draft,
		Reviewers: opts.Reviewers,
		Labels:    opts.Labels,
	})
	if err != nil {
		return nil, errors.Workflow(errors.CodePRCreationFailed,
			fmt.Sprintf("failed to create pull request for instance %s", instanceID),
			errors.WithCause(err),
		)
	}

	if err := c.store.UpdateInstance(ctx, instanceID, store.InstanceUpdate{
		Status:       store.Status(instance.StatusPRCreated),
		PRNumber:     store.Int(created.Number),
		PRURL:        store.String(created.URL),
		LastActivity: store.Time(time.Now()),
	}); err != nil {
		return nil, err
	}

	logger.Info("pull request created", "number", created.Number, "url", created.URL)
	return created, nil
}

// lockParent serializes validate-and-reserve per parent within this
// process.
func (c *Coding) lockParent(parentID string) func() {
	c.mu.Lock()
	m, ok := c.parents[parentID]
	if !ok {
		m = &sync.Mutex{}
		c.parents[parentID] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}
	return joined
}
