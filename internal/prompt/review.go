package prompt

import (
	"fmt"
	"strings"
)

// ReviewContext provides the information needed to build a review prompt.
type ReviewContext struct {
	// Workdir is the forked worktree holding the changes under review.
	Workdir string

	// Branch is the branch being reviewed.
	Branch string

	// BaseBranch is the branch the changes would merge into.
	BaseBranch string

	// TaskSummary restates the task the coding agent was given and what
	// it reports having accomplished.
	TaskSummary string

	// Iteration is the 1-based review round for this parent.
	Iteration int

	// Criteria optionally narrows what the reviewer should focus on.
	Criteria *Criteria
}

// ReviewBuilder builds the initial prompt for review instances.
type ReviewBuilder struct{}

// NewReviewBuilder creates a new ReviewBuilder.
func NewReviewBuilder() *ReviewBuilder {
	return &ReviewBuilder{}
}

// Build generates the review prompt from the context.
func (b *ReviewBuilder) Build(ctx *ReviewContext) (string, error) {
	if err := b.validate(ctx); err != nil {
		return "", err
	}

	var sb strings.Builder

	sb.WriteString("# Code Review\n\n")
	b.writeBaseInstructions(&sb, ctx)

	sb.WriteString("## Original Task\n\n")
	sb.WriteString(strings.TrimSpace(ctx.TaskSummary))
	sb.WriteString("\n\n")

	if ctx.Criteria != nil {
		b.writeCriteriaSection(&sb, ctx.Criteria)
	}

	sb.WriteString("When your review is complete, use your review tool to submit the full review text ")
	sb.WriteString("with a decision of either \"approve\" or \"request_changes\".\n")

	return sb.String(), nil
}

// validate checks that the context has all required fields for review prompts.
func (b *ReviewBuilder) validate(ctx *ReviewContext) error {
	if ctx == nil {
		return ErrNilContext
	}
	if ctx.Workdir == "" {
		return ErrMissingWorkdir
	}
	if ctx.TaskSummary == "" {
		return ErrMissingTaskSummary
	}
	return nil
}

func (b *ReviewBuilder) writeBaseInstructions(sb *strings.Builder, ctx *ReviewContext) {
	fmt.Fprintf(sb, "You are reviewing changes produced by another agent. The changes live in the git worktree `%s`", ctx.Workdir)
	if ctx.Branch != "" {
		fmt.Fprintf(sb, " on branch `%s`", ctx.Branch)
	}
	sb.WriteString(".\n")
	if ctx.BaseBranch != "" {
		fmt.Fprintf(sb, "Compare against `%s` to see what changed.\n", ctx.BaseBranch)
	}
	if ctx.Iteration > 1 {
		fmt.Fprintf(sb, "This is review round %d for this work.\n", ctx.Iteration)
	}
	sb.WriteString("\n## Guidelines\n\n")
	sb.WriteString("- Read the full diff before judging anything\n")
	sb.WriteString("- Check that the implementation actually satisfies the task\n")
	sb.WriteString("- Run the tests if the project has them\n")
	sb.WriteString("- Report concrete problems with file and line references\n")
	sb.WriteString("- Request changes only for real defects, not style preferences\n\n")
}

func (b *ReviewBuilder) writeCriteriaSection(sb *strings.Builder, c *Criteria) {
	sb.WriteString("## Review Criteria\n\n")
	if c.Name != "" {
		fmt.Fprintf(sb, "Criteria set: %s\n\n", c.Name)
	}
	if len(c.FocusAreas) > 0 {
		sb.WriteString("Focus on:\n")
		for _, area := range c.FocusAreas {
			fmt.Fprintf(sb, "- %s\n", area)
		}
		sb.WriteString("\n")
	}
	if c.SeverityFloor != "" {
		fmt.Fprintf(sb, "Only report findings of severity %q or worse.\n\n", c.SeverityFloor)
	}
}
