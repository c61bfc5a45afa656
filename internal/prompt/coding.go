package prompt

import (
	"fmt"
	"strings"
)

// CodingContext provides the information needed to build a coding prompt.
type CodingContext struct {
	// Workdir is the instance worktree the agent operates in.
	Workdir string

	// Branch is the working branch created for the instance.
	Branch string

	// BaseBranch is the branch the work will eventually merge into.
	BaseBranch string

	// Issue is the task source when the instance was started from an
	// issue. May be nil when Instructions carries the task.
	Issue *IssueInfo

	// Instructions holds caller-supplied task or additional instructions.
	Instructions string
}

// CodingBuilder builds the initial prompt for coding instances.
type CodingBuilder struct{}

// NewCodingBuilder creates a new CodingBuilder.
func NewCodingBuilder() *CodingBuilder {
	return &CodingBuilder{}
}

// Build generates the coding prompt from the context.
func (b *CodingBuilder) Build(ctx *CodingContext) (string, error) {
	if err := b.validate(ctx); err != nil {
		return "", err
	}

	var sb strings.Builder

	sb.WriteString("# Coding Task\n\n")
	b.writeBaseInstructions(&sb, ctx)

	if ctx.Issue != nil {
		b.writeIssueSection(&sb, ctx.Issue)
	}

	if ctx.Instructions != "" {
		sb.WriteString("## Additional Instructions\n\n")
		sb.WriteString(strings.TrimSpace(ctx.Instructions))
		sb.WriteString("\n\n")
	}

	sb.WriteString("Begin working on the task now.\n")

	return sb.String(), nil
}

// validate checks that the context has all required fields for coding prompts.
func (b *CodingBuilder) validate(ctx *CodingContext) error {
	if ctx == nil {
		return ErrNilContext
	}
	if ctx.Workdir == "" {
		return ErrMissingWorkdir
	}
	if ctx.Issue == nil && ctx.Instructions == "" {
		return ErrMissingInstructions
	}
	return nil
}

func (b *CodingBuilder) writeBaseInstructions(sb *strings.Builder, ctx *CodingContext) {
	fmt.Fprintf(sb, "You are an autonomous coding agent working in the git worktree `%s`", ctx.Workdir)
	if ctx.Branch != "" {
		fmt.Fprintf(sb, " on branch `%s`", ctx.Branch)
	}
	if ctx.BaseBranch != "" {
		fmt.Fprintf(sb, " (branched from `%s`)", ctx.BaseBranch)
	}
	sb.WriteString(".\n\n")

	sb.WriteString("## Guidelines\n\n")
	sb.WriteString("- Work only inside your worktree directory\n")
	sb.WriteString("- Make focused commits as you complete logical units of work\n")
	sb.WriteString("- Run the project's tests before considering the task done\n")
	sb.WriteString("- When your implementation is complete and committed, request a review with your request_review tool\n\n")
}

func (b *CodingBuilder) writeIssueSection(sb *strings.Builder, issue *IssueInfo) {
	fmt.Fprintf(sb, "## Issue #%d: %s\n\n", issue.Number, issue.Title)
	if body := strings.TrimSpace(issue.Body); body != "" {
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	if issue.URL != "" {
		fmt.Fprintf(sb, "Issue URL: %s\n\n", issue.URL)
	}
}
