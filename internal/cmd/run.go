package cmd

import (
	"fmt"

	"github.com/dispatchworks/dispatch/internal/tmux"
	"github.com/dispatchworks/dispatch/internal/workflow"
	"github.com/spf13/cobra"
)

var (
	runIssue        int
	runBase         string
	runBranch       string
	runInstructions string
	runMaxReviews   int
	runNoReview     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a coding instance",
	Long: `Run provisions a complete working environment for one coding task:
a git worktree on a fresh branch, a tmux session hosting the assistant,
and a control server the assistant drives the engine through. The task
comes from a GitHub issue, freeform instructions, or both.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVarP(&runIssue, "issue", "i", 0, "GitHub issue number to work on")
	runCmd.Flags().StringVarP(&runBase, "base", "b", "", "base branch (default: repository default branch)")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "work branch name (default: dispatch/<id>)")
	runCmd.Flags().StringVarP(&runInstructions, "instructions", "m", "", "task instructions for the assistant")
	runCmd.Flags().IntVar(&runMaxReviews, "max-reviews", 0, "review iterations before further reviews are refused")
	runCmd.Flags().BoolVar(&runNoReview, "no-review", false, "allow PR creation without an approved review")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runIssue == 0 && runInstructions == "" {
		return fmt.Errorf("nothing to work on: pass --issue or --instructions")
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	base := runBase
	if base == "" {
		base = eng.cfg.Repo.BaseBranch
	}
	cfg := &workflow.CodingConfig{
		BaseBranch:       base,
		IssueNumber:      runIssue,
		Instructions:     runInstructions,
		Branch:           runBranch,
		RequireReview:    !runNoReview,
		MaxReviews:       runMaxReviews,
		AssistantBinary:  eng.cfg.Assistant.Binary,
		AssistantArgs:    eng.cfg.Assistant.Args,
		ExecutionTimeout: eng.cfg.Workflow.ExecutionTimeout(),
	}

	exec, err := eng.coding.Execute(cmd.Context(), cfg)
	if err != nil {
		return commandError("start instance", err)
	}

	fmt.Printf("Started %s\n", exec.ID)
	fmt.Printf("  Branch:   %s\n", exec.Resources.Branch)
	fmt.Printf("  Worktree: %s\n", exec.Resources.WorktreePath)
	fmt.Printf("  Session:  %s\n", exec.Resources.SessionName)
	fmt.Printf("\nAttach with: tmux -L %s attach -t %s\n",
		tmux.InstanceSocketName(exec.ID), exec.Resources.SessionName)
	return nil
}
