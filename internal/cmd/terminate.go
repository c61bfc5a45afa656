package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	terminateReason     string
	terminateCloseIssue bool
)

var terminateCmd = &cobra.Command{
	Use:   "terminate <instance-id>",
	Short: "Terminate an instance and release its resources",
	Long: `Terminate marks the instance terminated, then tears down its tmux
session, assistant process and worktree. The status update commits
before teardown, so a partial failure leaves the instance terminated
with leftovers that a later reconcile pass releases.`,
	Args: cobra.ExactArgs(1),
	RunE: runTerminate,
}

func init() {
	rootCmd.AddCommand(terminateCmd)
	terminateCmd.Flags().StringVarP(&terminateReason, "reason", "r", "", "reason recorded in the engine log")
	terminateCmd.Flags().BoolVar(&terminateCloseIssue, "close-issue", false, "close the instance's linked GitHub issue")
}

func runTerminate(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	id := args[0]
	if err := eng.coding.Terminate(cmd.Context(), id, terminateReason); err != nil {
		return commandError("terminate "+id, err)
	}
	fmt.Printf("Terminated %s\n", id)

	if terminateCloseIssue {
		if err := closeLinkedIssue(cmd.Context(), eng, id); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return nil
}

func closeLinkedIssue(ctx context.Context, eng *engine, id string) error {
	inst, err := eng.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst == nil || inst.IssueNumber == 0 {
		return fmt.Errorf("instance %s has no linked issue", id)
	}
	if err := eng.issues.Close(ctx, inst.IssueNumber); err != nil {
		return err
	}
	fmt.Printf("Closed issue #%d\n", inst.IssueNumber)
	return nil
}
