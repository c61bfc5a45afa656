package cmd

import (
	"fmt"

	"github.com/dispatchworks/dispatch/internal/reconcile"
	"github.com/spf13/cobra"
)

var (
	reconcileDryRun bool
	reconcileForce  bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Release resources left behind by terminated instances",
	Long: `Reconcile scans for resources that outlived their instances: worktrees,
sessions and processes recorded on terminated instances, and tmux
servers no live instance owns. Worktrees with uncommitted changes are
skipped unless --force is given.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report leftovers without releasing anything")
	reconcileCmd.Flags().BoolVarP(&reconcileForce, "force", "f", false, "remove worktrees even with uncommitted changes")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	sweeper := eng.sweeper(reconcileForce)

	if reconcileDryRun {
		scanned, leftovers, err := sweeper.Snapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to scan instances: %w", err)
		}
		fmt.Printf("Scanned %d instances, %d with leftover resources.\n", scanned, len(leftovers))
		for _, lo := range leftovers {
			fmt.Printf("\n%s\n", lo.InstanceID)
			if lo.WorktreePath != "" {
				fmt.Printf("  worktree: %s\n", lo.WorktreePath)
			}
			if lo.SessionName != "" {
				fmt.Printf("  session:  %s\n", lo.SessionName)
			}
			if lo.Socket != "" {
				fmt.Printf("  server:   %s\n", lo.Socket)
			}
			if lo.PID != 0 {
				fmt.Printf("  process:  %d\n", lo.PID)
			}
		}
		if len(leftovers) > 0 {
			fmt.Println("\nRun without --dry-run to release them.")
		}
		return nil
	}

	report, err := sweeper.Sweep(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to reconcile: %w", err)
	}

	fmt.Printf("Scanned %d instances, %d with leftover resources.\n", report.Scanned, report.Leftovers)
	for _, res := range report.Results {
		switch res.Outcome {
		case reconcile.OutcomeRemoved:
			fmt.Printf("  removed %s %s\n", res.Resource, res.Target)
		case reconcile.OutcomeSkipped:
			fmt.Printf("  skipped %s %s (%s)\n", res.Resource, res.Target, res.Reason)
		case reconcile.OutcomeFailed:
			fmt.Printf("  FAILED  %s %s (%s)\n", res.Resource, res.Target, res.Reason)
		}
	}

	failed := report.Count(reconcile.OutcomeFailed)
	fmt.Printf("\n%d removed, %d skipped, %d failed.\n",
		report.Count(reconcile.OutcomeRemoved),
		report.Count(reconcile.OutcomeSkipped),
		failed)
	if failed > 0 {
		return fmt.Errorf("reconcile finished with %d failures", failed)
	}
	return nil
}
