package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/dispatchworks/dispatch/internal/tmux"
	"github.com/dispatchworks/dispatch/internal/util"
	"github.com/spf13/cobra"
)

var statusPane bool

var statusCmd = &cobra.Command{
	Use:   "status <instance-id>",
	Short: "Show the derived state of an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusPane, "pane", "p", false, "include the tail of the instance's tmux pane")
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	id := args[0]
	state, err := eng.coding.GetState(cmd.Context(), id)
	if err != nil {
		return commandError("get state for "+id, err)
	}
	if state == nil {
		return fmt.Errorf("no instance %s", id)
	}
	inst, err := eng.store.GetInstance(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to load instance %s: %w", id, err)
	}

	fmt.Printf("Instance: %s\n", id)
	fmt.Printf("  Phase:        %s\n", state.Phase)
	fmt.Printf("  Reviews:      %d/%d\n", state.ReviewCount, state.MaxReviews)
	if state.CurrentReviewInstanceID != "" {
		fmt.Printf("  Under review: %s\n", state.CurrentReviewInstanceID)
	}
	fmt.Printf("  Last active:  %s (%s ago)\n",
		state.LastActivity.Format(time.RFC3339), formatAge(time.Since(state.LastActivity)))
	if inst != nil {
		fmt.Printf("  Kind:         %s\n", inst.Kind)
		fmt.Printf("  Status:       %s\n", inst.Status)
		fmt.Printf("  Branch:       %s\n", inst.Branch)
		if inst.WorktreePath != "" {
			fmt.Printf("  Worktree:     %s\n", inst.WorktreePath)
		}
		if inst.PRURL != "" {
			fmt.Printf("  PR:           %s\n", inst.PRURL)
		}
	}

	if statusPane && inst != nil && inst.SessionName != "" {
		content, err := tmux.CapturePane(tmux.InstanceSocketName(id), inst.SessionName)
		if err != nil {
			fmt.Printf("\nWarning: failed to capture pane: %v\n", err)
			return nil
		}
		fmt.Printf("\n%s\n", strings.Repeat("─", 60))
		fmt.Println(paneTail(content, 20))
	}
	return nil
}

// formatAge renders a duration the way humans read instance ages.
// Negative durations clamp to zero.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		s := int(d.Seconds())
		if s < 0 {
			s = 0
		}
		return fmt.Sprintf("%ds", s)
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// paneTail returns the last n lines of captured pane content, each
// truncated to terminal width with ANSI sequences preserved.
func paneTail(content string, n int) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, line := range lines {
		lines[i] = util.TruncateANSI(line, 120)
	}
	return strings.Join(lines, "\n")
}
