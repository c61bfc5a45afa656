package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/dispatchworks/dispatch/internal/instance"
	"github.com/dispatchworks/dispatch/internal/prompt"
	"github.com/dispatchworks/dispatch/internal/workflow"
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Request, start and save reviews",
}

var reviewRequestCmd = &cobra.Command{
	Use:   "request <parent-id>",
	Short: "Reserve a review slot for a coding instance",
	Long: `Request reserves the next review iteration for a coding instance.
Only one review may be live per instance, and the reservation counts
against the instance's review limit. The reserved id is what review
start provisions and review save records against.`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewRequest,
}

var (
	reviewStartSummary  string
	reviewStartID       string
	reviewStartIssue    int
	reviewStartCriteria string
)

var reviewStartCmd = &cobra.Command{
	Use:   "start <parent-id>",
	Short: "Provision a review instance for a reserved slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewStart,
}

var (
	reviewSaveDecision string
	reviewSaveFile     string
)

var reviewSaveCmd = &cobra.Command{
	Use:   "save <review-id>",
	Short: "Record a finished review and deliver the verdict",
	Long: `Save persists the review text, delivers the verdict to the parent
instance's session, and tears the review instance down. The review text
comes from stdin unless --file is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewSave,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewRequestCmd)
	reviewCmd.AddCommand(reviewStartCmd)
	reviewCmd.AddCommand(reviewSaveCmd)

	reviewStartCmd.Flags().StringVarP(&reviewStartSummary, "summary", "m", "", "task summary shown to the reviewer")
	reviewStartCmd.Flags().StringVar(&reviewStartID, "id", "", "reserved review id (default: the parent's pending reservation)")
	reviewStartCmd.Flags().IntVar(&reviewStartIssue, "issue", 0, "issue number carried to the reviewer (default: parent's)")
	reviewStartCmd.Flags().StringVar(&reviewStartCriteria, "criteria", "", "YAML file narrowing the review focus")

	reviewSaveCmd.Flags().StringVarP(&reviewSaveDecision, "decision", "d", "", "approve or request_changes (required)")
	reviewSaveCmd.Flags().StringVarP(&reviewSaveFile, "file", "f", "", "read the review text from a file instead of stdin")
	_ = reviewSaveCmd.MarkFlagRequired("decision")
}

func runReviewRequest(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	parentID := args[0]
	reviewID, err := eng.coding.RequestReview(cmd.Context(), parentID, eng.cfg.Workflow.MaxReviews)
	if err != nil {
		return commandError("request review for "+parentID, err)
	}

	fmt.Printf("Reserved review %s\n", reviewID)
	fmt.Printf("\nStart it with: dispatch review start %s\n", parentID)
	return nil
}

func runReviewStart(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	cfg := &workflow.ReviewConfig{
		ParentID:         args[0],
		ReviewInstanceID: reviewStartID,
		IssueNumber:      reviewStartIssue,
		TaskSummary:      reviewStartSummary,
		Timeout:          eng.cfg.Workflow.ReviewTimeout(),
		AssistantBinary:  eng.cfg.Assistant.Binary,
		AssistantArgs:    eng.cfg.Assistant.Args,
	}
	if reviewStartCriteria != "" {
		criteria, err := prompt.LoadCriteria(reviewStartCriteria)
		if err != nil {
			return fmt.Errorf("failed to load review criteria: %w", err)
		}
		cfg.Criteria = criteria
	}

	exec, err := eng.review.Execute(cmd.Context(), cfg)
	if err != nil {
		return commandError("start review for "+args[0], err)
	}

	fmt.Printf("Started review %s\n", exec.ID)
	fmt.Printf("  Branch:   %s\n", exec.Resources.Branch)
	fmt.Printf("  Worktree: %s\n", exec.Resources.WorktreePath)
	fmt.Printf("  Session:  %s\n", exec.Resources.SessionName)
	return nil
}

func runReviewSave(cmd *cobra.Command, args []string) error {
	decision, err := instance.ParseDecision(reviewSaveDecision)
	if err != nil {
		return err
	}

	var text []byte
	if reviewSaveFile != "" {
		text, err = os.ReadFile(reviewSaveFile)
		if err != nil {
			return fmt.Errorf("failed to read review file: %w", err)
		}
	} else {
		text, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read review from stdin: %w", err)
		}
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	id := args[0]
	if err := eng.review.SaveReview(cmd.Context(), id, string(text), decision); err != nil {
		return commandError("save review "+id, err)
	}
	fmt.Printf("Saved review %s (%s)\n", id, decision)
	return nil
}
