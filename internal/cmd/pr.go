package cmd

import (
	"fmt"

	"github.com/dispatchworks/dispatch/internal/workflow"
	"github.com/spf13/cobra"
)

var (
	prTitle     string
	prDraft     bool
	prLabels    []string
	prReviewers []string
)

var prCmd = &cobra.Command{
	Use:   "pr <instance-id>",
	Short: "Open a pull request for an instance's branch",
	Long: `PR pushes the instance's branch and opens a pull request against its
base branch. The body is rendered from the configured template with the
changed file list, and reviewers are routed by path rules unless given
explicitly.`,
	Args: cobra.ExactArgs(1),
	RunE: runPR,
}

func init() {
	rootCmd.AddCommand(prCmd)
	prCmd.Flags().StringVarP(&prTitle, "title", "t", "", "pull request title")
	prCmd.Flags().BoolVar(&prDraft, "draft", false, "open as a draft")
	prCmd.Flags().StringSliceVarP(&prLabels, "label", "l", nil, "label to apply (repeatable)")
	prCmd.Flags().StringSliceVar(&prReviewers, "reviewer", nil, "reviewer to request (repeatable)")
}

func runPR(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	id := args[0]
	labels := append([]string(nil), eng.cfg.PR.Labels...)
	labels = append(labels, prLabels...)

	opts := workflow.PullRequestOptions{
		Title:        prTitle,
		BodyTemplate: eng.cfg.PR.Template,
		Draft:        prDraft || eng.cfg.PR.Draft,
		Labels:       labels,
		Reviewers:    prReviewers,
	}
	if len(opts.Reviewers) == 0 {
		opts.Reviewers = eng.resolveReviewers(cmd.Context(), id)
	}

	created, err := eng.coding.CreatePullRequest(cmd.Context(), id, opts)
	if err != nil {
		return commandError("create pull request for "+id, err)
	}

	fmt.Printf("Opened PR #%d\n", created.Number)
	fmt.Printf("  %s\n", created.URL)
	return nil
}
