package errors

// suggestions maps (module, code) to a remediation hint shown to users.
// Not every code has one; UserMessage falls back to the raw message.
var suggestions = map[string]map[Code]string{
	ModuleWorkflow: {
		CodeInstanceNotFound:         "Check the instance id with 'dispatch list'",
		CodeInvalidState:             "The instance has already been terminated and cannot accept new operations",
		CodeMaxReviewsExceeded:       "This instance has used all its review iterations; create the pull request or terminate it",
		CodeReviewInProgress:         "Wait for the current review to complete or terminate the review instance first",
		CodeInvalidConfiguration:     "Check the workflow configuration values and try again",
		CodeResourceAllocationFailed: "Verify git, tmux and claude are installed and the repository path is correct",
		CodeExecutionTimeout:         "The workflow exceeded its execution timeout; terminate the instance to release its resources",
		CodeCleanupFailed:            "Run 'dispatch reconcile' to release lingering resources",
		CodeParentNotFound:           "Check the parent instance id with 'dispatch list'",
		CodeParentInvalidState:       "Parent instance must be in 'working' state to request review",
		CodeForkFailed:               "Verify the parent branch exists and has no conflicting worktree checkout",
		CodeReviewTimeout:            "The review exceeded its timeout; save the review manually or terminate the review instance",
		CodeMergeConflict:            "Resolve the conflicts in the instance worktree before retrying",
		CodeParentUpdateFailed:       "The parent session may be gone; check it with 'dispatch status'",
		CodePRCreationFailed:         "Check 'gh auth status' and that the branch was pushed",
	},
	ModuleGit: {
		CodeGitCommandFailed: "Check that git is installed and the repository is in a clean state",
		CodeGitRepoNotFound:  "Run dispatch from inside a git repository or set the repo path in the config",
	},
	ModuleWorktree: {
		CodeWorktreeCreateFailed: "Check that the branch name is unused and the worktree base directory is writable",
		CodeWorktreeRemoveFailed: "Remove the worktree manually with 'git worktree remove --force' and run 'git worktree prune'",
	},
	ModuleGitHub: {
		CodeIssueFetchFailed: "Check 'gh auth status' and that the issue number exists in this repository",
		CodeIssueCloseFailed: "Close the issue manually with 'gh issue close <number>'",
		CodePRCreateFailed:   "Check 'gh auth status' and that the branch was pushed",
	},
	ModuleSession: {
		CodeSessionCreateFailed: "Check that tmux is installed and the socket directory is writable",
		CodeSessionNotFound:     "The tmux session is gone; terminate the instance to reconcile its state",
		CodeSessionInputFailed:  "The tmux session may have exited; check it with 'dispatch status'",
	},
}

// Suggestion returns the remediation hint for a (module, code) pair,
// reporting whether one is known.
func Suggestion(module string, code Code) (string, bool) {
	codes, ok := suggestions[module]
	if !ok {
		return "", false
	}
	s, ok := codes[code]
	return s, ok
}
