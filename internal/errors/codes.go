package errors

// Code is a stable, machine-readable error code. Codes are part of the
// engine's public contract: callers branch on them and they appear in
// serialized records, so existing values never change meaning.
type Code string

// Workflow codes.
const (
	CodeInstanceNotFound         Code = "WORKFLOW_INSTANCE_NOT_FOUND"
	CodeInvalidState             Code = "WORKFLOW_INVALID_STATE"
	CodeMaxReviewsExceeded       Code = "WORKFLOW_MAX_REVIEWS_EXCEEDED"
	CodeReviewInProgress         Code = "WORKFLOW_REVIEW_IN_PROGRESS"
	CodeInvalidConfiguration     Code = "WORKFLOW_INVALID_CONFIGURATION"
	CodeResourceAllocationFailed Code = "WORKFLOW_RESOURCE_ALLOCATION_FAILED"
	CodeExecutionTimeout         Code = "WORKFLOW_EXECUTION_TIMEOUT"
	CodeCleanupFailed            Code = "WORKFLOW_CLEANUP_FAILED"
	CodeParentNotFound           Code = "WORKFLOW_PARENT_NOT_FOUND"
	CodeParentInvalidState       Code = "WORKFLOW_PARENT_INVALID_STATE"
	CodeForkFailed               Code = "WORKFLOW_FORK_FAILED"
	CodeReviewTimeout            Code = "WORKFLOW_REVIEW_TIMEOUT"
	CodeMergeConflict            Code = "WORKFLOW_MERGE_CONFLICT"
	CodeParentUpdateFailed       Code = "WORKFLOW_PARENT_UPDATE_FAILED"
	CodePRCreationFailed         Code = "WORKFLOW_PR_CREATION_FAILED"
)

// Git codes.
const (
	CodeGitCommandFailed Code = "GIT_COMMAND_FAILED"
	CodeGitRepoNotFound  Code = "GIT_REPO_NOT_FOUND"
)

// Worktree codes.
const (
	CodeWorktreeCreateFailed Code = "WORKTREE_CREATE_FAILED"
	CodeWorktreeRemoveFailed Code = "WORKTREE_REMOVE_FAILED"
)

// GitHub codes.
const (
	CodeIssueFetchFailed Code = "GITHUB_ISSUE_FETCH_FAILED"
	CodeIssueCloseFailed Code = "GITHUB_ISSUE_CLOSE_FAILED"
	CodePRCreateFailed   Code = "GITHUB_PR_CREATE_FAILED"
)

// Session codes.
const (
	CodeSessionCreateFailed Code = "SESSION_CREATE_FAILED"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeSessionInputFailed  Code = "SESSION_INPUT_FAILED"
)

// Store codes.
const (
	CodeStoreOpenFailed Code = "STORE_OPEN_FAILED"
	CodeStoreConflict   Code = "STORE_CONFLICT"
)
