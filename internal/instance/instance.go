// Package instance defines the persisted data model shared by the coding
// and review workflows: instances, the directed relationships between
// them, and the derived phase vocabulary computed from persisted status.
package instance

import "time"

// Kind classifies what kind of worker an instance is.
type Kind string

const (
	KindCoding   Kind = "coding"
	KindReview   Kind = "review"
	KindPlanning Kind = "planning"
)

// Status is the persisted lifecycle state of an instance. Transitions
// are monotonic: an instance never re-enters started after leaving it.
type Status string

const (
	StatusStarted       Status = "started"
	StatusWaitingReview Status = "waiting_review"
	StatusPRCreated     Status = "pr_created"
	StatusPRMerged      Status = "pr_merged"
	StatusPRClosed      Status = "pr_closed"
	StatusTerminated    Status = "terminated"
)

// Terminal reports whether the status is final. Only terminated is
// terminal; every other status is a live instance.
func (s Status) Terminal() bool {
	return s == StatusTerminated
}

// Instance is one provisioned coding or review worker. Rows are created
// at the start of execute (before any external resource exists), updated
// in place, and never deleted. TerminatedAt is non-nil iff status is
// terminated.
type Instance struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	Status       Status     `json:"status"`
	WorktreePath string     `json:"worktree_path,omitempty"`
	Branch       string     `json:"branch,omitempty"`
	BaseBranch   string     `json:"base_branch,omitempty"`
	SessionName  string     `json:"session_name,omitempty"`
	PID          int        `json:"pid,omitempty"`
	IssueNumber  int        `json:"issue_number,omitempty"`
	PRNumber     int        `json:"pr_number,omitempty"`
	PRURL        string     `json:"pr_url,omitempty"`
	ParentID     string     `json:"parent_id,omitempty"`
	Prompt       string     `json:"prompt,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
}
