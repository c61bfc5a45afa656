package workflow

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// fallbackToken stands in for the issue number in ids of instances
// started without one.
const fallbackToken = "task"

// NewWorkID generates a coding instance id: work-<issue>-<unix>-<rand>.
// The Unix-seconds timestamp plus a uuid-derived suffix makes collisions
// negligible.
func NewWorkID(issueNumber int, now time.Time) string {
	token := fallbackToken
	if issueNumber > 0 {
		token = strconv.Itoa(issueNumber)
	}
	return fmt.Sprintf("work-%s-%d-%s", token, now.Unix(), uuid.NewString()[:8])
}

// ReviewID derives the deterministic id for a parent's nth review round.
func ReviewID(parentID string, iteration int) string {
	return fmt.Sprintf("review-%s-%d", parentID, iteration)
}

// BranchFor derives the default branch name for an instance.
func BranchFor(instanceID string) string {
	return "dispatch/" + instanceID
}
