package instance

import (
	"encoding/json"
	"fmt"
	"time"
)

// RelationshipKind types the directed edge between two instances.
type RelationshipKind string

const (
	RelSpawnedReview   RelationshipKind = "spawned_review"
	RelCreatedFork     RelationshipKind = "created_fork"
	RelPlanningToIssue RelationshipKind = "planning_to_issue"
)

// Relationship is a directed parent→child edge. The triple
// (parent, child, kind) is unique. A relationship is created once by the
// workflow spawning the child and its metadata is written exactly once
// more by the workflow owning the child's completion; rows are never
// deleted.
type Relationship struct {
	ID        int64            `json:"id"`
	ParentID  string           `json:"parent_id"`
	ChildID   string           `json:"child_id"`
	Kind      RelationshipKind `json:"kind"`
	Iteration int              `json:"iteration"`
	Metadata  string           `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Decision is the outcome of a completed review.
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionRequestChanges Decision = "request_changes"
)

// ParseDecision validates a decision string from an external boundary
// (CLI flag, control-server tool argument).
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApprove, DecisionRequestChanges:
		return Decision(s), nil
	default:
		return "", fmt.Errorf("invalid decision %q (want %q or %q)", s, DecisionApprove, DecisionRequestChanges)
	}
}

// ReviewMetadata is the structured payload stored in a spawned_review
// relationship's metadata column.
type ReviewMetadata struct {
	ReviewText  string     `json:"review_text,omitempty"`
	Decision    Decision   `json:"decision,omitempty"`
	RequestedAt time.Time  `json:"requested_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EncodeReviewMetadata serializes the payload for the metadata column.
func EncodeReviewMetadata(m ReviewMetadata) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode review metadata: %w", err)
	}
	return string(data), nil
}

// DecodeReviewMetadata parses a metadata column value. An empty value
// decodes to the zero payload.
func DecodeReviewMetadata(raw string) (ReviewMetadata, error) {
	var m ReviewMetadata
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return m, fmt.Errorf("failed to decode review metadata: %w", err)
	}
	return m, nil
}
