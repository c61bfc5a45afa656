// Package store persists instances and their relationships. The
// workflows depend only on the Store interface; the SQLite
// implementation lives alongside it.
package store

import (
	"context"
	"time"

	"github.com/dispatchworks/dispatch/internal/instance"
)

// InstanceUpdate is a partial update to an instance row. Nil fields are
// left untouched.
type InstanceUpdate struct {
	Status       *instance.Status
	WorktreePath *string
	Branch       *string
	BaseBranch   *string
	SessionName  *string
	PID          *int
	PRNumber     *int
	PRURL        *string
	Prompt       *string
	LastActivity *time.Time
	TerminatedAt *time.Time
}

// RelationshipUpdate is a partial update to a relationship row.
type RelationshipUpdate struct {
	Metadata *string
}

// Store is the persistence boundary for the workflows. A single handle
// gives read-your-writes consistency for state checks.
type Store interface {
	CreateInstance(ctx context.Context, inst *instance.Instance) error
	// GetInstance returns nil, nil when no instance has the given id.
	GetInstance(ctx context.Context, id string) (*instance.Instance, error)
	UpdateInstance(ctx context.Context, id string, update InstanceUpdate) error
	ListInstances(ctx context.Context) ([]*instance.Instance, error)

	CreateRelationship(ctx context.Context, rel *instance.Relationship) error
	// GetRelationships returns every relationship where the instance is
	// parent or child, in creation order.
	GetRelationships(ctx context.Context, instanceID string) ([]*instance.Relationship, error)
	UpdateRelationship(ctx context.Context, id int64, update RelationshipUpdate) error

	Close() error
}

// Helpers for building partial updates at call sites.

// String returns a pointer to s for use in update structs.
func String(s string) *string { return &s }

// Int returns a pointer to n for use in update structs.
func Int(n int) *int { return &n }

// Status returns a pointer to s for use in update structs.
func Status(s instance.Status) *instance.Status { return &s }

// Time returns a pointer to t for use in update structs.
func Time(t time.Time) *time.Time { return &t }
