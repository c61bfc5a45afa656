package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchworks/dispatch/internal/errors"
	"github.com/dispatchworks/dispatch/internal/instance"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err, "opening store should succeed")
	t.Cleanup(func() { s.Close() })
	return s
}

func codingInstance(id string) *instance.Instance {
	return &instance.Instance{
		ID:          id,
		Kind:        instance.KindCoding,
		Status:      instance.StatusStarted,
		Branch:      "dispatch/" + id,
		BaseBranch:  "main",
		IssueNumber: 123,
	}
}

func TestCreateAndGetInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := codingInstance("work-123-1700000000-ab12")
	require.NoError(t, s.CreateInstance(ctx, in))

	got, err := s.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, instance.KindCoding, got.Kind)
	assert.Equal(t, instance.StatusStarted, got.Status)
	assert.Equal(t, "main", got.BaseBranch)
	assert.Equal(t, 123, got.IssueNumber)
	assert.False(t, got.CreatedAt.IsZero(), "created_at should be filled on insert")
	assert.False(t, got.LastActivity.IsZero(), "last_activity should be filled on insert")
	assert.Nil(t, got.TerminatedAt)
}

func TestGetInstanceUnknownReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetInstance(context.Background(), "work-999-0-none")
	require.NoError(t, err)
	assert.Nil(t, got, "unknown id should return nil, nil")
}

func TestCreateInstanceDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, codingInstance("work-1-1-aa")))
	err := s.CreateInstance(ctx, codingInstance("work-1-1-aa"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeStoreConflict), "duplicate id should surface as store conflict")
}

func TestUpdateInstancePartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := codingInstance("work-123-1700000001-cd34")
	require.NoError(t, s.CreateInstance(ctx, in))

	require.NoError(t, s.UpdateInstance(ctx, in.ID, InstanceUpdate{
		WorktreePath: String("/tmp/worktrees/work-123"),
		SessionName:  String("dispatch-work-123"),
		PID:          Int(4242),
	}))

	got, err := s.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "/tmp/worktrees/work-123", got.WorktreePath)
	assert.Equal(t, "dispatch-work-123", got.SessionName)
	assert.Equal(t, 4242, got.PID)
	// Untouched fields keep their values.
	assert.Equal(t, instance.StatusStarted, got.Status)
	assert.Equal(t, "main", got.BaseBranch)
	assert.Equal(t, 123, got.IssueNumber)
}

func TestUpdateInstanceTermination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := codingInstance("work-123-1700000002-ef56")
	require.NoError(t, s.CreateInstance(ctx, in))

	now := time.Now()
	require.NoError(t, s.UpdateInstance(ctx, in.ID, InstanceUpdate{
		Status:       Status(instance.StatusTerminated),
		LastActivity: Time(now),
		TerminatedAt: Time(now),
	}))

	got, err := s.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, instance.StatusTerminated, got.Status)
	require.NotNil(t, got.TerminatedAt)
	assert.WithinDuration(t, now, *got.TerminatedAt, time.Second)
	assert.WithinDuration(t, now, got.LastActivity, time.Second)
}

func TestUpdateInstanceUnknownID(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateInstance(context.Background(), "work-404-0-none", InstanceUpdate{
		Status: Status(instance.StatusTerminated),
	})
	require.Error(t, err, "updating an unknown instance should fail")
}

func TestUpdateInstanceEmptyUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := codingInstance("work-123-1700000003-gh78")
	require.NoError(t, s.CreateInstance(ctx, in))
	require.NoError(t, s.UpdateInstance(ctx, in.ID, InstanceUpdate{}), "empty update should be a no-op")
}

func TestListInstancesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := codingInstance("work-1-1700000000-aa11")
	older.CreatedAt = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := codingInstance("work-2-1700000100-bb22")
	newer.CreatedAt = time.Date(2025, 5, 1, 11, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateInstance(ctx, older))
	require.NoError(t, s.CreateInstance(ctx, newer))

	all, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, older.ID, all[1].ID)
}

func TestListInstancesSubsecondOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	whole := codingInstance("work-1-1700000000-aa11")
	whole.CreatedAt = base
	later := codingInstance("work-2-1700000000-bb22")
	later.CreatedAt = base.Add(500 * time.Millisecond)

	require.NoError(t, s.CreateInstance(ctx, whole))
	require.NoError(t, s.CreateInstance(ctx, later))

	all, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, later.ID, all[0].ID, "sub-second creation times keep newest-first order")
}

func TestCreateRelationshipAssignsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := codingInstance("work-123-1700000004-ij90")
	require.NoError(t, s.CreateInstance(ctx, parent))

	rel := &instance.Relationship{
		ParentID:  parent.ID,
		ChildID:   "review-" + parent.ID + "-1",
		Kind:      instance.RelSpawnedReview,
		Iteration: 1,
	}
	require.NoError(t, s.CreateRelationship(ctx, rel))
	assert.NotZero(t, rel.ID, "insert should fill the row id")
}

func TestRelationshipUniqueTriple(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := codingInstance("work-123-1700000005-kl12")
	require.NoError(t, s.CreateInstance(ctx, parent))

	rel := &instance.Relationship{
		ParentID:  parent.ID,
		ChildID:   "review-" + parent.ID + "-1",
		Kind:      instance.RelSpawnedReview,
		Iteration: 1,
	}
	require.NoError(t, s.CreateRelationship(ctx, rel))

	dup := &instance.Relationship{
		ParentID:  rel.ParentID,
		ChildID:   rel.ChildID,
		Kind:      rel.Kind,
		Iteration: 2,
	}
	err := s.CreateRelationship(ctx, dup)
	require.Error(t, err, "duplicate (parent, child, kind) should be rejected")
	assert.True(t, errors.HasCode(err, errors.CodeStoreConflict))
}

func TestGetRelationshipsBothSides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := codingInstance("work-123-1700000006-mn34")
	require.NoError(t, s.CreateInstance(ctx, parent))

	first := &instance.Relationship{
		ParentID: parent.ID, ChildID: "review-" + parent.ID + "-1",
		Kind: instance.RelSpawnedReview, Iteration: 1,
	}
	second := &instance.Relationship{
		ParentID: parent.ID, ChildID: "review-" + parent.ID + "-2",
		Kind: instance.RelSpawnedReview, Iteration: 2,
	}
	require.NoError(t, s.CreateRelationship(ctx, first))
	require.NoError(t, s.CreateRelationship(ctx, second))

	// Parent side sees both, in creation order.
	rels, err := s.GetRelationships(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, 1, rels[0].Iteration)
	assert.Equal(t, 2, rels[1].Iteration)

	// Child side sees its own edge.
	rels, err = s.GetRelationships(ctx, first.ChildID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, parent.ID, rels[0].ParentID)
}

func TestUpdateRelationshipMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := codingInstance("work-123-1700000007-op56")
	require.NoError(t, s.CreateInstance(ctx, parent))

	rel := &instance.Relationship{
		ParentID: parent.ID, ChildID: "review-" + parent.ID + "-1",
		Kind: instance.RelSpawnedReview, Iteration: 1,
	}
	require.NoError(t, s.CreateRelationship(ctx, rel))

	meta, err := instance.EncodeReviewMetadata(instance.ReviewMetadata{
		ReviewText: "looks good",
		Decision:   instance.DecisionApprove,
	})
	require.NoError(t, err)
	require.NoError(t, s.UpdateRelationship(ctx, rel.ID, RelationshipUpdate{Metadata: &meta}))

	rels, err := s.GetRelationships(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)

	decoded, err := instance.DecodeReviewMetadata(rels[0].Metadata)
	require.NoError(t, err)
	assert.Equal(t, instance.DecisionApprove, decoded.Decision)
	assert.Equal(t, "looks good", decoded.ReviewText)
}

func TestReadYourWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := codingInstance("work-123-1700000008-qr78")
	require.NoError(t, s.CreateInstance(ctx, in))
	require.NoError(t, s.UpdateInstance(ctx, in.ID, InstanceUpdate{
		Status: Status(instance.StatusWaitingReview),
	}))

	got, err := s.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, instance.StatusWaitingReview, got.Status)
}
