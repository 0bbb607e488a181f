package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
)

var _ store.GraphStore = (*Store)(nil)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
	return s
}

func testEntity(id, entityType string, embedding []float32) model.Entity {
	props := model.NewProperties()
	props.Set("name", model.String(id))
	return model.Entity{
		ID:         id,
		EntityType: entityType,
		Properties: props,
		Embedding:  embedding,
		Metadata:   model.Metadata{Source: "test", Confidence: 0.9},
	}
}

func tenantCtx(id string) *model.TenantContext {
	return &model.TenantContext{TenantID: id}
}

func TestAddGetRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddEntity(ctx, nil, testEntity("alice", "person", []float32{1, 0})))

	got, err := s.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "person", got.EntityType)
	assert.False(t, got.Metadata.CreatedAt.IsZero())

	err = s.AddEntity(ctx, nil, testEntity("alice", "person", nil))
	assert.True(t, kgerr.IsDuplicateID(err))

	_, err = s.GetEntity(ctx, nil, "nobody")
	assert.True(t, kgerr.IsNotFound(err))
}

func TestReturnedEntityIsACopy(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddEntity(ctx, nil, testEntity("alice", "person", nil)))

	got, err := s.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)
	got.Properties.Set("name", model.String("mutated"))
	got.EntityType = "robot"

	again, err := s.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "person", again.EntityType)
	name, _ := again.Properties.Get("name")
	str, _ := name.AsString()
	assert.Equal(t, "alice", str)
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddEntity(ctx, nil, testEntity("alice", "person", nil)))
	created, err := s.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)

	updated := testEntity("alice", "person", nil)
	updated.Properties.Set("team", model.String("infra"))
	require.NoError(t, s.UpdateEntity(ctx, nil, updated))

	got, err := s.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.Metadata.CreatedAt, got.Metadata.CreatedAt)
	assert.True(t, got.Properties.Has("team"))

	err = s.UpdateEntity(ctx, nil, testEntity("ghost", "person", nil))
	assert.True(t, kgerr.IsNotFound(err))
}

func TestTenantScoping(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	acme := testEntity("shared-id", "person", nil)
	globex := testEntity("shared-id", "company", nil)
	require.NoError(t, s.AddEntity(ctx, tenantCtx("acme"), acme))
	require.NoError(t, s.AddEntity(ctx, tenantCtx("globex"), globex))

	got, err := s.GetEntity(ctx, tenantCtx("acme"), "shared-id")
	require.NoError(t, err)
	assert.Equal(t, "person", got.EntityType)

	got, err = s.GetEntity(ctx, tenantCtx("globex"), "shared-id")
	require.NoError(t, err)
	assert.Equal(t, "company", got.EntityType)

	_, err = s.GetEntity(ctx, nil, "shared-id")
	assert.True(t, kgerr.IsNotFound(err))

	// "default" and nil address the same legacy scope.
	require.NoError(t, s.AddEntity(ctx, nil, testEntity("legacy", "person", nil)))
	_, err = s.GetEntity(ctx, tenantCtx("default"), "legacy")
	assert.NoError(t, err)
}

func TestRelationsAndDeferredResolution(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddEntity(ctx, nil, testEntity("alice", "person", nil)))

	missing := model.Relation{ID: "r1", RelationType: "knows", SourceID: "alice", TargetID: "bob", Weight: 1}
	err := s.AddRelation(ctx, nil, missing, false)
	assert.True(t, kgerr.IsNotFound(err))

	require.NoError(t, s.AddRelation(ctx, nil, missing, true))
	rels, err := s.GetRelations(ctx, nil, []string{"alice"}, model.DirectionOutgoing, nil)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.True(t, rels[0].Unresolved)

	// Unresolved relations stay invisible to neighbor expansion.
	neighbors, err := s.GetNeighbors(ctx, nil, "alice", model.DirectionBoth, nil)
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	// Adding the missing endpoint resolves the relation.
	require.NoError(t, s.AddEntity(ctx, nil, testEntity("bob", "person", nil)))
	rels, err = s.GetRelations(ctx, nil, []string{"alice"}, model.DirectionOutgoing, nil)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.False(t, rels[0].Unresolved)

	neighbors, err = s.GetNeighbors(ctx, nil, "alice", model.DirectionBoth, nil)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "bob", neighbors[0].ID)
}

func TestGetRelationsDirectionAndType(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, s.AddEntity(ctx, nil, testEntity(id, "person", nil)))
	}
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "r1", RelationType: "knows", SourceID: "alice", TargetID: "bob", Weight: 1}, false))
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "r2", RelationType: "manages", SourceID: "carol", TargetID: "alice", Weight: 1}, false))

	out, err := s.GetRelations(ctx, nil, []string{"alice"}, model.DirectionOutgoing, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)

	in, err := s.GetRelations(ctx, nil, []string{"alice"}, model.DirectionIncoming, nil)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "r2", in[0].ID)

	both, err := s.GetRelations(ctx, nil, []string{"alice"}, model.DirectionBoth, []string{"knows"})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "r1", both[0].ID)
}

func TestQueryFiltersAndPagination(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		e := testEntity(id, "person", nil)
		e.Properties.Set("rank", model.Int(int64(i)))
		require.NoError(t, s.AddEntity(ctx, nil, e))
	}
	require.NoError(t, s.AddEntity(ctx, nil, testEntity("org", "company", nil)))

	got, err := s.Query(ctx, nil, model.GraphQuery{EntityType: "person"})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = s.Query(ctx, nil, model.GraphQuery{
		EntityType: "person",
		Filters:    []model.PropertyFilter{{Field: "rank", Op: model.OpGte, Value: model.Int(2)}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)

	got, err = s.Query(ctx, nil, model.GraphQuery{EntityType: "person", Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestSimilarEntitiesOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddEntity(ctx, nil, testEntity("exact", "doc", []float32{1, 0})))
	require.NoError(t, s.AddEntity(ctx, nil, testEntity("close", "doc", []float32{0.9, 0.1})))
	require.NoError(t, s.AddEntity(ctx, nil, testEntity("far", "doc", []float32{0, 1})))
	require.NoError(t, s.AddEntity(ctx, nil, testEntity("blind", "doc", nil)))

	scored, err := s.SimilarEntities(ctx, nil, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "exact", scored[0].Entity.ID)
	assert.Equal(t, "close", scored[1].Entity.ID)
	assert.Greater(t, scored[0].Similarity, scored[1].Similarity)

	_, err = s.SimilarEntities(ctx, nil, nil, 2)
	assert.Error(t, err)
}

func TestDeleteEntityCascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, s.AddEntity(ctx, nil, testEntity(id, "person", nil)))
	}
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "r1", RelationType: "knows", SourceID: "alice", TargetID: "bob", Weight: 1}, false))
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "r2", RelationType: "knows", SourceID: "bob", TargetID: "alice", Weight: 1}, false))

	report, err := s.DeleteEntity(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, report.RelationsDeleted)
	assert.ElementsMatch(t, []string{"r1", "r2"}, report.RelationIDs)

	rels, err := s.GetRelations(ctx, nil, []string{"bob"}, model.DirectionBoth, nil)
	require.NoError(t, err)
	assert.Empty(t, rels)

	_, err = s.DeleteEntity(ctx, nil, "alice")
	assert.True(t, kgerr.IsNotFound(err))
}

func TestRepointRelations(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"dup", "canon", "other"} {
		require.NoError(t, s.AddEntity(ctx, nil, testEntity(id, "person", nil)))
	}
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "r1", RelationType: "knows", SourceID: "dup", TargetID: "other", Weight: 1}, false))
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "r2", RelationType: "knows", SourceID: "dup", TargetID: "canon", Weight: 1}, false))

	n, err := s.RepointRelations(ctx, nil, "dup", "canon")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rels, err := s.GetRelations(ctx, nil, []string{"canon"}, model.DirectionOutgoing, nil)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "other", rels[0].TargetID)

	// The dup-to-canon relation would have become a self-loop and is dropped.
	all, err := s.GetRelations(ctx, nil, []string{"canon"}, model.DirectionBoth, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMergeEntities(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"canon", "dup1", "dup2", "other"} {
		require.NoError(t, s.AddEntity(ctx, nil, testEntity(id, "person", nil)))
	}
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "r1", RelationType: "knows", SourceID: "dup1", TargetID: "other", Weight: 1}, false))
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "r2", RelationType: "knows", SourceID: "dup2", TargetID: "canon", Weight: 1}, false))

	canonical := testEntity("canon", "person", nil)
	canonical.Properties.Set("email", model.String("canon@example.com"))

	n, err := s.MergeEntities(ctx, nil, canonical, []string{"dup1", "dup2"})
	require.NoError(t, err)
	// r1 repointed to canon, r2 dropped as a would-be self-loop.
	assert.Equal(t, 2, n)

	got, err := s.GetEntity(ctx, nil, "canon")
	require.NoError(t, err)
	email, ok := got.Properties.Get("email")
	require.True(t, ok)
	str, _ := email.AsString()
	assert.Equal(t, "canon@example.com", str)

	for _, id := range []string{"dup1", "dup2"} {
		_, err = s.GetEntity(ctx, nil, id)
		assert.True(t, kgerr.IsNotFound(err))
	}

	rels, err := s.GetRelations(ctx, nil, []string{"canon"}, model.DirectionBoth, nil)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "canon", rels[0].SourceID)
	assert.Equal(t, "other", rels[0].TargetID)
}

func TestMergeEntitiesMissingDuplicateLeavesStateUntouched(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"canon", "dup"} {
		require.NoError(t, s.AddEntity(ctx, nil, testEntity(id, "person", nil)))
	}

	_, err := s.MergeEntities(ctx, nil, testEntity("canon", "person", nil), []string{"dup", "ghost"})
	assert.True(t, kgerr.IsNotFound(err))

	// The existing duplicate survives because nothing was mutated.
	_, err = s.GetEntity(ctx, nil, "dup")
	require.NoError(t, err)
}

func TestLifecycleGuards(t *testing.T) {
	ctx := context.Background()

	s := New()
	_, err := s.GetEntity(ctx, nil, "alice")
	assert.True(t, kgerr.IsRetryable(err))
	err = s.AddEntity(ctx, nil, testEntity("alice", "person", nil))
	assert.True(t, kgerr.IsRetryable(err))

	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.AddEntity(ctx, nil, testEntity("alice", "person", nil)))
	require.NoError(t, s.Close())

	_, err = s.GetEntity(ctx, nil, "alice")
	assert.True(t, kgerr.IsRetryable(err))
	_, err = s.Query(ctx, nil, model.GraphQuery{})
	assert.True(t, kgerr.IsRetryable(err))
}

func TestTraverseBounds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.AddEntity(ctx, nil, testEntity(id, "person", nil)))
	}
	chain := []model.Relation{
		{ID: "r1", RelationType: "next", SourceID: "a", TargetID: "b", Weight: 1},
		{ID: "r2", RelationType: "next", SourceID: "b", TargetID: "c", Weight: 1},
		{ID: "r3", RelationType: "next", SourceID: "c", TargetID: "d", Weight: 1},
	}
	for _, r := range chain {
		require.NoError(t, s.AddRelation(ctx, nil, r, false))
	}

	paths, truncated, err := s.Traverse(ctx, nil, store.TraverseSpec{StartID: "a", MaxDepth: 2, Direction: model.DirectionOutgoing})
	require.NoError(t, err)
	assert.True(t, truncated)
	require.Len(t, paths, 2)
	assert.Equal(t, 1, paths[0].Hops())
	assert.Equal(t, 2, paths[1].Hops())

	paths, truncated, err = s.Traverse(ctx, nil, store.TraverseSpec{StartID: "a", MaxDepth: 5, Direction: model.DirectionOutgoing})
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Len(t, paths, 3)

	// Depth 0 yields the start entity alone as a trivial path.
	paths, truncated, err = s.Traverse(ctx, nil, store.TraverseSpec{StartID: "a", MaxDepth: 0})
	require.NoError(t, err)
	assert.True(t, truncated)
	require.Len(t, paths, 1)
	assert.Equal(t, 0, paths[0].Hops())
	assert.Equal(t, "a", paths[0].StartID())

	_, _, err = s.Traverse(ctx, nil, store.TraverseSpec{StartID: "missing", MaxDepth: 1})
	assert.True(t, kgerr.IsNotFound(err))
}
