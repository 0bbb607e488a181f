package reason

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store/memory"
)

// buildGraph wires a small org chart:
//
//	alice -[knows w=1]-> bob -[knows w=1]-> carol
//	alice -[works_with w=0.5]-> carol
func buildGraph(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, s.AddEntity(ctx, nil, model.Entity{
			ID: id, EntityType: "person", Properties: model.NewProperties(),
		}))
	}
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "ab", RelationType: "knows", SourceID: "alice", TargetID: "bob", Weight: 1}, false))
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "bc", RelationType: "knows", SourceID: "bob", TargetID: "carol", Weight: 1}, false))
	require.NoError(t, s.AddRelation(ctx, nil, model.Relation{ID: "ac", RelationType: "works_with", SourceID: "alice", TargetID: "carol", Weight: 0.5}, false))
	return s
}

func TestFindPathsRanksByScore(t *testing.T) {
	s := buildGraph(t)
	e := NewEngine(s, nil)

	result, err := e.FindPaths(context.Background(), nil, "alice", "carol", 3)
	require.NoError(t, err)
	require.Len(t, result.Paths, 2)

	// Two-hop knows path: 1*1/2 = 0.5. One-hop works_with path: 0.5/1 = 0.5.
	// Tied scores break toward fewer hops.
	first := result.Paths[0]
	assert.Equal(t, 1, first.Hops)
	assert.InDelta(t, 0.5, first.Score, 1e-9)
	assert.Equal(t, 1, first.DistinctRelationTypes)

	second := result.Paths[1]
	assert.Equal(t, 2, second.Hops)
	assert.InDelta(t, 0.5, second.Score, 1e-9)
}

func TestFindPathsUnreachableReturnsEmpty(t *testing.T) {
	s := buildGraph(t)
	ctx := context.Background()
	require.NoError(t, s.AddEntity(ctx, nil, model.Entity{
		ID: "island", EntityType: "person", Properties: model.NewProperties(),
	}))
	e := NewEngine(s, nil)

	result, err := e.FindPaths(ctx, nil, "alice", "island", 2)
	require.NoError(t, err)
	assert.Empty(t, result.Paths)
}

func TestFindPathsMissingAnchor(t *testing.T) {
	s := buildGraph(t)
	e := NewEngine(s, nil)

	_, err := e.FindPaths(context.Background(), nil, "alice", "nobody", 2)
	assert.True(t, kgerr.IsNotFound(err))

	_, err = e.FindPaths(context.Background(), nil, "nobody", "carol", 2)
	assert.True(t, kgerr.IsNotFound(err))
}

func TestFindPathsHopBound(t *testing.T) {
	s := buildGraph(t)
	e := NewEngine(s, nil)

	// One hop cannot reach carol through bob; only the direct edge remains.
	result, err := e.FindPaths(context.Background(), nil, "alice", "carol", 1)
	require.NoError(t, err)
	require.Len(t, result.Paths, 1)
	assert.Equal(t, 1, result.Paths[0].Hops)
	assert.True(t, result.Exhausted)
}

func TestFindPathsRejectsBadBounds(t *testing.T) {
	s := buildGraph(t)
	e := NewEngine(s, nil)

	_, err := e.FindPaths(context.Background(), nil, "alice", "carol", 0)
	assert.Error(t, err)
	_, err = e.FindPaths(context.Background(), nil, "", "carol", 2)
	assert.Error(t, err)
}

func TestExploreSeededByEmbedding(t *testing.T) {
	s := buildGraph(t)
	ctx := context.Background()

	// Give carol an embedding so vector search can nominate her.
	carol, err := s.GetEntity(ctx, nil, "carol")
	require.NoError(t, err)
	carol.Embedding = []float32{1, 0, 0, 0}
	require.NoError(t, s.UpdateEntity(ctx, nil, *carol))

	e := NewEngine(s, nil)
	result, err := e.Explore(ctx, nil, "alice", []float32{1, 0, 0, 0}, 3, 5)
	require.NoError(t, err)
	require.NotEmpty(t, result.Paths)
	for _, sp := range result.Paths {
		assert.Equal(t, "carol", sp.Path.EndID())
	}
}

func TestExploreRequiresEmbedding(t *testing.T) {
	s := buildGraph(t)
	e := NewEngine(s, nil)

	_, err := e.Explore(context.Background(), nil, "alice", nil, 2, 5)
	assert.Error(t, err)
}
