package kgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), &Config{Backend: BackendMemory})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })
	return svc
}

func entity(id, entityType string) model.Entity {
	props := model.NewProperties()
	props.Set("name", model.String(id))
	return model.Entity{ID: id, EntityType: entityType, Properties: props}
}

func TestServiceRoundTrip(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddEntity(ctx, nil, entity("alice", "Person")))
	got, err := svc.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
}

func TestServiceSchemaValidation(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	require.NoError(t, svc.Schemas().RegisterEntityType(model.EntityType{
		Name: "Person",
		Properties: map[string]model.PropertySchema{
			"name": {Type: model.PropertyString, Required: true},
			"age":  {Type: model.PropertyInt},
		},
	}))

	bad := model.Entity{ID: "x", EntityType: "Person", Properties: model.NewProperties()}
	err := svc.AddEntity(ctx, nil, bad)
	var sve *kgerr.SchemaValidationError
	require.ErrorAs(t, err, &sve)

	require.NoError(t, svc.AddEntity(ctx, nil, entity("alice", "Person")))
}

func TestServiceRelationIDGeneration(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddEntity(ctx, nil, entity("alice", "Person")))
	require.NoError(t, svc.AddEntity(ctx, nil, entity("tech_corp", "Company")))

	id, err := svc.AddRelation(ctx, nil, model.Relation{
		RelationType: "WORKS_FOR", SourceID: "alice", TargetID: "tech_corp",
	}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rels, err := svc.store.GetRelations(ctx, nil, []string{"alice"}, model.DirectionOutgoing, nil)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, id, rels[0].ID)
}

func TestServiceRelationEndpointSchema(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	require.NoError(t, svc.Schemas().RegisterRelationType(model.RelationType{
		Name:              "WORKS_FOR",
		SourceEntityTypes: []string{"Person"},
		TargetEntityTypes: []string{"Company"},
	}))

	require.NoError(t, svc.AddEntity(ctx, nil, entity("alice", "Person")))
	require.NoError(t, svc.AddEntity(ctx, nil, entity("bob", "Person")))

	_, err := svc.AddRelation(ctx, nil, model.Relation{
		RelationType: "WORKS_FOR", SourceID: "alice", TargetID: "bob",
	}, false)
	var sve *kgerr.SchemaValidationError
	require.ErrorAs(t, err, &sve)
}

func TestServiceWithTenantIsolation(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	acme, err := svc.WithTenant(ctx, "acme")
	require.NoError(t, err)
	globex, err := svc.WithTenant(ctx, "globex")
	require.NoError(t, err)

	require.NoError(t, acme.AddEntity(ctx, nil, entity("alice", "Person")))

	_, err = globex.GetEntity(ctx, nil, "alice")
	assert.True(t, kgerr.IsNotFound(err))

	got, err := acme.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
}

// The concrete end-to-end scenario: neighbors and bounded traversal over a
// small org graph.
func TestServiceScenarioNeighborsAndTraverse(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddEntity(ctx, nil, entity("alice", "Person")))
	require.NoError(t, svc.AddEntity(ctx, nil, entity("bob", "Person")))
	require.NoError(t, svc.AddEntity(ctx, nil, entity("tech_corp", "Company")))
	for _, rel := range []model.Relation{
		{ID: "r1", RelationType: "WORKS_FOR", SourceID: "alice", TargetID: "tech_corp"},
		{ID: "r2", RelationType: "WORKS_FOR", SourceID: "bob", TargetID: "tech_corp"},
		{ID: "r3", RelationType: "KNOWS", SourceID: "alice", TargetID: "bob"},
	} {
		_, err := svc.AddRelation(ctx, nil, rel, false)
		require.NoError(t, err)
	}

	neighbors, err := svc.GetNeighbors(ctx, nil, "alice", model.DirectionOutgoing, nil)
	require.NoError(t, err)
	var ids []string
	for _, n := range neighbors {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"bob", "tech_corp"}, ids)

	paths, _, err := svc.Traverse(ctx, nil, store.TraverseSpec{StartID: "alice", MaxDepth: 2})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(paths), 3)
	for _, p := range paths {
		assert.LessOrEqual(t, p.Hops(), 2)
	}
}

func TestServiceUnknownBackend(t *testing.T) {
	_, err := NewService(context.Background(), &Config{Backend: "dynamodb"})
	assert.Error(t, err)
}
