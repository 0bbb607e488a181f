package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
	"github.com/kgfoundry/kgraph/internal/store/memory"
)

func setupScoped(t *testing.T, tenantID string) (*Scoped, *memory.Store) {
	t.Helper()
	inner := memory.New()
	scoped := NewScoped(inner, tenantID)
	require.NoError(t, scoped.Initialize(context.Background()))
	t.Cleanup(func() { assert.NoError(t, scoped.Close()) })
	return scoped, inner
}

func person(id string) model.Entity {
	return model.Entity{ID: id, EntityType: "person", Properties: model.NewProperties()}
}

func TestScopedStampsTenant(t *testing.T) {
	scoped, inner := setupScoped(t, "acme")
	ctx := context.Background()

	require.NoError(t, scoped.AddEntity(ctx, nil, person("alice")))

	// The row landed in acme's scope, not the legacy scope.
	got, err := inner.GetEntity(ctx, &model.TenantContext{TenantID: "acme"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
	_, err = inner.GetEntity(ctx, nil, "alice")
	assert.True(t, kgerr.IsNotFound(err))
}

func TestScopedRejectsForeignTenant(t *testing.T) {
	scoped, _ := setupScoped(t, "acme")
	ctx := context.Background()

	err := scoped.AddEntity(ctx, &model.TenantContext{TenantID: "globex"}, person("alice"))
	assert.True(t, kgerr.IsTenantIsolation(err))

	_, err = scoped.Query(ctx, &model.TenantContext{TenantID: "globex"}, model.GraphQuery{})
	assert.True(t, kgerr.IsTenantIsolation(err))
}

func TestScopedAcceptsMatchingTenant(t *testing.T) {
	scoped, _ := setupScoped(t, "acme")
	ctx := context.Background()

	require.NoError(t, scoped.AddEntity(ctx, &model.TenantContext{TenantID: "acme"}, person("alice")))
	got, err := scoped.GetEntity(ctx, &model.TenantContext{TenantID: "acme"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
}

func TestScopedLegacyAliases(t *testing.T) {
	// "default" and "" bind to the same legacy scope.
	scoped, inner := setupScoped(t, "default")
	ctx := context.Background()

	require.NoError(t, scoped.AddEntity(ctx, nil, person("alice")))
	got, err := inner.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)

	// An explicit empty context is the same scope, not a violation.
	require.NoError(t, scoped.AddEntity(ctx, &model.TenantContext{}, person("bob")))
}

func TestScopedIsolationAcrossStores(t *testing.T) {
	inner := memory.New()
	require.NoError(t, inner.Initialize(context.Background()))
	acme := NewScoped(inner, "acme")
	globex := NewScoped(inner, "globex")
	ctx := context.Background()

	require.NoError(t, acme.AddEntity(ctx, nil, person("alice")))
	require.NoError(t, globex.AddEntity(ctx, nil, person("alice")))

	// Each scoped view deletes only its own row.
	_, err := acme.DeleteEntity(ctx, nil, "alice")
	require.NoError(t, err)
	_, err = acme.GetEntity(ctx, nil, "alice")
	assert.True(t, kgerr.IsNotFound(err))
	got, err := globex.GetEntity(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
}

var _ store.GraphStore = (*Scoped)(nil)
