// Package tenant provides the isolation decorator that pins a GraphStore to
// one tenant. Every call goes out stamped with the bound tenant; callers
// cannot reach another tenant's rows through a scoped store, by construction.
package tenant

import (
	"context"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
)

// Scoped wraps a GraphStore so all operations run as a single tenant.
// A caller-supplied TenantContext naming a different tenant is rejected
// with a TenantIsolationError rather than silently rescoped.
type Scoped struct {
	inner  store.GraphStore
	tenant string
	tc     *model.TenantContext
}

// NewScoped binds a store to the given tenant id. The empty string and
// "default" bind to the legacy single-tenant scope.
func NewScoped(inner store.GraphStore, tenantID string) *Scoped {
	tc := &model.TenantContext{TenantID: tenantID}
	return &Scoped{
		inner:  inner,
		tenant: tc.Tenant(),
		tc:     tc,
	}
}

// Tenant returns the normalized tenant id this store is bound to.
func (s *Scoped) Tenant() string { return s.tenant }

// Unwrap returns the underlying store.
func (s *Scoped) Unwrap() store.GraphStore { return s.inner }

// check rejects contexts naming a different tenant. A nil context adopts
// the bound tenant; legacy-mode callers of a legacy-bound store pass.
func (s *Scoped) check(tc *model.TenantContext) error {
	if tc != nil && tc.Tenant() != s.tenant {
		return &kgerr.TenantIsolationError{Requested: tc.Tenant(), Actual: s.tenant}
	}
	return nil
}

// Initialize prepares the underlying store and, for backends with native
// row-level security, binds the session tenant variable.
func (s *Scoped) Initialize(ctx context.Context) error {
	if err := s.inner.Initialize(ctx); err != nil {
		return err
	}
	if scoper, ok := s.inner.(store.SessionScoper); ok {
		return scoper.SetSessionTenant(ctx, s.tenant)
	}
	return nil
}

func (s *Scoped) Close() error { return s.inner.Close() }

func (s *Scoped) AddEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	if err := s.check(tc); err != nil {
		return err
	}
	return s.inner.AddEntity(ctx, s.tc, entity)
}

func (s *Scoped) UpdateEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	if err := s.check(tc); err != nil {
		return err
	}
	return s.inner.UpdateEntity(ctx, s.tc, entity)
}

func (s *Scoped) GetEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.Entity, error) {
	if err := s.check(tc); err != nil {
		return nil, err
	}
	return s.inner.GetEntity(ctx, s.tc, id)
}

func (s *Scoped) GetEntities(ctx context.Context, tc *model.TenantContext, ids []string) ([]model.Entity, error) {
	if err := s.check(tc); err != nil {
		return nil, err
	}
	return s.inner.GetEntities(ctx, s.tc, ids)
}

func (s *Scoped) AddRelation(ctx context.Context, tc *model.TenantContext, relation model.Relation, allowDeferred bool) error {
	if err := s.check(tc); err != nil {
		return err
	}
	return s.inner.AddRelation(ctx, s.tc, relation, allowDeferred)
}

func (s *Scoped) DeleteRelation(ctx context.Context, tc *model.TenantContext, id string) error {
	if err := s.check(tc); err != nil {
		return err
	}
	return s.inner.DeleteRelation(ctx, s.tc, id)
}

func (s *Scoped) GetRelations(ctx context.Context, tc *model.TenantContext, ids []string, direction model.Direction, relationTypes []string) ([]model.Relation, error) {
	if err := s.check(tc); err != nil {
		return nil, err
	}
	return s.inner.GetRelations(ctx, s.tc, ids, direction, relationTypes)
}

func (s *Scoped) RepointRelations(ctx context.Context, tc *model.TenantContext, fromID, toID string) (int, error) {
	if err := s.check(tc); err != nil {
		return 0, err
	}
	return s.inner.RepointRelations(ctx, s.tc, fromID, toID)
}

func (s *Scoped) MergeEntities(ctx context.Context, tc *model.TenantContext, canonical model.Entity, duplicateIDs []string) (int, error) {
	if err := s.check(tc); err != nil {
		return 0, err
	}
	return s.inner.MergeEntities(ctx, s.tc, canonical, duplicateIDs)
}

func (s *Scoped) GetNeighbors(ctx context.Context, tc *model.TenantContext, id string, direction model.Direction, relationTypes []string) ([]model.Entity, error) {
	if err := s.check(tc); err != nil {
		return nil, err
	}
	return s.inner.GetNeighbors(ctx, s.tc, id, direction, relationTypes)
}

func (s *Scoped) Query(ctx context.Context, tc *model.TenantContext, q model.GraphQuery) ([]model.Entity, error) {
	if err := s.check(tc); err != nil {
		return nil, err
	}
	return s.inner.Query(ctx, s.tc, q)
}

func (s *Scoped) SimilarEntities(ctx context.Context, tc *model.TenantContext, embedding []float32, topK int) ([]model.ScoredEntity, error) {
	if err := s.check(tc); err != nil {
		return nil, err
	}
	return s.inner.SimilarEntities(ctx, s.tc, embedding, topK)
}

func (s *Scoped) DeleteEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.DeletionReport, error) {
	if err := s.check(tc); err != nil {
		return nil, err
	}
	return s.inner.DeleteEntity(ctx, s.tc, id)
}

func (s *Scoped) Traverse(ctx context.Context, tc *model.TenantContext, spec store.TraverseSpec) ([]model.Path, bool, error) {
	if err := s.check(tc); err != nil {
		return nil, false, err
	}
	return s.inner.Traverse(ctx, s.tc, spec)
}
