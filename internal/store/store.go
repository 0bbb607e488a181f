// Package store defines the GraphStore contract satisfied by every backend,
// plus the shared pieces (property-filter matching, cosine similarity) that
// keep query semantics identical across implementations.
package store

import (
	"context"

	"github.com/kgfoundry/kgraph/internal/model"
)

// TraverseSpec bounds a traversal. MaxDepth is mandatory; unbounded
// traversal is never permitted.
type TraverseSpec struct {
	StartID       string
	MaxDepth      int
	Direction     model.Direction
	RelationTypes []string
}

// RelationSource is the minimal read surface the shared traversal needs.
// Every backend satisfies it through its GraphStore implementation.
type RelationSource interface {
	GetEntities(ctx context.Context, tc *model.TenantContext, ids []string) ([]model.Entity, error)
	GetRelations(ctx context.Context, tc *model.TenantContext, ids []string, direction model.Direction, relationTypes []string) ([]model.Relation, error)
}

// GraphStore is the storage contract. All operations are tenant-scoped when
// a TenantContext is supplied; a nil context means legacy single-tenant mode
// and must behave exactly like a pre-multi-tenant deployment.
type GraphStore interface {
	RelationSource

	// Initialize acquires backend resources. Idempotent.
	Initialize(ctx context.Context) error
	// Close releases backend resources. Idempotent.
	Close() error

	// AddEntity inserts a new entity; (id, tenant) collisions fail with
	// a DuplicateIDError.
	AddEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error
	// UpdateEntity replaces an existing entity, bumping UpdatedAt and
	// resolving deferred relations whose missing endpoint it supplies.
	UpdateEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error
	// GetEntity fetches one entity or returns a NotFoundError.
	GetEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.Entity, error)

	// AddRelation inserts a relation. Missing endpoints fail with a
	// NotFoundError unless allowDeferred is set, in which case the relation
	// is stored flagged unresolved until the endpoint appears.
	AddRelation(ctx context.Context, tc *model.TenantContext, relation model.Relation, allowDeferred bool) error
	// DeleteRelation removes one relation by id.
	DeleteRelation(ctx context.Context, tc *model.TenantContext, id string) error
	// RepointRelations rewrites every endpoint reference from fromID to
	// toID and drops relations that would become self-loops. Returns the
	// number of relations rewritten.
	RepointRelations(ctx context.Context, tc *model.TenantContext, fromID, toID string) (int, error)
	// MergeEntities folds duplicates into canonical within one write scope:
	// the canonical entity is updated, every relation referencing a
	// duplicate is repointed (would-be self-loops dropped), and the
	// duplicates are deleted. No interleaved write can observe a partially
	// merged cluster. Returns the number of relations dropped or rewritten.
	MergeEntities(ctx context.Context, tc *model.TenantContext, canonical model.Entity, duplicateIDs []string) (int, error)

	// GetNeighbors returns entities directly connected to id.
	GetNeighbors(ctx context.Context, tc *model.TenantContext, id string, direction model.Direction, relationTypes []string) ([]model.Entity, error)
	// Query selects entities by type and property predicates. No implicit
	// limit; callers paginate.
	Query(ctx context.Context, tc *model.TenantContext, q model.GraphQuery) ([]model.Entity, error)
	// SimilarEntities returns the topK entities by cosine similarity to the
	// query embedding. Read-only.
	SimilarEntities(ctx context.Context, tc *model.TenantContext, embedding []float32, topK int) ([]model.ScoredEntity, error)

	// DeleteEntity removes an entity, cascading to every relation that
	// references it, and reports what the cascade removed.
	DeleteEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.DeletionReport, error)

	// Traverse returns all simple paths from StartID up to MaxDepth hops.
	// The bool result is true when the depth bound truncated the expansion.
	Traverse(ctx context.Context, tc *model.TenantContext, spec TraverseSpec) ([]model.Path, bool, error)
}

// SessionScoper is implemented by backends whose native row-level security
// consumes a per-session tenant variable. The tenant layer sets it; the
// backend's RLS policy does the filtering.
type SessionScoper interface {
	SetSessionTenant(ctx context.Context, tenant string) error
}
