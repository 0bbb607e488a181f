// Package kgraph is the library facade: backend selection, schema
// validation, tenant scoping, and the traversal, reasoning, and fusion
// engines behind one Service type.
package kgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kgfoundry/kgraph/internal/fusion"
	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/reason"
	"github.com/kgfoundry/kgraph/internal/schema"
	"github.com/kgfoundry/kgraph/internal/store"
	"github.com/kgfoundry/kgraph/internal/store/libsql"
	"github.com/kgfoundry/kgraph/internal/store/memory"
	"github.com/kgfoundry/kgraph/internal/store/postgres"
	"github.com/kgfoundry/kgraph/internal/tenant"
	"github.com/kgfoundry/kgraph/internal/traverse"
)

// Service is the top-level API. Construct one with NewService, or a
// tenant-pinned view with WithTenant.
type Service struct {
	cfg     *Config
	store   store.GraphStore
	schemas *schema.Manager
	search  *traverse.Engine
	reason  *reason.Engine
	fusion  *fusion.Engine
}

// NewService builds and initializes a Service for the configured backend.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	var backing store.GraphStore
	switch cfg.Backend {
	case BackendMemory, "":
		backing = memory.New()
	case BackendLibSQL:
		lc := cfg.LibSQL
		if lc == nil {
			lc = libsql.NewConfig()
		}
		backing = libsql.New(lc)
	case BackendPostgres:
		pc := cfg.Postgres
		if pc == nil {
			pc = postgres.NewConfig()
		}
		backing = postgres.New(pc)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if err := backing.Initialize(ctx); err != nil {
		return nil, err
	}
	return newService(cfg, backing, schema.NewManager()), nil
}

func newService(cfg *Config, backing store.GraphStore, schemas *schema.Manager) *Service {
	search := traverse.NewEngine(backing, traverse.Config{Alpha: cfg.HybridAlpha})
	return &Service{
		cfg:     cfg,
		store:   backing,
		schemas: schemas,
		search:  search,
		reason:  reason.NewEngine(backing, search),
		fusion:  fusion.NewEngine(backing),
	}
}

// WithTenant returns a view of the service pinned to one tenant. The view
// shares the backend and schema registry; calls through it cannot touch
// another tenant's rows.
func (s *Service) WithTenant(ctx context.Context, tenantID string) (*Service, error) {
	scoped := tenant.NewScoped(s.store, tenantID)
	if err := scoped.Initialize(ctx); err != nil {
		return nil, err
	}
	return newService(s.cfg, scoped, s.schemas), nil
}

// Close releases backend resources.
func (s *Service) Close() error { return s.store.Close() }

// Schemas exposes the type registry for startup registration.
func (s *Service) Schemas() *schema.Manager { return s.schemas }

// AddEntity validates the entity against its registered type (applying
// schema defaults) and stores it.
func (s *Service) AddEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	if err := s.schemas.ValidateEntity(&entity); err != nil {
		return err
	}
	return s.store.AddEntity(ctx, tc, entity)
}

// UpdateEntity validates and replaces an existing entity.
func (s *Service) UpdateEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	if err := s.schemas.ValidateEntity(&entity); err != nil {
		return err
	}
	return s.store.UpdateEntity(ctx, tc, entity)
}

// GetEntity fetches one entity by id.
func (s *Service) GetEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.Entity, error) {
	return s.store.GetEntity(ctx, tc, id)
}

// GetEntities batch-fetches entities by id, skipping missing ids.
func (s *Service) GetEntities(ctx context.Context, tc *model.TenantContext, ids []string) ([]model.Entity, error) {
	return s.store.GetEntities(ctx, tc, ids)
}

// AddRelation validates the relation against its registered type, checking
// endpoint entity types, and stores it. A relation without an id gets a
// generated one.
func (s *Service) AddRelation(ctx context.Context, tc *model.TenantContext, relation model.Relation, allowDeferred bool) (string, error) {
	if relation.ID == "" {
		relation.ID = uuid.NewString()
	}
	sourceType, targetType, err := s.endpointTypes(ctx, tc, relation, allowDeferred)
	if err != nil {
		return "", err
	}
	if err := s.schemas.ValidateRelation(&relation, sourceType, targetType); err != nil {
		return "", err
	}
	if err := s.store.AddRelation(ctx, tc, relation, allowDeferred); err != nil {
		return "", err
	}
	return relation.ID, nil
}

// endpointTypes resolves the entity types at a relation's endpoints for
// schema checking. In deferred mode a missing endpoint yields an empty
// type, which the schema manager treats as unknown.
func (s *Service) endpointTypes(ctx context.Context, tc *model.TenantContext, relation model.Relation, allowDeferred bool) (string, string, error) {
	var sourceType, targetType string
	src, err := s.store.GetEntity(ctx, tc, relation.SourceID)
	switch {
	case err == nil:
		sourceType = src.EntityType
	case kgerr.IsNotFound(err) && allowDeferred:
	default:
		return "", "", err
	}
	tgt, err := s.store.GetEntity(ctx, tc, relation.TargetID)
	switch {
	case err == nil:
		targetType = tgt.EntityType
	case kgerr.IsNotFound(err) && allowDeferred:
	default:
		return "", "", err
	}
	return sourceType, targetType, nil
}

// DeleteRelation removes one relation by id.
func (s *Service) DeleteRelation(ctx context.Context, tc *model.TenantContext, id string) error {
	return s.store.DeleteRelation(ctx, tc, id)
}

// DeleteEntity removes an entity, cascading to relations that reference it.
func (s *Service) DeleteEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.DeletionReport, error) {
	return s.store.DeleteEntity(ctx, tc, id)
}

// GetNeighbors returns entities directly connected to id.
func (s *Service) GetNeighbors(ctx context.Context, tc *model.TenantContext, id string, direction model.Direction, relationTypes []string) ([]model.Entity, error) {
	return s.store.GetNeighbors(ctx, tc, id, direction, relationTypes)
}

// Query selects entities by type and property predicates.
func (s *Service) Query(ctx context.Context, tc *model.TenantContext, q model.GraphQuery) ([]model.Entity, error) {
	return s.store.Query(ctx, tc, q)
}

// Traverse returns all simple paths from a start entity within the bound.
func (s *Service) Traverse(ctx context.Context, tc *model.TenantContext, spec store.TraverseSpec) ([]model.Path, bool, error) {
	return s.store.Traverse(ctx, tc, spec)
}

// Search dispatches a vector, graph, or hybrid search request.
func (s *Service) Search(ctx context.Context, tc *model.TenantContext, req model.SearchRequest) ([]model.ScoredEntity, error) {
	return s.search.Search(ctx, tc, req)
}

// FindPaths ranks evidence paths between two entities.
func (s *Service) FindPaths(ctx context.Context, tc *model.TenantContext, startID, endID string, maxHops int) (*reason.Result, error) {
	return s.reason.FindPaths(ctx, tc, startID, endID, maxHops)
}

// Explore ranks evidence paths from a start entity toward entities matching
// an externally computed query embedding.
func (s *Service) Explore(ctx context.Context, tc *model.TenantContext, startID string, embedding []float32, maxHops, topK int) (*reason.Result, error) {
	return s.reason.Explore(ctx, tc, startID, embedding, maxHops, topK)
}

// Fuse merges duplicate entities of one type using the configured defaults;
// fields set on opts override them.
func (s *Service) Fuse(ctx context.Context, tc *model.TenantContext, entityType string, opts fusion.Options) (*fusion.Stats, error) {
	if opts.SimilarityThreshold <= 0 && s.cfg.FusionThreshold > 0 {
		opts.SimilarityThreshold = s.cfg.FusionThreshold
	}
	if opts.Strategy == "" {
		opts.Strategy = s.cfg.FusionStrategy
	}
	return s.fusion.Fuse(ctx, tc, entityType, opts)
}
