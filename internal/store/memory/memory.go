// Package memory provides the in-process GraphStore backend. Entities and
// relations live in hash maps keyed by (tenant, id) behind a reader-writer
// lock; it doubles as the reference implementation for cross-backend tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
	"github.com/kgfoundry/kgraph/internal/traverse"
)

// Store is the in-memory GraphStore backend.
type Store struct {
	mu        sync.RWMutex
	entities  map[string]map[string]model.Entity   // tenant -> id -> entity
	relations map[string]map[string]model.Relation // tenant -> id -> relation
}

// New builds an uninitialized Store; call Initialize before use.
func New() *Store {
	return &Store{}
}

// Initialize allocates the maps. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities == nil {
		s.entities = make(map[string]map[string]model.Entity)
		s.relations = make(map[string]map[string]model.Relation)
	}
	return nil
}

// Close drops all state. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = nil
	s.relations = nil
	return nil
}

// readyLocked guards map access before Initialize or after Close. Caller
// holds either lock.
func (s *Store) readyLocked() error {
	if s.entities == nil {
		return &kgerr.BackendUnavailableError{Backend: "memory", Err: errors.New("store not initialized")}
	}
	return nil
}

func (s *Store) tenantEntities(tenant string) map[string]model.Entity {
	m, ok := s.entities[tenant]
	if !ok {
		m = make(map[string]model.Entity)
		s.entities[tenant] = m
	}
	return m
}

func (s *Store) tenantRelations(tenant string) map[string]model.Relation {
	m, ok := s.relations[tenant]
	if !ok {
		m = make(map[string]model.Relation)
		s.relations[tenant] = m
	}
	return m
}

// AddEntity inserts a new entity; an (id, tenant) collision fails with a
// DuplicateIDError.
func (s *Store) AddEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	done := metrics.TimeOp("memory_add_entity")
	success := false
	defer func() { done(success) }()

	if err := entity.Validate(); err != nil {
		return err
	}
	tenant := tc.Tenant()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	ents := s.tenantEntities(tenant)
	if _, exists := ents[entity.ID]; exists {
		return &kgerr.DuplicateIDError{Kind: "entity", ID: entity.ID, Tenant: tenant}
	}
	now := time.Now().UTC()
	if entity.Metadata.CreatedAt.IsZero() {
		entity.Metadata.CreatedAt = now
	}
	entity.Metadata.UpdatedAt = now
	ents[entity.ID] = entity.Clone()
	s.resolveDeferredLocked(tenant, entity.ID)
	success = true
	return nil
}

// UpdateEntity replaces an existing entity and bumps UpdatedAt.
func (s *Store) UpdateEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	done := metrics.TimeOp("memory_update_entity")
	success := false
	defer func() { done(success) }()

	if err := entity.Validate(); err != nil {
		return err
	}
	tenant := tc.Tenant()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	ents := s.tenantEntities(tenant)
	prev, exists := ents[entity.ID]
	if !exists {
		return &kgerr.NotFoundError{Kind: "entity", ID: entity.ID, Tenant: tenant}
	}
	entity.Metadata.CreatedAt = prev.Metadata.CreatedAt
	entity.Metadata.UpdatedAt = time.Now().UTC()
	ents[entity.ID] = entity.Clone()
	s.resolveDeferredLocked(tenant, entity.ID)
	success = true
	return nil
}

// resolveDeferredLocked clears the unresolved flag of deferred relations
// whose missing endpoint just appeared. Caller holds the write lock.
func (s *Store) resolveDeferredLocked(tenant, entityID string) {
	ents := s.tenantEntities(tenant)
	rels := s.tenantRelations(tenant)
	for id, r := range rels {
		if !r.Unresolved || (r.SourceID != entityID && r.TargetID != entityID) {
			continue
		}
		_, srcOK := ents[r.SourceID]
		_, tgtOK := ents[r.TargetID]
		if srcOK && tgtOK {
			r.Unresolved = false
			rels[id] = r
		}
	}
}

// GetEntity fetches one entity.
func (s *Store) GetEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.Entity, error) {
	tenant := tc.Tenant()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	ent, ok := s.entities[tenant][id]
	if !ok {
		return nil, &kgerr.NotFoundError{Kind: "entity", ID: id, Tenant: tenant}
	}
	out := ent.Clone()
	return &out, nil
}

// GetEntities batch-fetches entities by id, skipping missing ids.
func (s *Store) GetEntities(ctx context.Context, tc *model.TenantContext, ids []string) ([]model.Entity, error) {
	tenant := tc.Tenant()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		if ent, ok := s.entities[tenant][id]; ok {
			out = append(out, ent.Clone())
		}
	}
	return out, nil
}

// AddRelation inserts a relation, enforcing endpoint existence unless the
// caller opts into deferred (bulk-import) mode.
func (s *Store) AddRelation(ctx context.Context, tc *model.TenantContext, relation model.Relation, allowDeferred bool) error {
	done := metrics.TimeOp("memory_add_relation")
	success := false
	defer func() { done(success) }()

	if err := relation.Validate(); err != nil {
		return err
	}
	tenant := tc.Tenant()
	if relation.Weight == 0 {
		relation.Weight = model.DefaultWeight
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	rels := s.tenantRelations(tenant)
	if _, exists := rels[relation.ID]; exists {
		return &kgerr.DuplicateIDError{Kind: "relation", ID: relation.ID, Tenant: tenant}
	}
	ents := s.tenantEntities(tenant)
	_, srcOK := ents[relation.SourceID]
	_, tgtOK := ents[relation.TargetID]
	if !srcOK || !tgtOK {
		if !allowDeferred {
			missing := relation.SourceID
			if srcOK {
				missing = relation.TargetID
			}
			return &kgerr.NotFoundError{Kind: "entity", ID: missing, Tenant: tenant}
		}
		relation.Unresolved = true
	} else {
		relation.Unresolved = false
	}
	now := time.Now().UTC()
	if relation.Metadata.CreatedAt.IsZero() {
		relation.Metadata.CreatedAt = now
	}
	relation.Metadata.UpdatedAt = now
	rels[relation.ID] = relation.Clone()
	success = true
	return nil
}

// DeleteRelation removes one relation by id.
func (s *Store) DeleteRelation(ctx context.Context, tc *model.TenantContext, id string) error {
	tenant := tc.Tenant()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	rels := s.tenantRelations(tenant)
	if _, ok := rels[id]; !ok {
		return &kgerr.NotFoundError{Kind: "relation", ID: id, Tenant: tenant}
	}
	delete(rels, id)
	return nil
}

// GetRelations returns relations touching the given ids, filtered by
// direction and relation type.
func (s *Store) GetRelations(ctx context.Context, tc *model.TenantContext, ids []string, direction model.Direction, relationTypes []string) ([]model.Relation, error) {
	tenant := tc.Tenant()
	direction = direction.Normalize()
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	typeSet := toSet(relationTypes)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	var out []model.Relation
	for _, r := range s.relations[tenant] {
		if len(typeSet) > 0 {
			if _, ok := typeSet[r.RelationType]; !ok {
				continue
			}
		}
		_, fromSrc := idSet[r.SourceID]
		_, fromTgt := idSet[r.TargetID]
		switch direction {
		case model.DirectionOutgoing:
			if !fromSrc {
				continue
			}
		case model.DirectionIncoming:
			if !fromTgt {
				continue
			}
		default:
			if !fromSrc && !fromTgt {
				continue
			}
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetNeighbors returns the entities directly connected to id.
func (s *Store) GetNeighbors(ctx context.Context, tc *model.TenantContext, id string, direction model.Direction, relationTypes []string) ([]model.Entity, error) {
	done := metrics.TimeOp("memory_get_neighbors")
	success := false
	defer func() { done(success) }()

	if _, err := s.GetEntity(ctx, tc, id); err != nil {
		return nil, err
	}
	rels, err := s.GetRelations(ctx, tc, []string{id}, direction, relationTypes)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	neighborIDs := make([]string, 0, len(rels))
	for _, r := range rels {
		if r.Unresolved {
			continue
		}
		other := r.TargetID
		if other == id {
			other = r.SourceID
		}
		if other == id {
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		neighborIDs = append(neighborIDs, other)
	}
	sort.Strings(neighborIDs)
	out, err := s.GetEntities(ctx, tc, neighborIDs)
	if err != nil {
		return nil, err
	}
	success = true
	return out, nil
}

// Query selects entities by type and property predicates.
func (s *Store) Query(ctx context.Context, tc *model.TenantContext, q model.GraphQuery) ([]model.Entity, error) {
	done := metrics.TimeOp("memory_query")
	success := false
	defer func() { done(success) }()

	if err := q.Validate(); err != nil {
		return nil, err
	}
	tenant := tc.Tenant()

	s.mu.RLock()
	if err := s.readyLocked(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	var matched []model.Entity
	for _, ent := range s.entities[tenant] {
		if q.EntityType != "" && ent.EntityType != q.EntityType {
			continue
		}
		if !store.MatchesFilters(ent, q.Filters) {
			continue
		}
		matched = append(matched, ent.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	success = true
	return store.ApplyWindow(matched, q.Offset, q.Limit), nil
}

// SimilarEntities brute-force scans stored embeddings by cosine similarity.
func (s *Store) SimilarEntities(ctx context.Context, tc *model.TenantContext, embedding []float32, topK int) ([]model.ScoredEntity, error) {
	done := metrics.TimeOp("memory_similar_entities")
	success := false
	defer func() { done(success) }()

	if topK <= 0 {
		topK = 10
	}
	tenant := tc.Tenant()

	s.mu.RLock()
	if err := s.readyLocked(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	var scored []model.ScoredEntity
	for _, ent := range s.entities[tenant] {
		if len(ent.Embedding) == 0 {
			continue
		}
		scored = append(scored, model.ScoredEntity{
			Entity:     ent.Clone(),
			Similarity: store.Cosine(embedding, ent.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Entity.ID < scored[j].Entity.ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	success = true
	return scored, nil
}

// DeleteEntity removes an entity and every relation referencing it,
// reporting the cascade.
func (s *Store) DeleteEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.DeletionReport, error) {
	done := metrics.TimeOp("memory_delete_entity")
	success := false
	defer func() { done(success) }()

	tenant := tc.Tenant()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	ents := s.tenantEntities(tenant)
	if _, ok := ents[id]; !ok {
		return nil, &kgerr.NotFoundError{Kind: "entity", ID: id, Tenant: tenant}
	}
	delete(ents, id)

	rels := s.tenantRelations(tenant)
	report := &model.DeletionReport{EntityID: id}
	for rid, r := range rels {
		if r.SourceID == id || r.TargetID == id {
			delete(rels, rid)
			report.RelationIDs = append(report.RelationIDs, rid)
		}
	}
	sort.Strings(report.RelationIDs)
	report.RelationsDeleted = len(report.RelationIDs)
	success = true
	return report, nil
}

// RepointRelations rewrites endpoint references from fromID to toID,
// dropping would-be self-loops. Used by fusion merges.
func (s *Store) RepointRelations(ctx context.Context, tc *model.TenantContext, fromID, toID string) (int, error) {
	tenant := tc.Tenant()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return 0, err
	}
	return s.repointLocked(tenant, fromID, toID), nil
}

// repointLocked rewrites endpoint references under the write lock, shared
// by RepointRelations and MergeEntities.
func (s *Store) repointLocked(tenant, fromID, toID string) int {
	rels := s.tenantRelations(tenant)
	ents := s.tenantEntities(tenant)
	count := 0
	for id, r := range rels {
		changed := false
		if r.SourceID == fromID {
			r.SourceID = toID
			changed = true
		}
		if r.TargetID == fromID {
			r.TargetID = toID
			changed = true
		}
		if !changed {
			continue
		}
		if r.SourceID == r.TargetID {
			delete(rels, id)
			count++
			continue
		}
		if r.Unresolved {
			_, srcOK := ents[r.SourceID]
			_, tgtOK := ents[r.TargetID]
			r.Unresolved = !(srcOK && tgtOK)
		}
		r.Metadata.UpdatedAt = time.Now().UTC()
		rels[id] = r
		count++
	}
	return count
}

// MergeEntities folds duplicates into the canonical entity while holding
// the write lock for the whole merge, so no interleaved write can reference
// a duplicate mid-merge. Returns the number of relations dropped or
// rewritten.
func (s *Store) MergeEntities(ctx context.Context, tc *model.TenantContext, canonical model.Entity, duplicateIDs []string) (int, error) {
	done := metrics.TimeOp("memory_merge_entities")
	success := false
	defer func() { done(success) }()

	if err := canonical.Validate(); err != nil {
		return 0, err
	}
	tenant := tc.Tenant()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return 0, err
	}
	ents := s.tenantEntities(tenant)
	prev, ok := ents[canonical.ID]
	if !ok {
		return 0, &kgerr.NotFoundError{Kind: "entity", ID: canonical.ID, Tenant: tenant}
	}
	for _, dupID := range duplicateIDs {
		if dupID == canonical.ID {
			continue
		}
		if _, ok := ents[dupID]; !ok {
			return 0, &kgerr.NotFoundError{Kind: "entity", ID: dupID, Tenant: tenant}
		}
	}

	canonical.Metadata.CreatedAt = prev.Metadata.CreatedAt
	canonical.Metadata.UpdatedAt = time.Now().UTC()
	ents[canonical.ID] = canonical.Clone()
	s.resolveDeferredLocked(tenant, canonical.ID)

	count := 0
	for _, dupID := range duplicateIDs {
		if dupID == canonical.ID {
			continue
		}
		count += s.repointLocked(tenant, dupID, canonical.ID)
		delete(ents, dupID)
	}
	success = true
	return count, nil
}

// Traverse delegates to the shared bounded walk.
func (s *Store) Traverse(ctx context.Context, tc *model.TenantContext, spec store.TraverseSpec) ([]model.Path, bool, error) {
	done := metrics.TimeOp("memory_traverse")
	success := false
	defer func() { done(success) }()

	paths, truncated, err := traverse.CollectPaths(ctx, s, tc, spec)
	if err != nil {
		return nil, false, err
	}
	success = true
	return paths, truncated, nil
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}
