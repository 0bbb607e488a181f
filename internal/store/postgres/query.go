package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
)

// Query selects entities by type and property predicates. Type scoping runs
// in SQL; property predicates are evaluated in Go by the shared matcher so
// filter semantics cannot drift between backends.
func (s *Store) Query(ctx context.Context, tc *model.TenantContext, q model.GraphQuery) ([]model.Entity, error) {
	done := metrics.TimeOp("pg_query")
	success := false
	defer func() { done(success) }()

	if err := q.Validate(); err != nil {
		return nil, err
	}
	tenant := tc.Tenant()
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	query := "SELECT " + entityColumns + " FROM kg_entities WHERE tenant_id = $1"
	args := []any{tenant}
	if q.EntityType != "" {
		query += " AND entity_type = $2"
		args = append(args, q.EntityType)
	}
	query += " ORDER BY id"

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var matched []model.Entity
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		if !store.MatchesFilters(ent, q.Filters) {
			continue
		}
		matched = append(matched, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	success = true
	return store.ApplyWindow(matched, q.Offset, q.Limit), nil
}

// GetNeighbors returns the entities directly connected to id.
func (s *Store) GetNeighbors(ctx context.Context, tc *model.TenantContext, id string, direction model.Direction, relationTypes []string) ([]model.Entity, error) {
	done := metrics.TimeOp("pg_get_neighbors")
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

// DeleteEntity removes an entity and every relation referencing it,
// reporting the cascade.
func (s *Store) DeleteEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.DeletionReport, error) {
	done := metrics.TimeOp("pg_delete_entity")
	success := false
	defer func() { done(success) }()

	tenant := tc.Tenant()
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for entity %q: %w", id, err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		"DELETE FROM kg_relations WHERE tenant_id = $1 AND (source_id = $2 OR target_id = $2) RETURNING id",
		tenant, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete relations for entity %q: %w", id, err)
	}
	var relationIDs []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan relation id: %w", err)
		}
		relationIDs = append(relationIDs, rid)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	tag, err := tx.Exec(ctx, "DELETE FROM kg_entities WHERE id = $1 AND tenant_id = $2", id, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to delete entity %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &kgerr.NotFoundError{Kind: "entity", ID: id, Tenant: tenant}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit deletion of entity %q: %w", id, err)
	}

	sort.Strings(relationIDs)
	success = true
	return &model.DeletionReport{
		EntityID:         id,
		RelationsDeleted: len(relationIDs),
		RelationIDs:      relationIDs,
	}, nil
}

// MergeEntities folds duplicates into the canonical entity in a single
// transaction: canonical update, relation repoint per duplicate, duplicate
// deletion. Returns the number of relations dropped or rewritten.
func (s *Store) MergeEntities(ctx context.Context, tc *model.TenantContext, canonical model.Entity, duplicateIDs []string) (int, error) {
	done := metrics.TimeOp("pg_merge_entities")
	success := false
	defer func() { done(success) }()

	if err := canonical.Validate(); err != nil {
		return 0, err
	}
	tenant := tc.Tenant()
	now := time.Now().UTC()

	props, err := json.Marshal(canonical.Properties)
	if err != nil {
		return 0, fmt.Errorf("failed to encode properties for entity %q: %w", canonical.ID, err)
	}
	embedding, err := s.embeddingArg(canonical.Embedding)
	if err != nil {
		return 0, fmt.Errorf("failed to convert embedding for entity %q: %w", canonical.ID, err)
	}

	pool, err := s.ready()
	if err != nil {
		return 0, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for merge into %q: %w", canonical.ID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE kg_entities SET entity_type = $1, properties = $2, embedding = $3::vector,
             source = $4, confidence = $5, updated_at = $6
         WHERE id = $7 AND tenant_id = $8`,
		canonical.EntityType, props, embedding,
		canonical.Metadata.Source, canonical.Metadata.Confidence, now,
		canonical.ID, tenant)
	if err != nil {
		return 0, fmt.Errorf("failed to update canonical entity %q: %w", canonical.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, &kgerr.NotFoundError{Kind: "entity", ID: canonical.ID, Tenant: tenant}
	}

	count := 0
	for _, dupID := range duplicateIDs {
		if dupID == canonical.ID {
			continue
		}
		dropped, err := tx.Exec(ctx,
			`DELETE FROM kg_relations WHERE tenant_id = $1
                 AND ((source_id = $2 AND target_id = $3) OR (source_id = $3 AND target_id = $2) OR (source_id = $2 AND target_id = $2))`,
			tenant, dupID, canonical.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to drop self-loop relations for %q: %w", dupID, err)
		}

		rewritten, err := tx.Exec(ctx,
			`UPDATE kg_relations SET
                 source_id = CASE WHEN source_id = $1 THEN $2 ELSE source_id END,
                 target_id = CASE WHEN target_id = $1 THEN $2 ELSE target_id END,
                 updated_at = $3
             WHERE tenant_id = $4 AND (source_id = $1 OR target_id = $1)`,
			dupID, canonical.ID, now, tenant)
		if err != nil {
			return 0, fmt.Errorf("failed to repoint relations from %q: %w", dupID, err)
		}

		deleted, err := tx.Exec(ctx,
			"DELETE FROM kg_entities WHERE id = $1 AND tenant_id = $2", dupID, tenant)
		if err != nil {
			return 0, fmt.Errorf("failed to delete duplicate %q: %w", dupID, err)
		}
		if deleted.RowsAffected() == 0 {
			return 0, &kgerr.NotFoundError{Kind: "entity", ID: dupID, Tenant: tenant}
		}
		count += int(dropped.RowsAffected() + rewritten.RowsAffected())
	}

	if _, err := tx.Exec(ctx, resolveDeferredSQL, now, tenant, canonical.ID); err != nil {
		return 0, fmt.Errorf("failed to resolve deferred relations for entity %q: %w", canonical.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit merge into %q: %w", canonical.ID, err)
	}
	success = true
	return count, nil
}
