package libsql

import (
	"context"
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
	done := metrics.TimeOp("libsql_query")
	success := false
	defer func() { done(success) }()

	if err := q.Validate(); err != nil {
		return nil, err
	}
	tenant := tc.Tenant()
	db, err := s.ready()
	if err != nil {
		return nil, err
	}

	query := "SELECT " + entityColumns + " FROM entities WHERE tenant_id = ?"
	args := []any{tenant}
	if q.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, q.EntityType)
	}
	query += " ORDER BY id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var matched []model.Entity
	for rows.Next() {
		ent, err := s.scanEntity(rows)
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
	done := metrics.TimeOp("libsql_get_neighbors")
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
	done := metrics.TimeOp("libsql_delete_entity")
	success := false
	defer func() { done(success) }()

	tenant := tc.Tenant()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	db, err := s.ready()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for entity %q: %w", id, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM relations WHERE tenant_id = ? AND (source_id = ? OR target_id = ?)",
		tenant, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations for entity %q: %w", id, err)
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

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM relations WHERE tenant_id = ? AND (source_id = ? OR target_id = ?)",
		tenant, id, id); err != nil {
		return nil, fmt.Errorf("failed to delete relations for entity %q: %w", id, err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ? AND tenant_id = ?", id, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to delete entity %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read delete result for entity %q: %w", id, err)
	}
	if affected == 0 {
		return nil, &kgerr.NotFoundError{Kind: "entity", ID: id, Tenant: tenant}
	}
	if err := tx.Commit(); err != nil {
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
	done := metrics.TimeOp("libsql_merge_entities")
	success := false
	defer func() { done(success) }()

	if err := canonical.Validate(); err != nil {
		return 0, err
	}
	tenant := tc.Tenant()
	now := time.Now().UTC().Format(timeLayout)

	propsJSON, embeddingExpr, embeddingArgs, err := s.entityWriteArgs(canonical)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	db, err := s.ready()
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for merge into %q: %w", canonical.ID, err)
	}
	defer tx.Rollback()

	args := []any{canonical.EntityType, propsJSON}
	args = append(args, embeddingArgs...)
	args = append(args,
		canonical.Metadata.Source, canonical.Metadata.Confidence, now,
		canonical.ID, tenant)
	result, err := tx.ExecContext(ctx,
		`UPDATE entities SET entity_type = ?, properties = ?, embedding = `+embeddingExpr+`,
             source = ?, confidence = ?, updated_at = ?
         WHERE id = ? AND tenant_id = ?`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update canonical entity %q: %w", canonical.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update result for entity %q: %w", canonical.ID, err)
	}
	if affected == 0 {
		return 0, &kgerr.NotFoundError{Kind: "entity", ID: canonical.ID, Tenant: tenant}
	}

	count := 0
	for _, dupID := range duplicateIDs {
		if dupID == canonical.ID {
			continue
		}
		dropped, err := tx.ExecContext(ctx,
			`DELETE FROM relations WHERE tenant_id = ?
                 AND ((source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?))`,
			tenant, dupID, canonical.ID, canonical.ID, dupID, dupID, dupID)
		if err != nil {
			return 0, fmt.Errorf("failed to drop self-loop relations for %q: %w", dupID, err)
		}
		droppedCount, err := dropped.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read drop result: %w", err)
		}

		rewritten, err := tx.ExecContext(ctx,
			`UPDATE relations SET
                 source_id = CASE WHEN source_id = ? THEN ? ELSE source_id END,
                 target_id = CASE WHEN target_id = ? THEN ? ELSE target_id END,
                 updated_at = ?
             WHERE tenant_id = ? AND (source_id = ? OR target_id = ?)`,
			dupID, canonical.ID, dupID, canonical.ID, now, tenant, dupID, dupID)
		if err != nil {
			return 0, fmt.Errorf("failed to repoint relations from %q: %w", dupID, err)
		}
		rewrittenCount, err := rewritten.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read repoint result: %w", err)
		}

		deleted, err := tx.ExecContext(ctx,
			"DELETE FROM entities WHERE id = ? AND tenant_id = ?", dupID, tenant)
		if err != nil {
			return 0, fmt.Errorf("failed to delete duplicate %q: %w", dupID, err)
		}
		deletedRows, err := deleted.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read delete result for %q: %w", dupID, err)
		}
		if deletedRows == 0 {
			return 0, &kgerr.NotFoundError{Kind: "entity", ID: dupID, Tenant: tenant}
		}
		count += int(droppedCount + rewrittenCount)
	}

	if _, err := tx.ExecContext(ctx, resolveDeferredSQL, now, tenant, canonical.ID, canonical.ID); err != nil {
		return 0, fmt.Errorf("failed to resolve deferred relations for entity %q: %w", canonical.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit merge into %q: %w", canonical.ID, err)
	}
	success = true
	return count, nil
}
