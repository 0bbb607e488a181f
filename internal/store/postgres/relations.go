package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
)

const relationColumns = "id, relation_type, source_id, target_id, properties, weight, unresolved, source, confidence, created_at, updated_at"

func scanRelation(sc pgScanner) (model.Relation, error) {
	var (
		rel       model.Relation
		propsJSON []byte
	)
	err := sc.Scan(&rel.ID, &rel.RelationType, &rel.SourceID, &rel.TargetID, &propsJSON,
		&rel.Weight, &rel.Unresolved, &rel.Metadata.Source, &rel.Metadata.Confidence,
		&rel.Metadata.CreatedAt, &rel.Metadata.UpdatedAt)
	if err != nil {
		return model.Relation{}, err
	}
	if err := json.Unmarshal(propsJSON, &rel.Properties); err != nil {
		return model.Relation{}, fmt.Errorf("failed to decode properties for relation %q: %w", rel.ID, err)
	}
	return rel, nil
}

// AddRelation inserts a relation, enforcing endpoint existence unless the
// caller opts into deferred (bulk-import) mode.
func (s *Store) AddRelation(ctx context.Context, tc *model.TenantContext, relation model.Relation, allowDeferred bool) error {
	done := metrics.TimeOp("pg_add_relation")
	success := false
	defer func() { done(success) }()

	if err := relation.Validate(); err != nil {
		return err
	}
	tenant := tc.Tenant()
	if relation.Weight == 0 {
		relation.Weight = model.DefaultWeight
	}
	now := time.Now().UTC()
	if relation.Metadata.CreatedAt.IsZero() {
		relation.Metadata.CreatedAt = now
	}
	relation.Metadata.UpdatedAt = now

	props, err := json.Marshal(relation.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties for relation %q: %w", relation.ID, err)
	}

	pool, err := s.ready()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for relation %q: %w", relation.ID, err)
	}
	defer tx.Rollback(ctx)

	var srcOK, tgtOK bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM kg_entities WHERE id = $1 AND tenant_id = $3),
                EXISTS (SELECT 1 FROM kg_entities WHERE id = $2 AND tenant_id = $3)`,
		relation.SourceID, relation.TargetID, tenant).Scan(&srcOK, &tgtOK)
	if err != nil {
		return fmt.Errorf("failed to check endpoints for relation %q: %w", relation.ID, err)
	}
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

	_, err = tx.Exec(ctx,
		`INSERT INTO kg_relations (id, tenant_id, relation_type, source_id, target_id, properties, weight, unresolved, source, confidence, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		relation.ID, tenant, relation.RelationType, relation.SourceID, relation.TargetID,
		props, relation.Weight, relation.Unresolved,
		relation.Metadata.Source, relation.Metadata.Confidence,
		relation.Metadata.CreatedAt, relation.Metadata.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &kgerr.DuplicateIDError{Kind: "relation", ID: relation.ID, Tenant: tenant}
		}
		return fmt.Errorf("failed to insert relation %q: %w", relation.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit relation %q: %w", relation.ID, err)
	}
	success = true
	return nil
}

// DeleteRelation removes one relation by id.
func (s *Store) DeleteRelation(ctx context.Context, tc *model.TenantContext, id string) error {
	tenant := tc.Tenant()
	pool, err := s.ready()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, "DELETE FROM kg_relations WHERE id = $1 AND tenant_id = $2", id, tenant)
	if err != nil {
		return fmt.Errorf("failed to delete relation %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &kgerr.NotFoundError{Kind: "relation", ID: id, Tenant: tenant}
	}
	return nil
}

// GetRelations returns relations touching the given ids, filtered by
// direction and relation type.
func (s *Store) GetRelations(ctx context.Context, tc *model.TenantContext, ids []string, direction model.Direction, relationTypes []string) ([]model.Relation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tenant := tc.Tenant()
	direction = direction.Normalize()
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	var cond string
	switch direction {
	case model.DirectionOutgoing:
		cond = "source_id = ANY($2)"
	case model.DirectionIncoming:
		cond = "target_id = ANY($2)"
	default:
		cond = "(source_id = ANY($2) OR target_id = ANY($2))"
	}
	query := "SELECT " + relationColumns + " FROM kg_relations WHERE tenant_id = $1 AND " + cond
	args := []any{tenant, ids}
	if len(relationTypes) > 0 {
		query += " AND relation_type = ANY($3)"
		args = append(args, relationTypes)
	}
	query += " ORDER BY id"

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var out []model.Relation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RepointRelations rewrites endpoint references from fromID to toID,
// dropping would-be self-loops. Used by fusion merges.
func (s *Store) RepointRelations(ctx context.Context, tc *model.TenantContext, fromID, toID string) (int, error) {
	done := metrics.TimeOp("pg_repoint_relations")
	success := false
	defer func() { done(success) }()

	tenant := tc.Tenant()
	now := time.Now().UTC()
	pool, err := s.ready()
	if err != nil {
		return 0, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for repoint: %w", err)
	}
	defer tx.Rollback(ctx)

	dropped, err := tx.Exec(ctx,
		`DELETE FROM kg_relations WHERE tenant_id = $1
             AND ((source_id = $2 AND target_id = $3) OR (source_id = $3 AND target_id = $2) OR (source_id = $2 AND target_id = $2))`,
		tenant, fromID, toID)
	if err != nil {
		return 0, fmt.Errorf("failed to drop self-loop relations: %w", err)
	}

	rewritten, err := tx.Exec(ctx,
		`UPDATE kg_relations SET
             source_id = CASE WHEN source_id = $1 THEN $2 ELSE source_id END,
             target_id = CASE WHEN target_id = $1 THEN $2 ELSE target_id END,
             updated_at = $3
         WHERE tenant_id = $4 AND (source_id = $1 OR target_id = $1)`,
		fromID, toID, now, tenant)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint relations: %w", err)
	}

	if _, err := tx.Exec(ctx, resolveDeferredSQL, now, tenant, toID); err != nil {
		return 0, fmt.Errorf("failed to resolve deferred relations after repoint: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit repoint: %w", err)
	}
	success = true
	return int(dropped.RowsAffected() + rewritten.RowsAffected()), nil
}
