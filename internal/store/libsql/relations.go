package libsql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
)

const relationColumns = "id, relation_type, source_id, target_id, properties, weight, unresolved, source, confidence, created_at, updated_at"

func scanRelation(sc rowScanner) (model.Relation, error) {
	var (
		rel        model.Relation
		propsJSON  string
		unresolved int
		createdAt  string
		updatedAt  string
	)
	err := sc.Scan(&rel.ID, &rel.RelationType, &rel.SourceID, &rel.TargetID, &propsJSON,
		&rel.Weight, &unresolved, &rel.Metadata.Source, &rel.Metadata.Confidence, &createdAt, &updatedAt)
	if err != nil {
		return model.Relation{}, err
	}
	if err := json.Unmarshal([]byte(propsJSON), &rel.Properties); err != nil {
		return model.Relation{}, fmt.Errorf("failed to decode properties for relation %q: %w", rel.ID, err)
	}
	rel.Unresolved = unresolved != 0
	if rel.Metadata.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return model.Relation{}, fmt.Errorf("failed to parse created_at for relation %q: %w", rel.ID, err)
	}
	if rel.Metadata.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return model.Relation{}, fmt.Errorf("failed to parse updated_at for relation %q: %w", rel.ID, err)
	}
	return rel, nil
}

// AddRelation inserts a relation, enforcing endpoint existence unless the
// caller opts into deferred (bulk-import) mode.
func (s *Store) AddRelation(ctx context.Context, tc *model.TenantContext, relation model.Relation, allowDeferred bool) error {
	done := metrics.TimeOp("libsql_add_relation")
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

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	db, err := s.ready()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for relation %q: %w", relation.ID, err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM relations WHERE id = ? AND tenant_id = ?", relation.ID, tenant).Scan(&one)
	switch {
	case err == nil:
		return &kgerr.DuplicateIDError{Kind: "relation", ID: relation.ID, Tenant: tenant}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check relation %q: %w", relation.ID, err)
	}

	srcOK, err := entityExists(ctx, tx, tenant, relation.SourceID)
	if err != nil {
		return err
	}
	tgtOK, err := entityExists(ctx, tx, tenant, relation.TargetID)
	if err != nil {
		return err
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

	unresolved := 0
	if relation.Unresolved {
		unresolved = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO relations (id, tenant_id, relation_type, source_id, target_id, properties, weight, unresolved, source, confidence, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		relation.ID, tenant, relation.RelationType, relation.SourceID, relation.TargetID,
		string(props), relation.Weight, unresolved,
		relation.Metadata.Source, relation.Metadata.Confidence,
		relation.Metadata.CreatedAt.Format(timeLayout), relation.Metadata.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert relation %q: %w", relation.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit relation %q: %w", relation.ID, err)
	}
	success = true
	return nil
}

func entityExists(ctx context.Context, tx *sql.Tx, tenant, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM entities WHERE id = ? AND tenant_id = ?", id, tenant).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check entity %q: %w", id, err)
	}
	return true, nil
}

// DeleteRelation removes one relation by id.
func (s *Store) DeleteRelation(ctx context.Context, tc *model.TenantContext, id string) error {
	tenant := tc.Tenant()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	db, err := s.ready()
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, "DELETE FROM relations WHERE id = ? AND tenant_id = ?", id, tenant)
	if err != nil {
		return fmt.Errorf("failed to delete relation %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result for relation %q: %w", id, err)
	}
	if affected == 0 {
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
	db, err := s.ready()
	if err != nil {
		return nil, err
	}

	in := inPlaceholders(len(ids))
	var cond string
	args := []any{tenant}
	appendIDs := func() {
		for _, id := range ids {
			args = append(args, id)
		}
	}
	switch direction {
	case model.DirectionOutgoing:
		cond = "source_id IN (" + in + ")"
		appendIDs()
	case model.DirectionIncoming:
		cond = "target_id IN (" + in + ")"
		appendIDs()
	default:
		cond = "(source_id IN (" + in + ") OR target_id IN (" + in + "))"
		appendIDs()
		appendIDs()
	}
	query := "SELECT " + relationColumns + " FROM relations WHERE tenant_id = ? AND " + cond
	if len(relationTypes) > 0 {
		query += " AND relation_type IN (" + inPlaceholders(len(relationTypes)) + ")"
		for _, rt := range relationTypes {
			args = append(args, rt)
		}
	}
	query += " ORDER BY id"

	rows, err := db.QueryContext(ctx, query, args...)
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
	done := metrics.TimeOp("libsql_repoint_relations")
	success := false
	defer func() { done(success) }()

	tenant := tc.Tenant()
	now := time.Now().UTC().Format(timeLayout)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	db, err := s.ready()
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for repoint: %w", err)
	}
	defer tx.Rollback()

	// Relations already connecting the pair become self-loops after the
	// rewrite; drop them instead.
	dropped, err := tx.ExecContext(ctx,
		`DELETE FROM relations WHERE tenant_id = ?
             AND ((source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?))`,
		tenant, fromID, toID, toID, fromID, fromID, fromID)
	if err != nil {
		return 0, fmt.Errorf("failed to drop self-loop relations: %w", err)
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
		fromID, toID, fromID, toID, now, tenant, fromID, fromID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint relations: %w", err)
	}
	rewrittenCount, err := rewritten.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read repoint result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, resolveDeferredSQL, now, tenant, toID, toID); err != nil {
		return 0, fmt.Errorf("failed to resolve deferred relations after repoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit repoint: %w", err)
	}
	success = true
	return int(droppedCount + rewrittenCount), nil
}
