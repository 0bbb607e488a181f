package libsql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
)

const entityColumns = "id, entity_type, properties, embedding, source, confidence, created_at, updated_at"

// resolveDeferredSQL clears the unresolved flag on relations whose endpoints
// both exist after a write that may have supplied a missing endpoint.
const resolveDeferredSQL = `UPDATE relations SET unresolved = 0, updated_at = ?
    WHERE tenant_id = ? AND unresolved = 1
      AND (source_id = ? OR target_id = ?)
      AND EXISTS (SELECT 1 FROM entities e WHERE e.id = relations.source_id AND e.tenant_id = relations.tenant_id)
      AND EXISTS (SELECT 1 FROM entities e WHERE e.id = relations.target_id AND e.tenant_id = relations.tenant_id)`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEntity(sc rowScanner) (model.Entity, error) {
	var (
		ent       model.Entity
		propsJSON string
		embedding []byte
		createdAt string
		updatedAt string
	)
	if err := sc.Scan(&ent.ID, &ent.EntityType, &propsJSON, &embedding, &ent.Metadata.Source, &ent.Metadata.Confidence, &createdAt, &updatedAt); err != nil {
		return model.Entity{}, err
	}
	if err := json.Unmarshal([]byte(propsJSON), &ent.Properties); err != nil {
		return model.Entity{}, fmt.Errorf("failed to decode properties for entity %q: %w", ent.ID, err)
	}
	vec, err := s.extractVector(embedding)
	if err != nil {
		return model.Entity{}, fmt.Errorf("failed to decode embedding for entity %q: %w", ent.ID, err)
	}
	ent.Embedding = vec
	if ent.Metadata.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return model.Entity{}, fmt.Errorf("failed to parse created_at for entity %q: %w", ent.ID, err)
	}
	if ent.Metadata.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return model.Entity{}, fmt.Errorf("failed to parse updated_at for entity %q: %w", ent.ID, err)
	}
	return ent, nil
}

// entityWriteArgs encodes the variable columns of an entity row. Entities
// without an embedding store NULL so they never rank in similarity search;
// the returned expression is either "vector32(?)" plus one argument or a
// bare "NULL" with none.
func (s *Store) entityWriteArgs(entity model.Entity) (propsJSON, embeddingExpr string, embeddingArgs []any, err error) {
	props, err := json.Marshal(entity.Properties)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to encode properties for entity %q: %w", entity.ID, err)
	}
	if len(entity.Embedding) == 0 {
		return string(props), "NULL", nil, nil
	}
	vectorString, err := s.vectorToString(entity.Embedding)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to convert embedding for entity %q: %w", entity.ID, err)
	}
	return string(props), "vector32(?)", []any{vectorString}, nil
}

// AddEntity inserts a new entity; an (id, tenant) collision fails with a
// DuplicateIDError.
func (s *Store) AddEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	done := metrics.TimeOp("libsql_add_entity")
	success := false
	defer func() { done(success) }()

	if err := entity.Validate(); err != nil {
		return err
	}
	tenant := tc.Tenant()
	now := time.Now().UTC()
	if entity.Metadata.CreatedAt.IsZero() {
		entity.Metadata.CreatedAt = now
	}
	entity.Metadata.UpdatedAt = now

	propsJSON, embeddingExpr, embeddingArgs, err := s.entityWriteArgs(entity)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	db, err := s.ready()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for entity %q: %w", entity.ID, err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM entities WHERE id = ? AND tenant_id = ?", entity.ID, tenant).Scan(&one)
	switch {
	case err == nil:
		return &kgerr.DuplicateIDError{Kind: "entity", ID: entity.ID, Tenant: tenant}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check entity %q: %w", entity.ID, err)
	}

	args := []any{entity.ID, tenant, entity.EntityType, propsJSON}
	args = append(args, embeddingArgs...)
	args = append(args,
		entity.Metadata.Source, entity.Metadata.Confidence,
		entity.Metadata.CreatedAt.Format(timeLayout), entity.Metadata.UpdatedAt.Format(timeLayout))
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entities (id, tenant_id, entity_type, properties, embedding, source, confidence, created_at, updated_at)
         VALUES (?, ?, ?, ?, `+embeddingExpr+`, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to insert entity %q: %w", entity.ID, err)
	}

	if _, err := tx.ExecContext(ctx, resolveDeferredSQL, now.Format(timeLayout), tenant, entity.ID, entity.ID); err != nil {
		return fmt.Errorf("failed to resolve deferred relations for entity %q: %w", entity.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entity %q: %w", entity.ID, err)
	}
	success = true
	return nil
}

// UpdateEntity replaces an existing entity, preserving its creation time.
func (s *Store) UpdateEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	done := metrics.TimeOp("libsql_update_entity")
	success := false
	defer func() { done(success) }()

	if err := entity.Validate(); err != nil {
		return err
	}
	tenant := tc.Tenant()
	now := time.Now().UTC()

	propsJSON, embeddingExpr, embeddingArgs, err := s.entityWriteArgs(entity)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	db, err := s.ready()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for entity %q: %w", entity.ID, err)
	}
	defer tx.Rollback()

	args := []any{entity.EntityType, propsJSON}
	args = append(args, embeddingArgs...)
	args = append(args,
		entity.Metadata.Source, entity.Metadata.Confidence, now.Format(timeLayout),
		entity.ID, tenant)
	result, err := tx.ExecContext(ctx,
		`UPDATE entities SET entity_type = ?, properties = ?, embedding = `+embeddingExpr+`,
             source = ?, confidence = ?, updated_at = ?
         WHERE id = ? AND tenant_id = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to update entity %q: %w", entity.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for entity %q: %w", entity.ID, err)
	}
	if affected == 0 {
		return &kgerr.NotFoundError{Kind: "entity", ID: entity.ID, Tenant: tenant}
	}

	if _, err := tx.ExecContext(ctx, resolveDeferredSQL, now.Format(timeLayout), tenant, entity.ID, entity.ID); err != nil {
		return fmt.Errorf("failed to resolve deferred relations for entity %q: %w", entity.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entity %q: %w", entity.ID, err)
	}
	success = true
	return nil
}

// GetEntity fetches one entity.
func (s *Store) GetEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.Entity, error) {
	tenant := tc.Tenant()
	stmt, err := s.getPreparedStmt(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ? AND tenant_id = ?")
	if err != nil {
		return nil, err
	}
	ent, err := s.scanEntity(stmt.QueryRowContext(ctx, id, tenant))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &kgerr.NotFoundError{Kind: "entity", ID: id, Tenant: tenant}
	}
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// GetEntities batch-fetches entities by id, skipping missing ids.
func (s *Store) GetEntities(ctx context.Context, tc *model.TenantContext, ids []string) ([]model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tenant := tc.Tenant()
	db, err := s.ready()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM entities WHERE tenant_id = ? AND id IN (%s)", entityColumns, inPlaceholders(len(ids)))
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenant)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	out := make([]model.Entity, 0, len(ids))
	for rows.Next() {
		ent, err := s.scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
