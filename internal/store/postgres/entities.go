package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
)

const entityColumns = "id, entity_type, properties, embedding::text, source, confidence, created_at, updated_at"

// uniqueViolation is the Postgres error code for primary key conflicts.
const uniqueViolation = "23505"

const resolveDeferredSQL = `UPDATE kg_relations SET unresolved = FALSE, updated_at = $1
    WHERE tenant_id = $2 AND unresolved
      AND (source_id = $3 OR target_id = $3)
      AND EXISTS (SELECT 1 FROM kg_entities e WHERE e.id = kg_relations.source_id AND e.tenant_id = kg_relations.tenant_id)
      AND EXISTS (SELECT 1 FROM kg_entities e WHERE e.id = kg_relations.target_id AND e.tenant_id = kg_relations.tenant_id)`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type pgScanner interface {
	Scan(dest ...any) error
}

func scanEntity(sc pgScanner) (model.Entity, error) {
	var (
		ent        model.Entity
		propsJSON  []byte
		vectorText *string
	)
	if err := sc.Scan(&ent.ID, &ent.EntityType, &propsJSON, &vectorText, &ent.Metadata.Source, &ent.Metadata.Confidence, &ent.Metadata.CreatedAt, &ent.Metadata.UpdatedAt); err != nil {
		return model.Entity{}, err
	}
	if err := json.Unmarshal(propsJSON, &ent.Properties); err != nil {
		return model.Entity{}, fmt.Errorf("failed to decode properties for entity %q: %w", ent.ID, err)
	}
	if vectorText != nil {
		vec, err := parseVector(*vectorText)
		if err != nil {
			return model.Entity{}, fmt.Errorf("failed to decode embedding for entity %q: %w", ent.ID, err)
		}
		ent.Embedding = vec
	}
	return ent, nil
}

// embeddingArg returns the value bound to a ::vector parameter, NULL when the
// entity carries no embedding.
func (s *Store) embeddingArg(embedding []float32) (any, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if len(embedding) != s.config.EmbeddingDims {
		return nil, fmt.Errorf("vector must have exactly %d dimensions, got %d", s.config.EmbeddingDims, len(embedding))
	}
	return pgvector.NewVector(embedding), nil
}

// AddEntity inserts a new entity; an (id, tenant) collision fails with a
// DuplicateIDError.
func (s *Store) AddEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	done := metrics.TimeOp("pg_add_entity")
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

	props, err := json.Marshal(entity.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties for entity %q: %w", entity.ID, err)
	}
	embedding, err := s.embeddingArg(entity.Embedding)
	if err != nil {
		return fmt.Errorf("failed to convert embedding for entity %q: %w", entity.ID, err)
	}

	pool, err := s.ready()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for entity %q: %w", entity.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO kg_entities (id, tenant_id, entity_type, properties, embedding, source, confidence, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8, $9)`,
		entity.ID, tenant, entity.EntityType, props, embedding,
		entity.Metadata.Source, entity.Metadata.Confidence,
		entity.Metadata.CreatedAt, entity.Metadata.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &kgerr.DuplicateIDError{Kind: "entity", ID: entity.ID, Tenant: tenant}
		}
		return fmt.Errorf("failed to insert entity %q: %w", entity.ID, err)
	}

	if _, err := tx.Exec(ctx, resolveDeferredSQL, now, tenant, entity.ID); err != nil {
		return fmt.Errorf("failed to resolve deferred relations for entity %q: %w", entity.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit entity %q: %w", entity.ID, err)
	}
	success = true
	return nil
}

// UpdateEntity replaces an existing entity, preserving its creation time.
func (s *Store) UpdateEntity(ctx context.Context, tc *model.TenantContext, entity model.Entity) error {
	done := metrics.TimeOp("pg_update_entity")
	success := false
	defer func() { done(success) }()

	if err := entity.Validate(); err != nil {
		return err
	}
	tenant := tc.Tenant()
	now := time.Now().UTC()

	props, err := json.Marshal(entity.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties for entity %q: %w", entity.ID, err)
	}
	embedding, err := s.embeddingArg(entity.Embedding)
	if err != nil {
		return fmt.Errorf("failed to convert embedding for entity %q: %w", entity.ID, err)
	}

	pool, err := s.ready()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for entity %q: %w", entity.ID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE kg_entities SET entity_type = $1, properties = $2, embedding = $3::vector,
             source = $4, confidence = $5, updated_at = $6
         WHERE id = $7 AND tenant_id = $8`,
		entity.EntityType, props, embedding,
		entity.Metadata.Source, entity.Metadata.Confidence, now,
		entity.ID, tenant)
	if err != nil {
		return fmt.Errorf("failed to update entity %q: %w", entity.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &kgerr.NotFoundError{Kind: "entity", ID: entity.ID, Tenant: tenant}
	}

	if _, err := tx.Exec(ctx, resolveDeferredSQL, now, tenant, entity.ID); err != nil {
		return fmt.Errorf("failed to resolve deferred relations for entity %q: %w", entity.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit entity %q: %w", entity.ID, err)
	}
	success = true
	return nil
}

// GetEntity fetches one entity.
func (s *Store) GetEntity(ctx context.Context, tc *model.TenantContext, id string) (*model.Entity, error) {
	tenant := tc.Tenant()
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx,
		"SELECT "+entityColumns+" FROM kg_entities WHERE id = $1 AND tenant_id = $2", id, tenant)
	ent, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		"SELECT "+entityColumns+" FROM kg_entities WHERE tenant_id = $1 AND id = ANY($2)",
		tenant, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	out := make([]model.Entity, 0, len(ids))
	for rows.Next() {
		ent, err := scanEntity(rows)
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
