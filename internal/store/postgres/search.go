package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
)

// SimilarEntities returns the topK entities ranked by cosine similarity to
// the query embedding, served by the pgvector HNSW index.
func (s *Store) SimilarEntities(ctx context.Context, tc *model.TenantContext, embedding []float32, topK int) ([]model.ScoredEntity, error) {
	done := metrics.TimeOp("pg_similar_entities")
	success := false
	defer func() { done(success) }()

	if len(embedding) == 0 {
		return nil, fmt.Errorf("similarity search requires a non-empty query embedding")
	}
	if len(embedding) != s.config.EmbeddingDims {
		return nil, fmt.Errorf("vector must have exactly %d dimensions, got %d", s.config.EmbeddingDims, len(embedding))
	}
	if topK <= 0 {
		topK = 10
	}
	tenant := tc.Tenant()
	pool, err := s.ready()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT `+entityColumns+`, embedding <=> $1::vector AS distance
         FROM kg_entities
         WHERE tenant_id = $2 AND embedding IS NOT NULL
         ORDER BY distance ASC, id ASC
         LIMIT $3`,
		pgvector.NewVector(embedding), tenant, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var scored []model.ScoredEntity
	for rows.Next() {
		var (
			ent        model.Entity
			propsJSON  []byte
			vectorText *string
			distance   float64
		)
		if err := rows.Scan(&ent.ID, &ent.EntityType, &propsJSON, &vectorText, &ent.Metadata.Source, &ent.Metadata.Confidence, &ent.Metadata.CreatedAt, &ent.Metadata.UpdatedAt, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan similarity row: %w", err)
		}
		if err := json.Unmarshal(propsJSON, &ent.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties for entity %q: %w", ent.ID, err)
		}
		if vectorText != nil {
			if ent.Embedding, err = parseVector(*vectorText); err != nil {
				return nil, fmt.Errorf("failed to decode embedding for entity %q: %w", ent.ID, err)
			}
		}
		scored = append(scored, model.ScoredEntity{Entity: ent, Similarity: 1 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	success = true
	return scored, nil
}
