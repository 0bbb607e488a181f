package libsql

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
)

// SimilarEntities returns the topK entities ranked by cosine similarity to
// the query embedding. The native vector index does the ranking; builds
// without the vector functions fall back to a Go-side scan so behavior stays
// aligned with the in-memory backend.
func (s *Store) SimilarEntities(ctx context.Context, tc *model.TenantContext, embedding []float32, topK int) ([]model.ScoredEntity, error) {
	done := metrics.TimeOp("libsql_similar_entities")
	success := false
	defer func() { done(success) }()

	if len(embedding) == 0 {
		return nil, fmt.Errorf("similarity search requires a non-empty query embedding")
	}
	if topK <= 0 {
		topK = 10
	}
	tenant := tc.Tenant()
	vectorString, err := s.vectorToString(embedding)
	if err != nil {
		return nil, err
	}
	db, err := s.ready()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + entityColumns + `,
           vector_distance_cos(embedding, vector32(?)) AS distance
        FROM entities
        WHERE tenant_id = ? AND embedding IS NOT NULL
        ORDER BY distance ASC, id ASC
        LIMIT ?`
	rows, err := db.QueryContext(ctx, query, vectorString, tenant, topK)
	if err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "no such function: vector_distance_cos") || strings.Contains(low, "no such function: vector32") {
			out, fbErr := s.similarEntitiesFallback(ctx, tc, embedding, topK)
			if fbErr != nil {
				return nil, fbErr
			}
			success = true
			return out, nil
		}
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var scored []model.ScoredEntity
	for rows.Next() {
		var (
			ent       model.Entity
			propsJSON string
			emb       []byte
			createdAt string
			updatedAt string
			distance  float64
		)
		if err := rows.Scan(&ent.ID, &ent.EntityType, &propsJSON, &emb, &ent.Metadata.Source, &ent.Metadata.Confidence, &createdAt, &updatedAt, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan similarity row: %w", err)
		}
		if err := json.Unmarshal([]byte(propsJSON), &ent.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties for entity %q: %w", ent.ID, err)
		}
		if ent.Embedding, err = s.extractVector(emb); err != nil {
			return nil, fmt.Errorf("failed to decode embedding for entity %q: %w", ent.ID, err)
		}
		if ent.Metadata.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at for entity %q: %w", ent.ID, err)
		}
		if ent.Metadata.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at for entity %q: %w", ent.ID, err)
		}
		scored = append(scored, model.ScoredEntity{Entity: ent, Similarity: 1 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	success = true
	return scored, nil
}

// similarEntitiesFallback brute-force scans embeddings when the libSQL build
// lacks the native vector functions.
func (s *Store) similarEntitiesFallback(ctx context.Context, tc *model.TenantContext, embedding []float32, topK int) ([]model.ScoredEntity, error) {
	entities, err := s.Query(ctx, tc, model.GraphQuery{})
	if err != nil {
		return nil, err
	}
	var scored []model.ScoredEntity
	for _, ent := range entities {
		if len(ent.Embedding) == 0 {
			continue
		}
		scored = append(scored, model.ScoredEntity{
			Entity:     ent,
			Similarity: store.Cosine(embedding, ent.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Entity.ID < scored[j].Entity.ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
