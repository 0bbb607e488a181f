// Package fusion detects and merges duplicate entities within one tenant.
// Candidate scoring runs in parallel per blocking bucket; the merges
// themselves go through the store's write path one cluster at a time so
// backend write serialization applies.
package fusion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
)

// Strategy selects the canonical entity of a duplicate cluster.
type Strategy string

const (
	// MostComplete keeps the entity with the most non-null properties.
	MostComplete Strategy = "most_complete"
	// MostRecent keeps the entity with the latest update time.
	MostRecent Strategy = "most_recent"
	// HighestConfidence keeps the entity with the highest confidence.
	HighestConfidence Strategy = "highest_confidence"
)

// Options tune a fusion pass. Zero values fall back to defaults.
type Options struct {
	SimilarityThreshold float64
	Strategy            Strategy

	// MaxParallel bounds concurrent bucket scoring.
	MaxParallel int
}

// Stats reports what a fusion pass did. Ambiguous duplicates never abort a
// pass; the configured strategy decides and the decision lands here.
type Stats struct {
	EntitiesAnalyzed  int `json:"entitiesAnalyzed"`
	EntitiesMerged    int `json:"entitiesMerged"`
	ConflictsResolved int `json:"conflictsResolved"`
}

// Engine fuses duplicates in one GraphStore.
type Engine struct {
	store store.GraphStore
}

// NewEngine builds a fusion engine.
func NewEngine(s store.GraphStore) *Engine {
	return &Engine{store: s}
}

// When both entities carry embeddings the pair score blends cosine
// similarity with exact property overlap; without embeddings the overlap
// carries the whole score.
const (
	embeddingWeight = 0.7
	overlapWeight   = 0.3
)

func (o Options) withDefaults() Options {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = 0.85
	}
	if o.Strategy == "" {
		o.Strategy = MostComplete
	}
	if o.MaxParallel <= 0 {
		o.MaxParallel = 4
	}
	return o
}

// Fuse runs one pass over every entity of the given type, merging duplicate
// clusters. Re-running immediately on unchanged data merges nothing.
func (e *Engine) Fuse(ctx context.Context, tc *model.TenantContext, entityType string, opts Options) (*Stats, error) {
	done := metrics.TimeEngine("fusion_fuse")
	success := false
	defer func() { done(success) }()

	if entityType == "" {
		return nil, fmt.Errorf("fusion requires an entity type")
	}
	opts = opts.withDefaults()

	entities, err := e.store.Query(ctx, tc, model.GraphQuery{EntityType: entityType})
	if err != nil {
		return nil, err
	}
	stats := &Stats{EntitiesAnalyzed: len(entities)}
	if len(entities) < 2 {
		success = true
		return stats, nil
	}

	buckets := blockEntities(entities)
	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Phase one: score buckets in parallel, collecting duplicate clusters.
	var (
		mu       sync.Mutex
		clusters [][]model.Entity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxParallel)
	for _, key := range keys {
		bucket := buckets[key]
		if len(bucket) < 2 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found := clusterBucket(bucket, opts.SimilarityThreshold)
			if len(found) > 0 {
				mu.Lock()
				clusters = append(clusters, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sortClusters(clusters)

	// Phase two: merge clusters sequentially through the write path,
	// honoring cancellation between clusters.
	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		merged, conflicts, err := e.mergeCluster(ctx, tc, cluster, opts.Strategy)
		if err != nil {
			return nil, err
		}
		stats.EntitiesMerged += merged
		stats.ConflictsResolved += conflicts
	}
	success = true
	return stats, nil
}

// blockKey buckets entities cheaply before pairwise scoring. The normalized
// name property is the key; nameless entities fall back to an id prefix.
func blockKey(e model.Entity) string {
	if v, ok := e.Properties.Get("name"); ok {
		if s, ok := v.AsString(); ok && strings.TrimSpace(s) != "" {
			return normalizeName(s)
		}
	}
	id := strings.ToLower(e.ID)
	if len(id) > 4 {
		id = id[:4]
	}
	return "id:" + id
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func blockEntities(entities []model.Entity) map[string][]model.Entity {
	buckets := make(map[string][]model.Entity)
	for _, ent := range entities {
		key := blockKey(ent)
		buckets[key] = append(buckets[key], ent)
	}
	return buckets
}

// pairSimilarity blends embedding cosine with exact property overlap.
func pairSimilarity(a, b model.Entity) float64 {
	overlap := propertyOverlap(a.Properties, b.Properties)
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return embeddingWeight*store.Cosine(a.Embedding, b.Embedding) + overlapWeight*overlap
	}
	return overlap
}

// propertyOverlap is the share of keys present on either entity whose
// values match exactly. Null values count as absent.
func propertyOverlap(a, b model.Properties) float64 {
	keys := make(map[string]struct{})
	a.Range(func(key string, v model.Value) bool {
		if !v.IsNull() {
			keys[key] = struct{}{}
		}
		return true
	})
	b.Range(func(key string, v model.Value) bool {
		if !v.IsNull() {
			keys[key] = struct{}{}
		}
		return true
	})
	if len(keys) == 0 {
		return 0
	}
	matches := 0
	for key := range keys {
		av, aok := a.Get(key)
		bv, bok := b.Get(key)
		if aok && bok && !av.IsNull() && !bv.IsNull() && valuesMatch(av, bv) {
			matches++
		}
	}
	return float64(matches) / float64(len(keys))
}

// valuesMatch is exact equality, except strings compare after the same
// normalization the blocking key applies.
func valuesMatch(a, b model.Value) bool {
	if a.Equal(b) {
		return true
	}
	as, aok := a.AsString()
	bs, bok := b.AsString()
	return aok && bok && normalizeName(as) == normalizeName(bs)
}

// clusterBucket finds duplicate clusters within one bucket with union-find.
func clusterBucket(bucket []model.Entity, threshold float64) [][]model.Entity {
	parent := make([]int, len(bucket))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	for i := 0; i < len(bucket); i++ {
		for j := i + 1; j < len(bucket); j++ {
			if pairSimilarity(bucket[i], bucket[j]) >= threshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]model.Entity)
	for i := range bucket {
		root := find(i)
		groups[root] = append(groups[root], bucket[i])
	}
	var clusters [][]model.Entity
	for _, group := range groups {
		if len(group) > 1 {
			clusters = append(clusters, group)
		}
	}
	return clusters
}

func sortClusters(clusters [][]model.Entity) {
	for _, cluster := range clusters {
		sort.Slice(cluster, func(i, j int) bool { return cluster[i].ID < cluster[j].ID })
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0].ID < clusters[j][0].ID })
}

// pickCanonical applies the conflict resolution strategy, breaking ties by
// lowest id for determinism.
func pickCanonical(cluster []model.Entity, strategy Strategy) model.Entity {
	best := cluster[0]
	for _, cand := range cluster[1:] {
		if better(cand, best, strategy) {
			best = cand
		}
	}
	return best
}

func better(cand, best model.Entity, strategy Strategy) bool {
	switch strategy {
	case MostRecent:
		if !cand.Metadata.UpdatedAt.Equal(best.Metadata.UpdatedAt) {
			return cand.Metadata.UpdatedAt.After(best.Metadata.UpdatedAt)
		}
	case HighestConfidence:
		if cand.Metadata.Confidence != best.Metadata.Confidence {
			return cand.Metadata.Confidence > best.Metadata.Confidence
		}
	default:
		if cand.Properties.NonNullCount() != best.Properties.NonNullCount() {
			return cand.Properties.NonNullCount() > best.Properties.NonNullCount()
		}
	}
	return cand.ID < best.ID
}

// mergeCluster folds a duplicate cluster into its canonical entity. Property
// reconciliation happens here; the update, repoint and delete go through the
// store as a single atomic merge so concurrent writers never see a half
// merged cluster.
func (e *Engine) mergeCluster(ctx context.Context, tc *model.TenantContext, cluster []model.Entity, strategy Strategy) (merged, conflicts int, err error) {
	canonical := pickCanonical(cluster, strategy).Clone()

	for _, dup := range cluster {
		if dup.ID == canonical.ID {
			continue
		}
		dup.Properties.Range(func(key string, v model.Value) bool {
			if v.IsNull() {
				return true
			}
			existing, ok := canonical.Properties.Get(key)
			if !ok || existing.IsNull() {
				canonical.Properties.Set(key, v.Clone())
				return true
			}
			if !existing.Equal(v) {
				conflicts++
			}
			return true
		})
		if len(canonical.Embedding) == 0 && len(dup.Embedding) > 0 {
			canonical.Embedding = append([]float32(nil), dup.Embedding...)
		}
	}

	dupIDs := make([]string, 0, len(cluster)-1)
	for _, dup := range cluster {
		if dup.ID != canonical.ID {
			dupIDs = append(dupIDs, dup.ID)
		}
	}
	if _, err := e.store.MergeEntities(ctx, tc, canonical, dupIDs); err != nil {
		return 0, 0, fmt.Errorf("failed to merge cluster into %q: %w", canonical.ID, err)
	}
	return len(dupIDs), conflicts, nil
}
