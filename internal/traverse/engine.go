package traverse

import (
	"context"
	"fmt"
	"sort"

	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
)

// GraphScoreFunc collapses a path's weight product and hop count into a
// single graph-context score in [0,1] for well-behaved weights.
type GraphScoreFunc func(weightProduct float64, hops int) float64

// DefaultGraphScore divides the path weight product by the hop count, so
// shorter, heavier paths score higher.
func DefaultGraphScore(weightProduct float64, hops int) float64 {
	if hops <= 0 {
		return 0
	}
	return weightProduct / float64(hops)
}

// Config tunes hybrid reranking. The formula is deliberately configuration,
// not code: score = Alpha*similarity + (1-Alpha)*GraphScore(path).
type Config struct {
	Alpha      float64
	GraphScore GraphScoreFunc
}

// DefaultConfig weights semantic similarity at 0.6.
func DefaultConfig() Config {
	return Config{Alpha: 0.6, GraphScore: DefaultGraphScore}
}

// Engine runs graph, vector, and hybrid search against one GraphStore.
type Engine struct {
	store store.GraphStore
	cfg   Config
}

// NewEngine builds an Engine, filling zero config fields with defaults.
func NewEngine(s store.GraphStore, cfg Config) *Engine {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultConfig().Alpha
	}
	if cfg.GraphScore == nil {
		cfg.GraphScore = DefaultGraphScore
	}
	return &Engine{store: s, cfg: cfg}
}

// Graph runs a bounded traversal and assigns each path its graph score.
func (e *Engine) Graph(ctx context.Context, tc *model.TenantContext, spec store.TraverseSpec) ([]model.Path, bool, error) {
	done := metrics.TimeEngine("traverse_graph")
	success := false
	defer func() { done(success) }()

	paths, truncated, err := e.store.Traverse(ctx, tc, spec)
	if err != nil {
		return nil, false, err
	}
	for i := range paths {
		paths[i].Score = e.cfg.GraphScore(paths[i].WeightProduct(), paths[i].Hops())
	}
	success = true
	return paths, truncated, nil
}

// Vector returns the topK entities by cosine similarity to the query
// embedding. Never mutates state.
func (e *Engine) Vector(ctx context.Context, tc *model.TenantContext, embedding []float32, topK int) ([]model.ScoredEntity, error) {
	done := metrics.TimeEngine("traverse_vector")
	success := false
	defer func() { done(success) }()

	if len(embedding) == 0 {
		return nil, fmt.Errorf("search embedding cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}
	results, err := e.store.SimilarEntities(ctx, tc, embedding, topK)
	if err != nil {
		return nil, err
	}
	success = true
	return results, nil
}

// Hybrid retrieves vector candidates, expands each by one hop for graph
// context, and reranks the union of the candidates and their one-hop
// neighbors by the configured weighted score. A neighbor outside the vector
// topK can therefore still surface through the graph leg.
func (e *Engine) Hybrid(ctx context.Context, tc *model.TenantContext, req model.SearchRequest) ([]model.ScoredEntity, error) {
	done := metrics.TimeEngine("traverse_hybrid")
	success := false
	defer func() { done(success) }()

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	candidates, err := e.Vector(ctx, tc, req.Embedding, topK)
	if err != nil {
		return nil, err
	}

	// Each entity keeps its best score across all routes into the union.
	best := make(map[string]model.ScoredEntity)
	for _, cand := range candidates {
		paths, _, err := e.store.Traverse(ctx, tc, store.TraverseSpec{
			StartID:   cand.Entity.ID,
			MaxDepth:  1,
			Direction: model.DirectionBoth,
		})
		if err != nil {
			return nil, err
		}
		candGraph := 0.0
		for _, p := range paths {
			if p.Hops() == 0 {
				continue
			}
			pathScore := e.cfg.GraphScore(p.WeightProduct(), p.Hops())
			if pathScore > candGraph {
				candGraph = pathScore
			}
			neighbor := p.Entities[len(p.Entities)-1]
			if neighbor.ID == cand.Entity.ID {
				continue
			}
			sim := store.Cosine(req.Embedding, neighbor.Embedding)
			score := e.cfg.Alpha*sim + (1-e.cfg.Alpha)*pathScore
			if cur, ok := best[neighbor.ID]; !ok || score > cur.Similarity {
				best[neighbor.ID] = model.ScoredEntity{Entity: neighbor, Similarity: score}
			}
		}
		candScore := e.cfg.Alpha*cand.Similarity + (1-e.cfg.Alpha)*candGraph
		if cur, ok := best[cand.Entity.ID]; !ok || candScore > cur.Similarity {
			best[cand.Entity.ID] = model.ScoredEntity{Entity: cand.Entity, Similarity: candScore}
		}
	}

	reranked := make([]model.ScoredEntity, 0, len(best))
	for _, se := range best {
		reranked = append(reranked, se)
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		if reranked[i].Similarity != reranked[j].Similarity {
			return reranked[i].Similarity > reranked[j].Similarity
		}
		return reranked[i].Entity.ID < reranked[j].Entity.ID
	})
	if len(reranked) > topK {
		reranked = reranked[:topK]
	}
	success = true
	return reranked, nil
}

// Search dispatches a SearchRequest by mode. Graph mode returns the entity
// set reached from StartID, scored by best path.
func (e *Engine) Search(ctx context.Context, tc *model.TenantContext, req model.SearchRequest) ([]model.ScoredEntity, error) {
	switch req.Mode {
	case model.SearchModeVector:
		return e.Vector(ctx, tc, req.Embedding, req.TopK)
	case model.SearchModeHybrid:
		return e.Hybrid(ctx, tc, req)
	case model.SearchModeGraph:
		depth := req.MaxDepth
		if depth <= 0 {
			depth = 2
		}
		paths, _, err := e.Graph(ctx, tc, store.TraverseSpec{
			StartID:   req.StartID,
			MaxDepth:  depth,
			Direction: model.DirectionBoth,
		})
		if err != nil {
			return nil, err
		}
		best := make(map[string]model.ScoredEntity)
		for _, p := range paths {
			end := p.Entities[len(p.Entities)-1]
			if cur, ok := best[end.ID]; !ok || p.Score > cur.Similarity {
				best[end.ID] = model.ScoredEntity{Entity: end, Similarity: p.Score}
			}
		}
		out := make([]model.ScoredEntity, 0, len(best))
		for _, se := range best {
			out = append(out, se)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Similarity != out[j].Similarity {
				return out[i].Similarity > out[j].Similarity
			}
			return out[i].Entity.ID < out[j].Entity.ID
		})
		if req.TopK > 0 && len(out) > req.TopK {
			out = out[:req.TopK]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}
}
