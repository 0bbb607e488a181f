// Package reason ranks evidence paths between graph anchors. It never
// synthesizes answers; callers feed the ranked paths to whatever consumes
// structured evidence.
package reason

import (
	"context"
	"fmt"
	"sort"

	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
	"github.com/kgfoundry/kgraph/internal/traverse"
)

// ScoredPath is one evidence path with its reasoning score.
type ScoredPath struct {
	Path                  model.Path `json:"path"`
	Score                 float64    `json:"score"`
	Hops                  int        `json:"hops"`
	DistinctRelationTypes int        `json:"distinctRelationTypes"`
}

// Result carries ranked paths. Exhausted reports that the hop bound cut the
// search short; an empty path list with Exhausted set means a longer path
// may exist beyond the bound.
type Result struct {
	Paths     []ScoredPath `json:"paths"`
	Exhausted bool         `json:"exhausted"`
}

// Engine answers multi-hop questions over one GraphStore.
type Engine struct {
	store  store.GraphStore
	search *traverse.Engine
}

// NewEngine builds a reasoning engine sharing the given search engine.
func NewEngine(s store.GraphStore, search *traverse.Engine) *Engine {
	if search == nil {
		search = traverse.NewEngine(s, traverse.DefaultConfig())
	}
	return &Engine{store: s, search: search}
}

// pathScore is weight product scaled down by path length.
func pathScore(p model.Path) float64 {
	hops := p.Hops()
	if hops <= 0 {
		return 0
	}
	return p.WeightProduct() / float64(hops)
}

// FindPaths collects every simple path from startID to endID within maxHops
// and returns them ranked by score, best first. A missing anchor is an
// error; an unreachable endID is an empty result.
func (e *Engine) FindPaths(ctx context.Context, tc *model.TenantContext, startID, endID string, maxHops int) (*Result, error) {
	done := metrics.TimeEngine("reason_find_paths")
	success := false
	defer func() { done(success) }()

	if startID == "" || endID == "" {
		return nil, fmt.Errorf("reasoning requires both start and end ids")
	}
	if maxHops <= 0 {
		return nil, fmt.Errorf("max hops must be positive, got %d", maxHops)
	}
	if _, err := e.store.GetEntity(ctx, tc, endID); err != nil {
		return nil, err
	}

	paths, truncated, err := e.store.Traverse(ctx, tc, store.TraverseSpec{
		StartID:   startID,
		MaxDepth:  maxHops,
		Direction: model.DirectionBoth,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Exhausted: truncated}
	for _, p := range paths {
		if p.Hops() == 0 || p.EndID() != endID {
			continue
		}
		result.Paths = append(result.Paths, ScoredPath{
			Path:                  p,
			Score:                 pathScore(p),
			Hops:                  p.Hops(),
			DistinctRelationTypes: p.DistinctRelationTypes(),
		})
	}
	sortScoredPaths(result.Paths)
	success = true
	return result, nil
}

// Explore handles the free-text case: the caller supplies an externally
// computed query embedding, hybrid search nominates candidate end entities,
// and each candidate is connected back to startID by ranked paths.
func (e *Engine) Explore(ctx context.Context, tc *model.TenantContext, startID string, embedding []float32, maxHops, topK int) (*Result, error) {
	done := metrics.TimeEngine("reason_explore")
	success := false
	defer func() { done(success) }()

	if startID == "" {
		return nil, fmt.Errorf("reasoning requires a start id")
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("free-text reasoning requires a query embedding")
	}
	if maxHops <= 0 {
		return nil, fmt.Errorf("max hops must be positive, got %d", maxHops)
	}

	candidates, err := e.search.Hybrid(ctx, tc, model.SearchRequest{
		Embedding: embedding,
		TopK:      topK,
		Mode:      model.SearchModeHybrid,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{}
	seen := make(map[string]struct{})
	for _, cand := range candidates {
		if cand.Entity.ID == startID {
			continue
		}
		sub, err := e.FindPaths(ctx, tc, startID, cand.Entity.ID, maxHops)
		if err != nil {
			return nil, err
		}
		result.Exhausted = result.Exhausted || sub.Exhausted
		for _, sp := range sub.Paths {
			key := pathIdentity(sp.Path)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result.Paths = append(result.Paths, sp)
		}
	}
	sortScoredPaths(result.Paths)
	success = true
	return result, nil
}

func sortScoredPaths(paths []ScoredPath) {
	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Score != paths[j].Score {
			return paths[i].Score > paths[j].Score
		}
		return paths[i].Hops < paths[j].Hops
	})
}

func pathIdentity(p model.Path) string {
	key := ""
	for _, r := range p.Relations {
		key += r.ID + "|"
	}
	return key
}
