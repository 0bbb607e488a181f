// Package traverse implements the bounded graph walk shared by every
// backend, and the vector/hybrid search engine layered on top of it.
package traverse

import (
	"context"
	"fmt"
	"sort"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
)

// partial is an in-flight path during BFS expansion. Entity ids are kept
// instead of entities; materialization happens once at the end.
type partial struct {
	ids  []string
	rels []model.Relation
}

func (p partial) tail() string { return p.ids[len(p.ids)-1] }

func (p partial) onPath(id string) bool {
	for _, v := range p.ids {
		if v == id {
			return true
		}
	}
	return false
}

// CollectPaths returns every simple path of 1..spec.MaxDepth hops from
// spec.StartID, expanding only through the allowed relation types and
// direction. The bool result is true when the depth bound truncated further
// expansion. Depth 0 is the one exception: it yields the start entity alone
// as a trivial 0-hop path, which deeper bounds deliberately exclude.
//
// Backends satisfy their Traverse contract by delegating here, so path
// semantics cannot differ between implementations.
func CollectPaths(ctx context.Context, src store.RelationSource, tc *model.TenantContext, spec store.TraverseSpec) ([]model.Path, bool, error) {
	if spec.StartID == "" {
		return nil, false, fmt.Errorf("traverse start id cannot be empty")
	}
	if spec.MaxDepth < 0 {
		return nil, false, fmt.Errorf("traverse max depth cannot be negative")
	}
	direction := spec.Direction.Normalize()
	if !direction.Valid() {
		return nil, false, fmt.Errorf("unknown traverse direction %q", spec.Direction)
	}

	// The start entity must exist even for depth 0.
	startEnts, err := src.GetEntities(ctx, tc, []string{spec.StartID})
	if err != nil {
		return nil, false, err
	}
	if len(startEnts) == 0 {
		return nil, false, &kgerr.NotFoundError{Kind: "entity", ID: spec.StartID, Tenant: tc.Tenant()}
	}

	trivial := partial{ids: []string{spec.StartID}}
	if spec.MaxDepth == 0 {
		next, err := expansions(ctx, src, tc, []partial{trivial}, direction, spec.RelationTypes)
		if err != nil {
			return nil, false, err
		}
		paths, err := materialize(ctx, src, tc, []partial{trivial})
		if err != nil {
			return nil, false, err
		}
		return paths, len(next) > 0, nil
	}

	var found []partial
	frontier := []partial{trivial}
	for depth := 0; depth < spec.MaxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		next, err := expansions(ctx, src, tc, frontier, direction, spec.RelationTypes)
		if err != nil {
			return nil, false, err
		}
		found = append(found, next...)
		frontier = next
	}

	// The bound truncated the search iff the deepest frontier could still
	// grow. One extra relation fetch answers that.
	truncated := false
	if len(frontier) > 0 {
		more, err := expansions(ctx, src, tc, frontier, direction, spec.RelationTypes)
		if err != nil {
			return nil, false, err
		}
		truncated = len(more) > 0
	}

	paths, err := materialize(ctx, src, tc, found)
	return paths, truncated, err
}

// expansions extends every frontier path by one hop, skipping entities
// already on the path (simple paths only) and unresolved relations.
func expansions(ctx context.Context, src store.RelationSource, tc *model.TenantContext, frontier []partial, direction model.Direction, relationTypes []string) ([]partial, error) {
	tails := make([]string, 0, len(frontier))
	seen := make(map[string]struct{}, len(frontier))
	for _, p := range frontier {
		if _, ok := seen[p.tail()]; ok {
			continue
		}
		seen[p.tail()] = struct{}{}
		tails = append(tails, p.tail())
	}

	rels, err := src.GetRelations(ctx, tc, tails, direction, relationTypes)
	if err != nil {
		return nil, err
	}

	// Adjacency keyed by the frontier-side endpoint.
	adj := make(map[string][]edge, len(tails))
	for _, r := range rels {
		if r.Unresolved {
			continue
		}
		switch direction {
		case model.DirectionOutgoing:
			adj[r.SourceID] = append(adj[r.SourceID], edge{rel: r, next: r.TargetID})
		case model.DirectionIncoming:
			adj[r.TargetID] = append(adj[r.TargetID], edge{rel: r, next: r.SourceID})
		default:
			adj[r.SourceID] = append(adj[r.SourceID], edge{rel: r, next: r.TargetID})
			adj[r.TargetID] = append(adj[r.TargetID], edge{rel: r, next: r.SourceID})
		}
	}

	var out []partial
	for _, p := range frontier {
		for _, e := range adj[p.tail()] {
			if p.onPath(e.next) {
				continue
			}
			ids := make([]string, len(p.ids), len(p.ids)+1)
			copy(ids, p.ids)
			prels := make([]model.Relation, len(p.rels), len(p.rels)+1)
			copy(prels, p.rels)
			out = append(out, partial{ids: append(ids, e.next), rels: append(prels, e.rel)})
		}
	}
	return out, nil
}

type edge struct {
	rel  model.Relation
	next string
}

// materialize fetches every entity referenced by the partials in one batch
// and assembles the final paths in a stable order.
func materialize(ctx context.Context, src store.RelationSource, tc *model.TenantContext, partials []partial) ([]model.Path, error) {
	idSet := make(map[string]struct{})
	for _, p := range partials {
		for _, id := range p.ids {
			idSet[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ents, err := src.GetEntities(ctx, tc, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Entity, len(ents))
	for _, e := range ents {
		byID[e.ID] = e
	}

	paths := make([]model.Path, 0, len(partials))
	for _, p := range partials {
		path := model.Path{
			Entities:  make([]model.Entity, 0, len(p.ids)),
			Relations: p.rels,
		}
		complete := true
		for _, id := range p.ids {
			ent, ok := byID[id]
			if !ok {
				// Entity deleted between expansion and materialization;
				// drop the path rather than return a hole.
				complete = false
				break
			}
			path.Entities = append(path.Entities, ent)
		}
		if complete {
			paths = append(paths, path)
		}
	}

	// Stable output: shortest paths first, then lexicographic by node ids.
	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Hops() != paths[j].Hops() {
			return paths[i].Hops() < paths[j].Hops()
		}
		return pathKey(paths[i]) < pathKey(paths[j])
	})
	return paths, nil
}

func pathKey(p model.Path) string {
	key := ""
	for _, e := range p.Entities {
		key += e.ID + "\x00"
	}
	return key
}
