package store

import (
	"strings"

	"github.com/kgfoundry/kgraph/internal/model"
)

// MatchesFilters evaluates every property predicate of a query against an
// entity. All backends route predicate evaluation through this matcher so
// equality, range, and substring semantics cannot drift between them.
func MatchesFilters(e model.Entity, filters []model.PropertyFilter) bool {
	for _, f := range filters {
		if !matchesFilter(e, f) {
			return false
		}
	}
	return true
}

func matchesFilter(e model.Entity, f model.PropertyFilter) bool {
	v, ok := e.Properties.Get(f.Field)
	if !ok {
		// Absent properties only satisfy inequality against non-null.
		return f.Op == model.OpNeq && !f.Value.IsNull()
	}
	switch f.Op {
	case model.OpEq:
		return v.Equal(f.Value)
	case model.OpNeq:
		return !v.Equal(f.Value)
	case model.OpLt, model.OpLte, model.OpGt, model.OpGte:
		cmp, ok := v.Compare(f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case model.OpLt:
			return cmp < 0
		case model.OpLte:
			return cmp <= 0
		case model.OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case model.OpContains:
		sub, subOK := f.Value.AsString()
		if !subOK {
			return false
		}
		if s, ok := v.AsString(); ok {
			return strings.Contains(s, sub)
		}
		if items, ok := v.AsList(); ok {
			for _, item := range items {
				if item.Equal(f.Value) {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// ApplyWindow slices a result set by offset and limit. Limit 0 means
// unlimited, matching GraphQuery's explicit-pagination contract.
func ApplyWindow(entities []model.Entity, offset, limit int) []model.Entity {
	if offset >= len(entities) {
		return []model.Entity{}
	}
	entities = entities[offset:]
	if limit > 0 && limit < len(entities) {
		entities = entities[:limit]
	}
	return entities
}
