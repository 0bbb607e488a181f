package model

import "fmt"

// FilterOp is a property predicate operator for GraphQuery.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNeq      FilterOp = "neq"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpContains FilterOp = "contains"
)

// Valid reports whether the operator is known.
func (op FilterOp) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpContains:
		return true
	}
	return false
}

// PropertyFilter is a single (field, operator, value) predicate.
type PropertyFilter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value Value    `json:"value"`
}

// GraphQuery selects entities by type and/or property predicates. There is
// no implicit limit; callers paginate with Limit/Offset.
type GraphQuery struct {
	EntityType string           `json:"entityType,omitempty"`
	Filters    []PropertyFilter `json:"filters,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

// Validate rejects malformed predicates before they reach a backend.
func (q GraphQuery) Validate() error {
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("property filter field cannot be empty")
		}
		if !f.Op.Valid() {
			return fmt.Errorf("unknown filter operator %q", f.Op)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("limit and offset cannot be negative")
	}
	return nil
}

// SearchMode selects the hybrid-search execution mode.
type SearchMode string

const (
	SearchModeVector SearchMode = "vector"
	SearchModeGraph  SearchMode = "graph"
	SearchModeHybrid SearchMode = "hybrid"
)

// SearchRequest drives vector, graph, and hybrid search. The embedding is
// always computed externally.
type SearchRequest struct {
	Embedding []float32  `json:"embedding,omitempty"`
	StartID   string     `json:"startId,omitempty"`
	TopK      int        `json:"topK"`
	Mode      SearchMode `json:"mode"`
	MaxDepth  int        `json:"maxDepth,omitempty"`
}
