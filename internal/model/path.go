package model

import "fmt"

// Path is an ordered alternation of entities and the relations connecting
// them. The score is assigned by the traversal or reasoning engine and is
// never persisted.
type Path struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	Score     float64    `json:"score"`
}

// Hops returns the number of relations on the path.
func (p Path) Hops() int { return len(p.Relations) }

// StartID returns the id of the first entity, or "" for an empty path.
func (p Path) StartID() string {
	if len(p.Entities) == 0 {
		return ""
	}
	return p.Entities[0].ID
}

// EndID returns the id of the last entity, or "" for an empty path.
func (p Path) EndID() string {
	if len(p.Entities) == 0 {
		return ""
	}
	return p.Entities[len(p.Entities)-1].ID
}

// WeightProduct multiplies the weights of every relation on the path.
// An empty path has product 1.
func (p Path) WeightProduct() float64 {
	prod := 1.0
	for _, r := range p.Relations {
		prod *= r.Weight
	}
	return prod
}

// DistinctRelationTypes counts the unique relation types traversed.
func (p Path) DistinctRelationTypes() int {
	seen := make(map[string]struct{}, len(p.Relations))
	for _, r := range p.Relations {
		seen[r.RelationType] = struct{}{}
	}
	return len(seen)
}

// Validate checks the alternation invariant.
func (p Path) Validate() error {
	if len(p.Entities) == 0 {
		return fmt.Errorf("path must contain at least one entity")
	}
	if len(p.Relations) != len(p.Entities)-1 {
		return fmt.Errorf("path has %d relations for %d entities", len(p.Relations), len(p.Entities))
	}
	return nil
}
