package model

import (
	"fmt"
	"time"
)

// Metadata carries provenance for entities and relations.
type Metadata struct {
	Source     string    `json:"source,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Entity is a typed node in the knowledge graph. The embedding, when present,
// is computed by the caller; the engine only stores and compares it.
type Entity struct {
	ID         string     `json:"id"`
	EntityType string     `json:"entityType"`
	Properties Properties `json:"properties"`
	Embedding  []float32  `json:"embedding,omitempty"`
	Metadata   Metadata   `json:"metadata"`
}

// Validate checks the entity invariants enforced at write time.
func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id must be a non-empty string")
	}
	if e.EntityType == "" {
		return fmt.Errorf("invalid entity type for entity %q", e.ID)
	}
	if e.Metadata.Confidence < 0 || e.Metadata.Confidence > 1 {
		return fmt.Errorf("entity %q confidence must be within [0,1]", e.ID)
	}
	return nil
}

// Clone returns a deep copy.
func (e Entity) Clone() Entity {
	out := e
	out.Properties = e.Properties.Clone()
	if e.Embedding != nil {
		out.Embedding = make([]float32, len(e.Embedding))
		copy(out.Embedding, e.Embedding)
	}
	return out
}

// DefaultWeight is the relation weight used when the caller supplies none.
const DefaultWeight = 1.0

// Relation is a typed, directed, weighted edge between two entities.
// Endpoints are referenced by id only; relations never hold entity pointers.
type Relation struct {
	ID           string     `json:"id"`
	RelationType string     `json:"relationType"`
	SourceID     string     `json:"sourceId"`
	TargetID     string     `json:"targetId"`
	Properties   Properties `json:"properties"`
	Weight       float64    `json:"weight"`
	Unresolved   bool       `json:"unresolved,omitempty"`
	Metadata     Metadata   `json:"metadata"`
}

// Validate checks the relation invariants enforced at write time.
func (r Relation) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("relation id must be a non-empty string")
	}
	if r.RelationType == "" {
		return fmt.Errorf("invalid relation type for relation %q", r.ID)
	}
	if r.SourceID == "" || r.TargetID == "" {
		return fmt.Errorf("relation %q endpoints cannot be empty", r.ID)
	}
	return nil
}

// Clone returns a deep copy.
func (r Relation) Clone() Relation {
	out := r
	out.Properties = r.Properties.Clone()
	return out
}

// Direction selects which edges a neighbor or traversal step follows.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Normalize maps the empty direction to both, matching legacy callers.
func (d Direction) Normalize() Direction {
	switch d {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return d
	case "":
		return DirectionBoth
	default:
		return d
	}
}

// Valid reports whether the direction is one of the three allowed values.
func (d Direction) Valid() bool {
	switch d.Normalize() {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return true
	}
	return false
}

// ScoredEntity pairs an entity with its cosine similarity to a query vector.
type ScoredEntity struct {
	Entity     Entity  `json:"entity"`
	Similarity float64 `json:"similarity"`
}

// DeletionReport describes the cascade performed by DeleteEntity.
type DeletionReport struct {
	EntityID         string   `json:"entityId"`
	RelationsDeleted int      `json:"relationsDeleted"`
	RelationIDs      []string `json:"relationIds,omitempty"`
}
