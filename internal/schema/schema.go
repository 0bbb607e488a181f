// Package schema provides the optional type registry. Validation is opt-in
// per type: entities and relations whose type is not registered pass through
// untouched, so untyped graphs keep working.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/model"
)

// Manager holds registered entity and relation types. Safe for concurrent
// use; registration and validation may interleave.
type Manager struct {
	mu            sync.RWMutex
	entityTypes   map[string]model.EntityType
	relationTypes map[string]model.RelationType
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{
		entityTypes:   make(map[string]model.EntityType),
		relationTypes: make(map[string]model.RelationType),
	}
}

// RegisterEntityType adds or replaces an entity type declaration.
func (m *Manager) RegisterEntityType(et model.EntityType) error {
	if et.Name == "" {
		return fmt.Errorf("entity type name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entityTypes[et.Name] = et
	return nil
}

// RegisterRelationType adds or replaces a relation type declaration.
func (m *Manager) RegisterRelationType(rt model.RelationType) error {
	if rt.Name == "" {
		return fmt.Errorf("relation type name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationTypes[rt.Name] = rt
	return nil
}

// EntityType looks up a declaration by name.
func (m *Manager) EntityType(name string) (model.EntityType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	et, ok := m.entityTypes[name]
	return et, ok
}

// RelationType looks up a declaration by name.
func (m *Manager) RelationType(name string) (model.RelationType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.relationTypes[name]
	return rt, ok
}

// EntityTypeNames returns the registered entity type names, sorted.
func (m *Manager) EntityTypeNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entityTypes))
	for name := range m.entityTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RelationTypeNames returns the registered relation type names, sorted.
func (m *Manager) RelationTypeNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.relationTypes))
	for name := range m.relationTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateEntity checks an entity against its registered type, applying
// declared defaults for absent optional properties. Every violation is
// collected before failing so callers see the full list at once. Entities
// of unregistered types pass unchanged.
func (m *Manager) ValidateEntity(entity *model.Entity) error {
	m.mu.RLock()
	et, ok := m.entityTypes[entity.EntityType]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	var violations []string
	names := make([]string, 0, len(et.Properties))
	for name := range et.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ps := et.Properties[name]
		v, present := entity.Properties.Get(name)
		if !present || v.IsNull() {
			if ps.Default != nil {
				entity.Properties.Set(name, ps.Default.Clone())
				continue
			}
			if ps.Required {
				violations = append(violations, fmt.Sprintf("property %q is required", name))
			}
			continue
		}
		violations = append(violations, checkProperty(name, ps, v)...)
	}

	if len(violations) > 0 {
		return &kgerr.SchemaValidationError{TypeName: entity.EntityType, Violations: violations}
	}
	return nil
}

// ValidateRelation checks a relation's properties and endpoint entity types.
// Endpoint types are supplied by the caller, which has already fetched the
// entities; deferred endpoints pass with an empty type.
func (m *Manager) ValidateRelation(relation *model.Relation, sourceType, targetType string) error {
	m.mu.RLock()
	rt, ok := m.relationTypes[relation.RelationType]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	var violations []string
	if sourceType != "" && !typeAllowed(rt.SourceEntityTypes, sourceType) {
		violations = append(violations, fmt.Sprintf("source entity type %q is not allowed", sourceType))
	}
	if targetType != "" && !typeAllowed(rt.TargetEntityTypes, targetType) {
		violations = append(violations, fmt.Sprintf("target entity type %q is not allowed", targetType))
	}

	names := make([]string, 0, len(rt.Properties))
	for name := range rt.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ps := rt.Properties[name]
		v, present := relation.Properties.Get(name)
		if !present || v.IsNull() {
			if ps.Default != nil {
				relation.Properties.Set(name, ps.Default.Clone())
				continue
			}
			if ps.Required {
				violations = append(violations, fmt.Sprintf("property %q is required", name))
			}
			continue
		}
		violations = append(violations, checkProperty(name, ps, v)...)
	}

	if len(violations) > 0 {
		return &kgerr.SchemaValidationError{TypeName: relation.RelationType, Violations: violations}
	}
	return nil
}

func typeAllowed(allowed []string, entityType string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == entityType {
			return true
		}
	}
	return false
}

func checkProperty(name string, ps model.PropertySchema, v model.Value) []string {
	var violations []string
	if !ps.Accepts(v) {
		violations = append(violations, fmt.Sprintf("property %q must be of type %s, got %s", name, ps.Type, v.Kind()))
		return violations
	}
	if ps.Min == nil && ps.Max == nil {
		return violations
	}
	f, ok := v.AsFloat()
	if !ok {
		return violations
	}
	if ps.Min != nil && f < *ps.Min {
		violations = append(violations, fmt.Sprintf("property %q must be >= %v", name, *ps.Min))
	}
	if ps.Max != nil && f > *ps.Max {
		violations = append(violations, fmt.Sprintf("property %q must be <= %v", name, *ps.Max))
	}
	return violations
}
