package model

// PropertyKind names the expected kind for a schema-checked property.
type PropertyKind string

const (
	PropertyString PropertyKind = "string"
	PropertyInt    PropertyKind = "int"
	PropertyFloat  PropertyKind = "float"
	PropertyBool   PropertyKind = "bool"
	PropertyList   PropertyKind = "list"
)

// PropertySchema constrains one property of an entity or relation type.
// Min and Max apply to numeric kinds only.
type PropertySchema struct {
	Type     PropertyKind `json:"type"`
	Required bool         `json:"required"`
	Min      *float64     `json:"min,omitempty"`
	Max      *float64     `json:"max,omitempty"`
	Default  *Value       `json:"default,omitempty"`
}

// Accepts reports whether a value matches the declared kind. Null is
// accepted for optional properties; int values satisfy float schemas.
func (ps PropertySchema) Accepts(v Value) bool {
	switch ps.Type {
	case PropertyString:
		return v.Kind() == KindString
	case PropertyInt:
		return v.Kind() == KindInt
	case PropertyFloat:
		return v.Kind() == KindFloat || v.Kind() == KindInt
	case PropertyBool:
		return v.Kind() == KindBool
	case PropertyList:
		return v.Kind() == KindList
	default:
		return false
	}
}

// EntityType declares a named entity type and its property schemas.
type EntityType struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Properties  map[string]PropertySchema `json:"properties,omitempty"`
}

// RelationType declares a named relation type, its property schemas, and the
// entity types allowed at each endpoint. Empty endpoint lists allow any type.
type RelationType struct {
	Name              string                    `json:"name"`
	Description       string                    `json:"description,omitempty"`
	Properties        map[string]PropertySchema `json:"properties,omitempty"`
	SourceEntityTypes []string                  `json:"sourceEntityTypes,omitempty"`
	TargetEntityTypes []string                  `json:"targetEntityTypes,omitempty"`
}
