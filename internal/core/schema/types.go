// Package schema defines collection definitions and the validation engine
// that normalizes data objects against a field-type schema.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// FieldType represents the built-in field types a collection schema may use
type FieldType int

const (
	// TypeString is free-form text
	TypeString FieldType = iota
	// TypeNumber is a numeric value, stored as float64
	TypeNumber
	// TypeBool is a boolean flag
	TypeBool
	// TypeID is an opaque reference identifier, optionally bound to a
	// relation target collection
	TypeID
	// TypeDate is an RFC 3339 timestamp
	TypeDate
	// TypeObject is a nested JSON object
	TypeObject
	// TypeArray is a JSON array
	TypeArray
)

// String returns the string representation of the field type
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeID:
		return "id"
	case TypeDate:
		return "date"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// ParseFieldType converts a string to a FieldType
func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "number":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBool, nil
	case "id":
		return TypeID, nil
	case "date":
		return TypeDate, nil
	case "object":
		return TypeObject, nil
	case "array":
		return TypeArray, nil
	default:
		return 0, fmt.Errorf("unknown field type: %s", s)
	}
}

// MarshalJSON encodes the field type as its string name
func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the field type from its string name
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FieldSpec describes a single field in a collection schema
type FieldSpec struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Default  any       `json:"default,omitempty"`

	// Relation names the collection this field references. Only valid
	// when Type is TypeID.
	Relation string `json:"relation,omitempty"`
}

// Clone returns a copy of the field spec
func (f *FieldSpec) Clone() *FieldSpec {
	clone := *f
	return &clone
}

// IndexSpec describes an index over one or more fields
type IndexSpec struct {
	Fields []string `json:"fields"`
	Unique bool     `json:"unique,omitempty"`
}

// Phase identifies where in the pipeline a hook binding runs
type Phase string

const (
	// PhaseBefore runs the hook ahead of the data operation
	PhaseBefore Phase = "before"
	// PhaseAfter runs the hook around the data operation, acting on the
	// way out of the chain
	PhaseAfter Phase = "after"
)

// HookBinding attaches a registered hook to a collection. Bindings are
// persisted with the owning definition; an empty Methods list binds the
// hook to every method.
type HookBinding struct {
	Hook    string         `json:"hook"`
	Phase   Phase          `json:"phase"`
	Methods []string       `json:"methods,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// CollectionDefinition is the declarative description of a collection:
// its unique name, field schema, indexes, routing flags, and hook bindings.
type CollectionDefinition struct {
	Name    string                `json:"name"`
	Schema  map[string]*FieldSpec `json:"schema"`
	Indexes []IndexSpec           `json:"indexes,omitempty"`

	// Exposed controls whether the collection is publicly routable.
	Exposed bool `json:"exposed"`

	// Template collections are not directly instantiable.
	Template bool `json:"template,omitempty"`

	Hooks []HookBinding `json:"hooks,omitempty"`
}

// namePattern restricts collection and field names to URL- and
// column-safe identifiers.
var namePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// Validate performs structural validation of the definition: identifier
// shape, relation placement, default value types, and index field
// references. Relation targets are checked against the registry at
// registration time, not here.
func (d *CollectionDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("invalid collection name: %s", d.Name)
	}

	for name, field := range d.Schema {
		if !namePattern.MatchString(name) {
			return fmt.Errorf("invalid field name: %s", name)
		}
		if field == nil {
			return fmt.Errorf("field %s has no spec", name)
		}
		if field.Relation != "" && field.Type != TypeID {
			return fmt.Errorf("field %s: relation is only valid on id fields", name)
		}
		if field.Default != nil {
			if _, err := coerceValue(field.Type, field.Default); err != nil {
				return fmt.Errorf("field %s: default value: %w", name, err)
			}
		}
	}

	for _, idx := range d.Indexes {
		if len(idx.Fields) == 0 {
			return fmt.Errorf("index must name at least one field")
		}
		for _, f := range idx.Fields {
			if _, ok := d.Schema[f]; !ok {
				return fmt.Errorf("index references unknown field: %s", f)
			}
		}
	}

	return nil
}

// Clone returns a deep copy of the definition, safe to hand to callers
// without exposing registry-internal state.
func (d *CollectionDefinition) Clone() *CollectionDefinition {
	clone := *d

	clone.Schema = make(map[string]*FieldSpec, len(d.Schema))
	for name, field := range d.Schema {
		clone.Schema[name] = field.Clone()
	}

	clone.Indexes = make([]IndexSpec, len(d.Indexes))
	for i, idx := range d.Indexes {
		fields := make([]string, len(idx.Fields))
		copy(fields, idx.Fields)
		clone.Indexes[i] = IndexSpec{Fields: fields, Unique: idx.Unique}
	}

	clone.Hooks = make([]HookBinding, len(d.Hooks))
	copy(clone.Hooks, d.Hooks)

	return &clone
}

// RelationsTo returns the names of fields whose relation references the
// given collection.
func (d *CollectionDefinition) RelationsTo(collection string) []string {
	var fields []string
	for name, field := range d.Schema {
		if field.Relation == collection {
			fields = append(fields, name)
		}
	}
	return fields
}
