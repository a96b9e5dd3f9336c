package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode distinguishes create validation (required fields enforced) from
// patch validation (only supplied fields checked).
type Mode int

const (
	// ModeCreate enforces required fields and fills defaults
	ModeCreate Mode = iota
	// ModePatch validates supplied fields only
	ModePatch
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModePatch:
		return "patch"
	default:
		return "unknown"
	}
}

// UnknownFieldPolicy controls how the engine treats fields absent from
// the schema.
type UnknownFieldPolicy int

const (
	// UnknownStrip silently drops unknown fields from the output
	UnknownStrip UnknownFieldPolicy = iota
	// UnknownReject fails validation on any unknown field
	UnknownReject
)

// Engine validates and normalizes data objects against a collection's
// field schema. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	// Unknown is the policy applied to fields not declared in the schema.
	Unknown UnknownFieldPolicy
}

// NewEngine creates a validation engine with the default policy of
// stripping unknown fields.
func NewEngine() *Engine {
	return &Engine{Unknown: UnknownStrip}
}

// systemFields are populated by the store and always pass through
// validation untouched.
var systemFields = map[string]bool{
	"_id":        true,
	"created_at": true,
	"updated_at": true,
}

// Validate checks data against the definition's schema and returns the
// normalized record. All field failures are aggregated into a single
// *ValidationErrors; the function never panics.
func (e *Engine) Validate(def *CollectionDefinition, data map[string]any, mode Mode) (map[string]any, error) {
	errs := NewValidationErrors()
	normalized := make(map[string]any, len(data))

	for name, field := range def.Schema {
		value, present := data[name]

		if !present {
			if mode == ModePatch {
				continue
			}
			if field.Default != nil {
				coerced, err := coerceValue(field.Type, field.Default)
				if err != nil {
					errs.Add(name, err.Error())
					continue
				}
				normalized[name] = coerced
				continue
			}
			if field.Required {
				errs.Add(name, "is required")
			}
			continue
		}

		if value == nil {
			if field.Required {
				errs.Add(name, "is required")
				continue
			}
			normalized[name] = nil
			continue
		}

		coerced, err := coerceValue(field.Type, value)
		if err != nil {
			errs.Add(name, err.Error())
			continue
		}
		normalized[name] = coerced
	}

	for name := range data {
		if _, declared := def.Schema[name]; declared {
			continue
		}
		if systemFields[name] {
			normalized[name] = data[name]
			continue
		}
		if e.Unknown == UnknownReject {
			errs.Add(name, "is not a known field")
		}
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return normalized, nil
}

// coerceValue type-checks a value against the field type and converts it
// to the canonical in-memory representation.
func coerceValue(t FieldType, value any) (any, error) {
	switch t {
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("must be a string")

	case TypeNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("must be a number")
			}
			return f, nil
		default:
			return nil, fmt.Errorf("must be a number")
		}

	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("must be a boolean")

	case TypeID:
		// Relation references are validated as opaque identifiers only;
		// referential integrity across collections is the migration
		// applier's concern.
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be an id string")
		}
		if s == "" {
			return nil, fmt.Errorf("must not be empty")
		}
		return s, nil

	case TypeDate:
		switch v := value.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		case string:
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("must be an RFC 3339 timestamp")
			}
			return parsed.UTC().Format(time.RFC3339), nil
		default:
			return nil, fmt.Errorf("must be an RFC 3339 timestamp")
		}

	case TypeObject:
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("must be an object")

	case TypeArray:
		if a, ok := value.([]any); ok {
			return a, nil
		}
		return nil, fmt.Errorf("must be an array")

	default:
		return nil, fmt.Errorf("unsupported field type")
	}
}
