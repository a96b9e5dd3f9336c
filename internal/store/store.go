// Package store defines the pluggable document-store adapter the
// dispatch core reads and writes through. Identifiers are opaque
// strings; the core is agnostic to the backing engine.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// System fields stamped onto every record by the adapter.
const (
	FieldID        = "_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

var (
	// ErrNotFound indicates the record or collection does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a unique constraint violation
	ErrConflict = errors.New("record conflicts with an existing record")
)

// Record is a schemaless document as stored by the adapter
type Record = map[string]any

// Query selects records from a collection. A nil Filter matches all
// records; Limit <= 0 means no limit.
type Query struct {
	Filter map[string]any
	Limit  int
	Offset int
}

// Result is the shape returned by list operations
type Result struct {
	Data  []Record `json:"data"`
	Total int      `json:"total"`
}

// Adapter is the contract every backing document store implements.
type Adapter interface {
	// Find returns records matching the query plus the total match
	// count before pagination.
	Find(ctx context.Context, collection string, q Query) (*Result, error)

	// FindOne fetches a single record by id. Returns ErrNotFound when
	// the record does not exist.
	FindOne(ctx context.Context, collection, id string) (Record, error)

	// Insert stores a new record, stamping system fields, and returns
	// the stored record.
	Insert(ctx context.Context, collection string, data Record) (Record, error)

	// Update merges the patch into an existing record and returns the
	// updated record. Returns ErrNotFound when the record does not exist.
	Update(ctx context.Context, collection, id string, patch Record) (Record, error)

	// Remove deletes a record and returns it. Returns ErrNotFound when
	// the record does not exist.
	Remove(ctx context.Context, collection, id string) (Record, error)
}

// NewID generates an opaque record identifier
func NewID() string {
	return uuid.NewString()
}

// Now returns the canonical timestamp representation for system fields
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Matches reports whether a record satisfies an equality filter. Numeric
// values compare across int/float representations since records may come
// from JSON or from Go callers.
func Matches(record Record, filter map[string]any) bool {
	for field, want := range filter {
		got, ok := record[field]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
