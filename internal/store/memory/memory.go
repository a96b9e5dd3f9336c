// Package memory provides an in-process store adapter used for
// bootstrap, tests, and single-node deployments without persistence.
package memory

import (
	"context"
	"sync"

	"github.com/quarrydb/quarry/internal/store"
)

// Store is a mutex-guarded map-backed document store. Records are
// returned in insertion order.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	calls       int
}

type collection struct {
	order   []string
	records map[string]store.Record
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
	}
}

// Calls returns the total number of adapter operations performed. Tests
// use this to observe that short-circuiting hooks never reach storage.
func (s *Store) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Find returns records matching the query plus the total match count
func (s *Store) Find(ctx context.Context, name string, q store.Query) (*store.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	result := &store.Result{Data: []store.Record{}}
	col, ok := s.collections[name]
	if !ok {
		return result, nil
	}

	var matched []store.Record
	for _, id := range col.order {
		record := col.records[id]
		if q.Filter == nil || store.Matches(record, q.Filter) {
			matched = append(matched, cloneRecord(record))
		}
	}

	result.Total = len(matched)

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	if matched != nil {
		result.Data = matched
	}

	return result, nil
}

// FindOne fetches a single record by id
func (s *Store) FindOne(ctx context.Context, name, id string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	col, ok := s.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	record, ok := col.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(record), nil
}

// Insert stores a new record, stamping system fields
func (s *Store) Insert(ctx context.Context, name string, data store.Record) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	col, ok := s.collections[name]
	if !ok {
		col = &collection{records: make(map[string]store.Record)}
		s.collections[name] = col
	}

	record := cloneRecord(data)
	id, _ := record[store.FieldID].(string)
	if id == "" {
		id = store.NewID()
		record[store.FieldID] = id
	}
	if _, exists := col.records[id]; exists {
		return nil, store.ErrConflict
	}

	now := store.Now()
	record[store.FieldCreatedAt] = now
	record[store.FieldUpdatedAt] = now

	col.records[id] = record
	col.order = append(col.order, id)

	return cloneRecord(record), nil
}

// Update merges the patch into an existing record
func (s *Store) Update(ctx context.Context, name, id string, patch store.Record) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	col, ok := s.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	record, ok := col.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	for k, v := range patch {
		if k == store.FieldID || k == store.FieldCreatedAt || k == store.FieldUpdatedAt {
			continue
		}
		record[k] = v
	}
	record[store.FieldUpdatedAt] = store.Now()

	return cloneRecord(record), nil
}

// Remove deletes a record and returns it
func (s *Store) Remove(ctx context.Context, name, id string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	col, ok := s.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	record, ok := col.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	delete(col.records, id)
	for i, existing := range col.order {
		if existing == id {
			col.order = append(col.order[:i], col.order[i+1:]...)
			break
		}
	}

	return cloneRecord(record), nil
}

func cloneRecord(record store.Record) store.Record {
	clone := make(store.Record, len(record))
	for k, v := range record {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneRecord(val)
	case []any:
		cloned := make([]any, len(val))
		for i, item := range val {
			cloned[i] = cloneValue(item)
		}
		return cloned
	default:
		return v
	}
}
