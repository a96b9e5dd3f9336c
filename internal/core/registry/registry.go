// Package registry manages every collection definition in the system.
// Definitions are persisted in the reserved "collections" collection
// through the store adapter, making the registry self-hosting: collection
// metadata is governed by the same dispatch pipeline as any other data.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/core/migrate"
	"github.com/quarrydb/quarry/internal/core/schema"
	"github.com/quarrydb/quarry/internal/store"
)

// Name is the reserved, non-deletable meta-collection holding every
// collection definition.
const Name = "collections"

var (
	// ErrNotFound indicates no definition exists under the given name
	ErrNotFound = errors.New("collection not found")
	// ErrConflict indicates the name collides with an existing definition
	ErrConflict = errors.New("collection already exists")
	// ErrReserved indicates an attempt to modify or delete the reserved
	// meta-collection
	ErrReserved = errors.New("collection is reserved")
)

// Registry is the source of truth consulted on every dispatch. Reads hit
// an in-memory cache; writes go through the store adapter and are
// serialized by a coarse lock, which also covers migration application
// so a concurrent request never resolves a half-migrated definition.
type Registry struct {
	mu      sync.RWMutex
	store   store.Adapter
	logger  *zap.Logger
	applier *migrate.Applier

	defs map[string]*schema.CollectionDefinition
	ids  map[string]string // definition name -> backing record id
}

// New creates a registry over the given adapter and loads all persisted
// definitions. The reserved meta-definition is seeded in-process before
// anything else resolves, breaking the self-hosting bootstrap cycle.
func New(ctx context.Context, adapter store.Adapter, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		store:  adapter,
		logger: logger,
		defs:   make(map[string]*schema.CollectionDefinition),
		ids:    make(map[string]string),
	}
	r.applier = migrate.NewApplier(lockedDefs{r}, logger)

	r.defs[Name] = metaDefinition()

	result, err := adapter.Find(ctx, Name, store.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to load collection definitions: %w", err)
	}
	for _, record := range result.Data {
		def, err := decodeDefinition(record)
		if err != nil {
			return nil, fmt.Errorf("failed to decode collection definition: %w", err)
		}
		id, _ := record[store.FieldID].(string)
		r.defs[def.Name] = def
		r.ids[def.Name] = id
	}

	logger.Info("collection registry loaded", zap.Int("collections", len(r.defs)-1))
	return r, nil
}

// metaDefinition describes the reserved collections collection itself.
// It is exposed so operators can manage definitions over the same CRUD
// surface, guarded by the dispatcher's fixed auth hook.
func metaDefinition() *schema.CollectionDefinition {
	return &schema.CollectionDefinition{
		Name: Name,
		Schema: map[string]*schema.FieldSpec{
			"name":     {Type: schema.TypeString, Required: true},
			"schema":   {Type: schema.TypeObject, Required: true},
			"indexes":  {Type: schema.TypeArray},
			"exposed":  {Type: schema.TypeBool, Default: false},
			"template": {Type: schema.TypeBool, Default: false},
			"hooks":    {Type: schema.TypeArray},
		},
		Indexes: []schema.IndexSpec{
			{Fields: []string{"name"}, Unique: true},
		},
		Exposed: true,
	}
}

// Applier returns the migration applier bound to this registry
func (r *Registry) Applier() *migrate.Applier {
	return r.applier
}

// Get retrieves a definition by name
func (r *Registry) Get(name string) (*schema.CollectionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// List returns all definitions sorted by name, the reserved
// meta-definition included.
func (r *Registry) List() []*schema.CollectionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*schema.CollectionDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Create validates and persists a new definition
func (r *Registry) Create(ctx context.Context, def *schema.CollectionDefinition) (*schema.CollectionDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrConflict, def.Name)
	}
	if err := r.checkRelations(def); err != nil {
		return nil, err
	}

	record, err := encodeDefinition(def)
	if err != nil {
		return nil, err
	}
	inserted, err := r.store.Insert(ctx, Name, record)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, def.Name)
		}
		return nil, fmt.Errorf("failed to persist collection %s: %w", def.Name, err)
	}

	id, _ := inserted[store.FieldID].(string)
	r.defs[def.Name] = def.Clone()
	r.ids[def.Name] = id

	r.logger.Info("collection created", zap.String("collection", def.Name))
	return def.Clone(), nil
}

// Update replaces an existing definition and applies the accompanying
// migration steps. Renames prepend an implicit rename-collection step so
// dependent relation fields are rewritten within the same logical
// operation. A migration failure leaves the edit partially applied;
// steps are idempotent so the caller can retry safely.
func (r *Registry) Update(ctx context.Context, name string, updated *schema.CollectionDefinition, steps []migrate.Step) (*schema.CollectionDefinition, error) {
	if name == Name {
		return nil, ErrReserved
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[name]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if updated.Name != name {
		if _, exists := r.defs[updated.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrConflict, updated.Name)
		}
	}
	if err := r.checkRelations(updated); err != nil {
		return nil, err
	}

	record, err := encodeDefinition(updated)
	if err != nil {
		return nil, err
	}
	id := r.ids[name]
	if _, err := r.store.Update(ctx, Name, id, record); err != nil {
		return nil, fmt.Errorf("failed to persist collection %s: %w", updated.Name, err)
	}

	if updated.Name != name {
		delete(r.defs, name)
		delete(r.ids, name)
		steps = append([]migrate.Step{
			{Type: migrate.StepRenameCollection, Collection: name, To: updated.Name},
		}, steps...)
	}
	r.defs[updated.Name] = updated.Clone()
	r.ids[updated.Name] = id

	if len(steps) > 0 {
		if err := r.applier.Apply(ctx, steps); err != nil {
			r.logger.Error("migration failed; edit is partially applied",
				zap.String("collection", updated.Name),
				zap.Error(err),
			)
			return nil, err
		}
	}

	r.logger.Info("collection updated",
		zap.String("collection", updated.Name),
		zap.Int("migration_steps", len(steps)),
	)
	return updated.Clone(), nil
}

// Remove deletes a definition. The reserved meta-collection cannot be
// removed. Relation fields in other definitions that reference the
// removed collection are left in place; relation data integrity on
// delete is out of scope.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if name == Name {
		return ErrReserved
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.ids[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, err := r.store.Remove(ctx, Name, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to remove collection %s: %w", name, err)
	}

	delete(r.defs, name)
	delete(r.ids, name)

	r.logger.Info("collection removed", zap.String("collection", name))
	return nil
}

// checkRelations verifies every relation field names a known definition.
// Self-references are allowed. Caller must hold the lock.
func (r *Registry) checkRelations(def *schema.CollectionDefinition) error {
	for fieldName, field := range def.Schema {
		if field.Relation == "" || field.Relation == def.Name {
			continue
		}
		if _, exists := r.defs[field.Relation]; !exists {
			return fmt.Errorf("field %s: relation references unknown collection %q", fieldName, field.Relation)
		}
	}
	return nil
}

// lockedDefs adapts the registry to the migration applier's persistence
// surface. The registry's write lock is already held when the applier
// runs, so these methods touch internal state directly.
type lockedDefs struct {
	r *Registry
}

// All returns clones of every non-reserved definition
func (d lockedDefs) All(_ context.Context) ([]*schema.CollectionDefinition, error) {
	defs := make([]*schema.CollectionDefinition, 0, len(d.r.defs))
	for name, def := range d.r.defs {
		if name == Name {
			continue
		}
		defs = append(defs, def.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Save persists a rewritten definition and refreshes the cache
func (d lockedDefs) Save(ctx context.Context, def *schema.CollectionDefinition) error {
	record, err := encodeDefinition(def)
	if err != nil {
		return err
	}
	id, ok := d.r.ids[def.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, def.Name)
	}
	if _, err := d.r.store.Update(ctx, Name, id, record); err != nil {
		return err
	}
	d.r.defs[def.Name] = def.Clone()
	return nil
}

// encodeDefinition converts a definition to its stored record shape
func encodeDefinition(def *schema.CollectionDefinition) (store.Record, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}
	var record store.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}
	return record, nil
}

// decodeDefinition converts a stored record back into a definition
func decodeDefinition(record store.Record) (*schema.CollectionDefinition, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	var def schema.CollectionDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	if def.Schema == nil {
		def.Schema = make(map[string]*schema.FieldSpec)
	}
	return &def, nil
}

// DecodeDefinition decodes a request payload into a definition. Used by
// the dispatcher when routing CRUD on the meta-collection.
func DecodeDefinition(data map[string]any) (*schema.CollectionDefinition, error) {
	return decodeDefinition(data)
}
