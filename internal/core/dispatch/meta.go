package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/quarrydb/quarry/internal/core/migrate"
	"github.com/quarrydb/quarry/internal/core/registry"
	"github.com/quarrydb/quarry/internal/core/request"
	"github.com/quarrydb/quarry/internal/core/schema"
	"github.com/quarrydb/quarry/internal/store"
)

// executeRegistry services CRUD on the reserved meta-collection through
// the registry so that definition edits enforce uniqueness and run their
// migration steps. The record id in the path is the collection name.
func (d *Dispatcher) executeRegistry(rc *request.Context) error {
	name := rc.Params["id"]
	ctx := rc.Context()

	switch rc.Method {
	case request.MethodCreate:
		if rc.Data == nil {
			rc.Fail(http.StatusBadRequest, dataRequiredMessage, dataRequiredMessage)
			return nil
		}
		def, err := registry.DecodeDefinition(rc.Data)
		if err != nil {
			rc.Fail(http.StatusBadRequest, err.Error(), nil)
			return nil
		}
		created, err := d.registry.Create(ctx, def)
		if err != nil {
			failRegistry(rc, err)
			return nil
		}
		rc.Finalize(http.StatusCreated, created)
		return nil

	case request.MethodGet:
		if name == "" {
			defs := d.registry.List()
			rc.Finalize(http.StatusOK, map[string]any{
				"data":  defs,
				"total": len(defs),
			})
			return nil
		}
		def, ok := d.registry.Get(name)
		if !ok {
			rc.Fail(http.StatusNotFound, fmt.Sprintf("collection %q not found", name), nil)
			return nil
		}
		rc.Finalize(http.StatusOK, def)
		return nil

	case request.MethodPatch:
		if rc.Data == nil {
			rc.Fail(http.StatusBadRequest, dataRequiredMessage, dataRequiredMessage)
			return nil
		}
		current, ok := d.registry.Get(name)
		if !ok {
			rc.Fail(http.StatusNotFound, fmt.Sprintf("collection %q not found", name), nil)
			return nil
		}

		steps, err := decodeSteps(rc.Data["migrations"])
		if err != nil {
			rc.Fail(http.StatusBadRequest, err.Error(), nil)
			return nil
		}

		merged, err := mergeDefinition(current, rc.Data)
		if err != nil {
			rc.Fail(http.StatusBadRequest, err.Error(), nil)
			return nil
		}
		updated, err := d.registry.Update(ctx, name, merged, steps)
		if err != nil {
			failRegistry(rc, err)
			return nil
		}
		rc.Finalize(http.StatusOK, updated)
		return nil

	case request.MethodRemove:
		def, ok := d.registry.Get(name)
		if !ok {
			rc.Fail(http.StatusNotFound, fmt.Sprintf("collection %q not found", name), nil)
			return nil
		}
		if err := d.registry.Remove(ctx, name); err != nil {
			failRegistry(rc, err)
			return nil
		}
		rc.Finalize(http.StatusOK, def)
		return nil

	default:
		rc.Fail(http.StatusMethodNotAllowed, "method not allowed", nil)
		return nil
	}
}

// mergeDefinition overlays the patch payload onto the current definition
// so partial edits keep unspecified settings.
func mergeDefinition(current *schema.CollectionDefinition, data map[string]any) (*schema.CollectionDefinition, error) {
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	for key, value := range data {
		if key == "migrations" {
			continue
		}
		base[key] = value
	}

	return registry.DecodeDefinition(base)
}

// failRegistry maps registry and migration errors onto terminal statuses.
// A migration failure is operationally fatal for the edit: the partial
// application already performed stands, and the operator retries.
func failRegistry(rc *request.Context, err error) {
	var stepErr *migrate.StepError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		rc.Fail(http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, registry.ErrConflict):
		rc.Fail(http.StatusConflict, err.Error(), nil)
	case errors.Is(err, registry.ErrReserved):
		rc.Fail(http.StatusMethodNotAllowed, err.Error(), nil)
	case errors.As(err, &stepErr):
		rc.Fail(http.StatusInternalServerError, err.Error(), map[string]any{
			"step":      stepErr.Index,
			"type":      stepErr.Step.Type,
			"retryable": true,
		})
	case errors.Is(err, store.ErrConflict):
		rc.Fail(http.StatusConflict, err.Error(), nil)
	default:
		// Structural validation and relation errors from the registry.
		rc.Fail(http.StatusBadRequest, err.Error(), nil)
	}
}
