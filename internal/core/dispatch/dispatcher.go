// Package dispatch turns a declarative collection definition into a
// working, guarded CRUD endpoint. A request moves through a fixed state
// machine: resolve path, resolve collection, enforce id policy, run the
// hook chain around the storage operation, respond.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/core/event"
	"github.com/quarrydb/quarry/internal/core/hook"
	"github.com/quarrydb/quarry/internal/core/migrate"
	"github.com/quarrydb/quarry/internal/core/registry"
	"github.com/quarrydb/quarry/internal/core/request"
	"github.com/quarrydb/quarry/internal/core/schema"
	"github.com/quarrydb/quarry/internal/store"
)

// DevPrefix is the reserved first path segment routed to internal system
// endpoints instead of generic collection dispatch.
const DevPrefix = "_dev"

const dataRequiredMessage = "`data` is required"

// Config wires the dispatcher's collaborators. All registries are
// explicitly injected; there are no ambient singletons.
type Config struct {
	Registry *registry.Registry
	Hooks    *hook.Registry
	Engine   *schema.Engine
	Store    store.Adapter
	Bus      *event.Bus
	Logger   *zap.Logger

	// Tokens and Passwords back the _dev/token issuance endpoint. When
	// either is nil the endpoint answers 404.
	Tokens    TokenIssuer
	Passwords hook.PasswordHasher

	// CredentialsCollection is the reserved credential store consulted
	// by the dev-setup and token endpoints. Defaults to "credentials".
	CredentialsCollection string
}

// Dispatcher orchestrates Schema Engine, Hook Pipeline, and storage for
// every request.
type Dispatcher struct {
	registry    *registry.Registry
	hooks       *hook.Registry
	engine      *schema.Engine
	store       store.Adapter
	bus         *event.Bus
	logger      *zap.Logger
	tokens      TokenIssuer
	passwords   hook.PasswordHasher
	credentials string

	// System hooks instantiated once: log-data wraps every request,
	// require-auth guards the reserved collections.
	logData     hook.Handler
	requireAuth hook.Handler
}

// New creates a dispatcher. The log-data and require-auth hooks must
// already be registered; they are the process-wide system hooks injected
// around user-configured bindings.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil || cfg.Hooks == nil || cfg.Store == nil {
		return nil, fmt.Errorf("registry, hooks, and store are required")
	}
	if cfg.Engine == nil {
		cfg.Engine = schema.NewEngine()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CredentialsCollection == "" {
		cfg.CredentialsCollection = "credentials"
	}

	logData, err := instantiate(cfg.Hooks, hook.LogData, nil)
	if err != nil {
		return nil, err
	}
	requireAuth, err := instantiate(cfg.Hooks, hook.RequireAuth, nil)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		registry:    cfg.Registry,
		hooks:       cfg.Hooks,
		engine:      cfg.Engine,
		store:       cfg.Store,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		tokens:      cfg.Tokens,
		passwords:   cfg.Passwords,
		credentials: cfg.CredentialsCollection,
		logData:     logData,
		requireAuth: requireAuth,
	}, nil
}

func instantiate(reg *hook.Registry, id string, opts hook.Options) (hook.Handler, error) {
	h, ok := reg.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("system hook %s is not registered", id)
	}
	handler, err := h.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate system hook %s: %w", id, err)
	}
	return handler, nil
}

// Dispatch runs the request to a terminal state. The context is always
// finalized when Dispatch returns.
func (d *Dispatcher) Dispatch(rc *request.Context) {
	// ResolvePath
	segments := splitPath(rc.Path)
	if len(segments) == 0 {
		rc.Fail(http.StatusNotFound, "not found", nil)
		return
	}
	if segments[0] == DevPrefix {
		d.dispatchDev(rc, segments[1:])
		return
	}
	if len(segments) > 2 {
		rc.Fail(http.StatusNotFound, "not found", nil)
		return
	}
	collectionName := segments[0]
	if len(segments) == 2 {
		rc.Params["id"] = segments[1]
	}

	// ResolveCollection
	def, ok := d.registry.Get(collectionName)
	if !ok || !def.Exposed || def.Template {
		rc.Fail(http.StatusNotFound, fmt.Sprintf("collection %q not found", collectionName), nil)
		return
	}

	// EnforceIdPolicy
	id := rc.Params["id"]
	switch rc.Method {
	case request.MethodCreate:
		if id != "" {
			rc.Fail(http.StatusMethodNotAllowed, "create does not accept an id", nil)
			return
		}
	case request.MethodPatch, request.MethodRemove:
		if id == "" {
			rc.Fail(http.StatusMethodNotAllowed, fmt.Sprintf("%s requires an id", rc.Method), nil)
			return
		}
	}

	// Build and run the hook chain around the storage operation.
	handlers, err := d.buildChain(def)
	if err != nil {
		d.logger.Error("failed to build hook chain",
			zap.String("collection", def.Name),
			zap.Error(err),
		)
		rc.Fail(http.StatusInternalServerError, "internal error", nil)
		return
	}

	run := hook.Chain(handlers, func(rc *request.Context) error {
		return d.execute(rc, def)
	})
	if err := run(rc); err != nil {
		d.logger.Error("dispatch failed",
			zap.String("collection", def.Name),
			zap.String("method", rc.Method.String()),
			zap.Error(err),
		)
	}
	if !rc.Finalized() {
		rc.Fail(http.StatusInternalServerError, "internal error", nil)
	}
}

// buildChain assembles the ordered handler list for a collection. The
// system log-data hook is outermost so it observes the final state of
// every request; require-auth guards the reserved collections ahead of
// any user hook or data access. User bindings follow in declared order,
// before-phase ahead of after-phase.
func (d *Dispatcher) buildChain(def *schema.CollectionDefinition) ([]hook.Handler, error) {
	handlers := []hook.Handler{d.logData}

	if def.Name == registry.Name || def.Name == d.credentials {
		handlers = append(handlers, d.requireAuth)
	}

	for _, phase := range []schema.Phase{schema.PhaseBefore, schema.PhaseAfter} {
		for _, binding := range def.Hooks {
			if binding.Phase != phase {
				continue
			}
			handler, err := d.instantiateBinding(def, binding)
			if err != nil {
				return nil, err
			}
			handlers = append(handlers, handler)
		}
	}

	return handlers, nil
}

// instantiateBinding resolves a persisted binding into a handler. The
// method filter is applied by wrapping so option errors still surface
// for every method.
func (d *Dispatcher) instantiateBinding(def *schema.CollectionDefinition, binding schema.HookBinding) (hook.Handler, error) {
	h, ok := d.hooks.Resolve(binding.Hook)
	if !ok {
		return nil, fmt.Errorf("collection %s binds unknown hook %q", def.Name, binding.Hook)
	}
	handler, err := h.New(hook.Options(binding.Options))
	if err != nil {
		return nil, fmt.Errorf("collection %s hook %s: %w", def.Name, binding.Hook, err)
	}

	if len(binding.Methods) == 0 {
		return handler, nil
	}
	methods := make(map[request.Method]bool, len(binding.Methods))
	for _, m := range binding.Methods {
		parsed, err := request.ParseMethod(m)
		if err != nil {
			return nil, fmt.Errorf("collection %s hook %s: %w", def.Name, binding.Hook, err)
		}
		methods[parsed] = true
	}
	return func(rc *request.Context, next hook.Next) error {
		if !methods[rc.Method] {
			return next()
		}
		return handler(rc, next)
	}, nil
}

// execute performs the storage operation at the center of the chain.
// Requests against the reserved meta-collection route to the registry so
// schema edits run their migrations.
func (d *Dispatcher) execute(rc *request.Context, def *schema.CollectionDefinition) error {
	if def.Name == registry.Name {
		return d.executeRegistry(rc)
	}

	id := rc.Params["id"]
	ctx := rc.Context()

	switch rc.Method {
	case request.MethodCreate:
		if rc.Data == nil {
			rc.Fail(http.StatusBadRequest, dataRequiredMessage, dataRequiredMessage)
			return nil
		}
		normalized, err := d.engine.Validate(def, rc.Data, schema.ModeCreate)
		if err != nil {
			failValidation(rc, err)
			return nil
		}
		if conflict, err := d.uniqueConflict(rc, def, normalized, ""); err != nil {
			return err
		} else if conflict {
			rc.Fail(http.StatusConflict, "record violates a unique constraint", nil)
			return nil
		}
		record, err := d.store.Insert(ctx, def.Name, normalized)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				rc.Fail(http.StatusConflict, "record violates a unique constraint", nil)
				return nil
			}
			return fmt.Errorf("insert failed: %w", err)
		}
		d.publish(def.Name, event.TypeCreate, record)
		rc.Finalize(http.StatusCreated, record)
		return nil

	case request.MethodGet:
		if id == "" {
			result, err := d.store.Find(ctx, def.Name, store.Query{
				Limit:  intParam(rc, "limit"),
				Offset: intParam(rc, "offset"),
			})
			if err != nil {
				return fmt.Errorf("find failed: %w", err)
			}
			rc.Finalize(http.StatusOK, result)
			return nil
		}
		record, err := d.store.FindOne(ctx, def.Name, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				rc.Fail(http.StatusNotFound, "record not found", nil)
				return nil
			}
			return fmt.Errorf("find failed: %w", err)
		}
		rc.Finalize(http.StatusOK, record)
		return nil

	case request.MethodPatch:
		if rc.Data == nil {
			rc.Fail(http.StatusBadRequest, dataRequiredMessage, dataRequiredMessage)
			return nil
		}
		normalized, err := d.engine.Validate(def, rc.Data, schema.ModePatch)
		if err != nil {
			failValidation(rc, err)
			return nil
		}
		if conflict, err := d.uniqueConflict(rc, def, normalized, id); err != nil {
			return err
		} else if conflict {
			rc.Fail(http.StatusConflict, "record violates a unique constraint", nil)
			return nil
		}
		record, err := d.store.Update(ctx, def.Name, id, normalized)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				rc.Fail(http.StatusNotFound, "record not found", nil)
				return nil
			}
			return fmt.Errorf("update failed: %w", err)
		}
		d.publish(def.Name, event.TypeUpdate, record)
		rc.Finalize(http.StatusOK, record)
		return nil

	case request.MethodRemove:
		record, err := d.store.Remove(ctx, def.Name, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				rc.Fail(http.StatusNotFound, "record not found", nil)
				return nil
			}
			return fmt.Errorf("remove failed: %w", err)
		}
		d.publish(def.Name, event.TypeRemove, record)
		rc.Finalize(http.StatusOK, record)
		return nil

	default:
		rc.Fail(http.StatusMethodNotAllowed, "method not allowed", nil)
		return nil
	}
}

// uniqueConflict checks the collection's unique indexes against existing
// records. Records matching excludeID (the patch target) do not count.
func (d *Dispatcher) uniqueConflict(rc *request.Context, def *schema.CollectionDefinition, data map[string]any, excludeID string) (bool, error) {
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		filter := make(map[string]any, len(idx.Fields))
		complete := true
		for _, field := range idx.Fields {
			value, ok := data[field]
			if !ok {
				complete = false
				break
			}
			filter[field] = value
		}
		if !complete {
			continue
		}

		result, err := d.store.Find(rc.Context(), def.Name, store.Query{Filter: filter})
		if err != nil {
			return false, fmt.Errorf("unique check failed: %w", err)
		}
		for _, existing := range result.Data {
			existingID, _ := existing[store.FieldID].(string)
			if existingID != excludeID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (d *Dispatcher) publish(collection, eventType string, record store.Record) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(event.Event{Collection: collection, Type: eventType, Record: record})
}

func failValidation(rc *request.Context, err error) {
	var ve *schema.ValidationErrors
	if errors.As(err, &ve) {
		rc.Fail(http.StatusBadRequest, ve.Error(), ve.Fields)
		return
	}
	rc.Fail(http.StatusBadRequest, err.Error(), nil)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func intParam(rc *request.Context, name string) int {
	raw, ok := rc.Params[name]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// decodeSteps extracts the optional migrations list from a
// meta-collection patch payload.
func decodeSteps(raw any) ([]migrate.Step, error) {
	if raw == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid migrations: %w", err)
	}
	var steps []migrate.Step
	if err := json.Unmarshal(encoded, &steps); err != nil {
		return nil, fmt.Errorf("invalid migrations: %w", err)
	}
	return steps, nil
}
