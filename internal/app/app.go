// Package app assembles the process: store adapter, registries, hook
// catalog, dispatcher, and HTTP surface, all explicitly constructed and
// injected rather than living in ambient singletons.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/auth"
	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/core/dispatch"
	"github.com/quarrydb/quarry/internal/core/event"
	"github.com/quarrydb/quarry/internal/core/hook"
	"github.com/quarrydb/quarry/internal/core/registry"
	"github.com/quarrydb/quarry/internal/core/schema"
	"github.com/quarrydb/quarry/internal/store"
	"github.com/quarrydb/quarry/internal/store/memory"
	"github.com/quarrydb/quarry/internal/store/postgres"
	"github.com/quarrydb/quarry/internal/store/sqlite"
	"github.com/quarrydb/quarry/internal/web"
	"github.com/quarrydb/quarry/internal/web/realtime"
)

// CredentialsCollection is the reserved, unexposed collection holding
// derived credential records.
const CredentialsCollection = "credentials"

// Options carries optional process-level extensions
type Options struct {
	// Transforms are the operator-registered custom-code transforms
	Transforms map[string]hook.Transform
}

// App owns the assembled components for one Quarry process
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      store.Adapter
	Registry   *registry.Registry
	Hooks      *hook.Registry
	Dispatcher *dispatch.Dispatcher
	Bus        *event.Bus
	Tokens     *auth.TokenService
	Hub        *realtime.Hub

	redis   *redis.Client
	closers []func() error
}

// New builds the application from configuration. The reserved
// collections are seeded before the dispatcher accepts any request.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}

	if err := a.openStore(cfg.Store); err != nil {
		return nil, err
	}

	reg, err := registry.New(ctx, a.Store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = reg

	if err := a.seedCredentials(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Tokens = auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	a.Bus = event.NewBus()

	a.Hooks = hook.NewRegistry()
	if err := hook.RegisterBuiltins(a.Hooks, hook.BuiltinConfig{
		Logger:                logger,
		Store:                 a.Store,
		Tokens:                a.Tokens,
		Passwords:             auth.Hasher{},
		CredentialsCollection: CredentialsCollection,
		Transforms:            opts.Transforms,
	}); err != nil {
		a.Close()
		return nil, err
	}

	a.Dispatcher, err = dispatch.New(dispatch.Config{
		Registry:              a.Registry,
		Hooks:                 a.Hooks,
		Engine:                schema.NewEngine(),
		Store:                 a.Store,
		Bus:                   a.Bus,
		Logger:                logger,
		Tokens:                a.Tokens,
		Passwords:             auth.Hasher{},
		CredentialsCollection: CredentialsCollection,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Hub = realtime.NewHub(a.Bus, logger)

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
	}

	return a, nil
}

// Handler returns the assembled HTTP handler
func (a *App) Handler() http.Handler {
	return web.NewRouter(web.RouterConfig{
		Dispatcher: a.Dispatcher,
		Realtime:   a.Hub,
		Logger:     a.Logger,
		Redis:      a.redis,
	})
}

// Close releases owned resources in reverse order
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) openStore(cfg config.StoreConfig) error {
	switch cfg.Driver {
	case "memory":
		a.Store = memory.New()
	case "sqlite":
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.Store = s
		a.closers = append(a.closers, s.Close)
	case "postgres":
		s, err := postgres.Open(cfg.DSN)
		if err != nil {
			return fmt.Errorf("failed to open postgres store: %w", err)
		}
		a.Store = s
		a.closers = append(a.closers, s.Close)
	default:
		return fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
	return nil
}

// seedCredentials ensures the reserved credential collection exists.
// It is never exposed; the dispatcher additionally guards it with the
// fixed auth hook.
func (a *App) seedCredentials(ctx context.Context) error {
	if _, ok := a.Registry.Get(CredentialsCollection); ok {
		return nil
	}
	_, err := a.Registry.Create(ctx, &schema.CollectionDefinition{
		Name: CredentialsCollection,
		Schema: map[string]*schema.FieldSpec{
			"user":          {Type: schema.TypeID, Required: true},
			"password_hash": {Type: schema.TypeString, Required: true},
			"dev":           {Type: schema.TypeBool, Default: false},
		},
		Indexes: []schema.IndexSpec{
			{Fields: []string{"user"}, Unique: true},
		},
		Exposed: false,
	})
	if err != nil {
		return fmt.Errorf("failed to seed credentials collection: %w", err)
	}
	return nil
}
