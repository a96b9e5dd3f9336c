// Package web assembles the HTTP surface: middleware, the generic API
// handler, and the realtime endpoint.
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/core/dispatch"
	"github.com/quarrydb/quarry/internal/web/api"
	"github.com/quarrydb/quarry/internal/web/middleware"
	"github.com/quarrydb/quarry/internal/web/realtime"
)

// RouterConfig wires the HTTP router
type RouterConfig struct {
	Dispatcher *dispatch.Dispatcher
	Realtime   *realtime.Hub
	Logger     *zap.Logger

	// Redis enables rate limiting when set
	Redis *redis.Client
}

// NewRouter builds the chi router serving the API under /api/
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	if cfg.Redis != nil {
		limitCfg := middleware.DefaultRateLimitConfig(cfg.Redis)
		limitCfg.Logger = logger
		r.Use(middleware.RateLimit(limitCfg))
	}

	if cfg.Realtime != nil {
		r.Handle("/api/realtime", cfg.Realtime)
	}

	handler := api.NewHandler(cfg.Dispatcher, logger, "/api/")
	r.Handle("/api/*", handler)

	return r
}
