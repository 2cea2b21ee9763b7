// Package http wires the token and health endpoints. The heavy lifting
// lives in the service package; handlers only parse, authenticate the
// client, and translate errors to OAuth responses.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/service"
	"github.com/aussiebroadwan/regrant/internal/oauth/store"
	"github.com/aussiebroadwan/regrant/pkg/httpx"
	"github.com/aussiebroadwan/regrant/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store     store.Store
	Processor *service.GrantProcessor

	// TokenRateLimit applies to the token endpoint; the zero value falls
	// back to the strict profile.
	TokenRateLimit httpx.RateLimitConfig
}

func NewRouter(buildVersion string, st store.Store, processor *service.GrantProcessor, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		Processor:    processor,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	// POST /token - strict rate limit by IP; token grants are the most
	// abuse-prone surface.
	limit := r.TokenRateLimit
	if limit.RequestsPerWindow == 0 {
		limit = httpx.StrictLimit
	}

	tokenHandler := &TokenHandler{Store: r.store, Processor: r.Processor}
	r.Mux.Handle("POST /v1/oauth2/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIP(limit),
		),
	)

	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.store))
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}
