package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pantrychef/authcore/middleware"
)

// Deps collects what NewRouter wires together. Engine is required.
type Deps struct {
	Engine Engine
	// Limiter guards sign-in, refresh and logout. Nil disables rate limiting.
	Limiter Limiter
	Logger  *zap.Logger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	Now        func() time.Time
}

// NewRouter returns the authcore HTTP API.
//
// Middleware order:
//
//	RequestID -> [RealIP] -> request log -> Recoverer -> client context
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	h := &handler{engine: deps.Engine, now: now}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(clientContext)

	r.Get("/healthz", h.health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.Limiter != nil {
				r.Use(deps.Limiter.Middleware)
			}
			r.Post("/sign-in", h.signIn)
			r.Post("/refresh", h.refresh)
			r.Post("/logout", h.logout)
		})

		r.Get("/check", h.check)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(deps.Engine))
			r.Get("/sessions", h.listSessions)
			r.Delete("/sessions/{chainID}", h.revokeSession)
		})
	})

	return r
}
