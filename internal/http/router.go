// Package httpapi assembles the portal's chi router: shared middleware, the
// public sign-in surface, the guarded views and the operational endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"portal/internal/platform/metrics"
	session "portal/internal/session/middleware"
	"portal/pkg/platform/httputil"
	"portal/pkg/platform/middleware/metadata"
	"portal/pkg/platform/middleware/request"
	"portal/pkg/platform/middleware/requesttime"
	"portal/pkg/requestcontext"
)

const healthTimeout = 2 * time.Second

// Registrar mounts a handler's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Limiter throttles a route group.
type Limiter interface {
	Middleware(next http.Handler) http.Handler
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options is everything the router wires. Sessions, Cookies and Auth are
// required for the portal; AccountGate alone is enough for the hook binary.
type Options struct {
	Logger         *slog.Logger
	AllowedOrigins []string

	Cookies   session.CookieCodec
	Sessions  session.SessionLoader
	CookieTTL time.Duration

	Auth        Registrar
	Views       Registrar
	AccountGate Registrar
	Limiter     Limiter

	Registry     *prometheus.Registry
	HTTPMetrics  *metrics.HTTP
	HealthChecks map[string]HealthCheck
}

// NewRouter builds the HTTP surface described by opts.
func NewRouter(opts Options) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(logger))
	r.Use(request.Logger(logger))
	r.Use(opts.HTTPMetrics.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", request.HeaderRequestID},
			ExposedHeaders:   []string{request.HeaderRequestID, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", handleHealth(opts.HealthChecks, logger))
	if opts.Registry != nil {
		r.Handle("/metrics", metrics.Handler(opts.Registry))
	}

	if opts.AccountGate != nil {
		r.Group(func(r chi.Router) {
			if opts.Limiter != nil {
				r.Use(opts.Limiter.Middleware)
			}
			opts.AccountGate.Register(r)
		})
	}

	if opts.Auth == nil && opts.Views == nil {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(session.LoadSession(opts.Cookies, opts.Sessions, opts.CookieTTL, logger))

		if opts.Auth != nil {
			r.Group(func(r chi.Router) {
				if opts.Limiter != nil {
					r.Use(opts.Limiter.Middleware)
				}
				opts.Auth.Register(r)
			})
		}

		if opts.Views != nil {
			r.Group(func(r chi.Router) {
				r.Use(session.RequireSignedIn(logger))
				opts.Views.Register(r)
			})
		}
	})

	return r
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func handleHealth(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := HealthResponse{Status: "ok"}
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.WarnContext(ctx, "health check failed",
					"check", name,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
