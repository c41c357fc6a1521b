package router

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	httpmiddleware "github.com/wolfman30/oh-ehr-portal/internal/http/middleware"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/internal/observability/metrics"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// RouteMounter is implemented by every feature handler.
type RouteMounter interface {
	Routes(r chi.Router)
}

// AccountRoutes is implemented by the auth handler, which owns both public
// and session-bound endpoints.
type AccountRoutes interface {
	PublicRoutes(r chi.Router)
	SessionRoutes(r chi.Router)
}

// Config holds router configuration
type Config struct {
	Logger        *logging.Logger
	Authenticator httpmiddleware.Authenticator
	Auth          AccountRoutes

	Employees     RouteMounter
	Professionals RouteMounter
	Appointments  RouteMounter
	Notifications RouteMounter
	Documents     RouteMounter
	Messaging     RouteMounter
	HealthRecords RouteMounter
	Compliance    RouteMounter
	Video         RouteMounter
	Terminology   RouteMounter
	Forms         RouteMounter
	Dashboard     RouteMounter
	Audit         RouteMounter

	// AuthRateLimiter throttles /api/auth and /api/password per client IP.
	AuthRateLimiter *httpmiddleware.RateLimiter
	// HealthCheck is optional; a failure turns /health into a 503.
	HealthCheck        func(ctx context.Context) error
	Metrics            *metrics.PortalMetrics
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For. Empty means the socket
	// address is always the client IP.
	TrustedProxies []netip.Prefix
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(httpmiddleware.TrustedRealIP(cfg.TrustedProxies))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(cfg.Metrics.Middleware)

	// Public endpoints
	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/test/all", auth.RoleProbe("Public Content."))

		if cfg.Auth != nil {
			api.Group(func(public chi.Router) {
				if cfg.AuthRateLimiter != nil {
					public.Use(httpmiddleware.RateLimit(cfg.AuthRateLimiter))
				}
				cfg.Auth.PublicRoutes(public)
			})
		}

		// Everything below needs a bearer token.
		api.Group(func(protected chi.Router) {
			protected.Use(httpmiddleware.RequireAuth(cfg.Authenticator, logger))

			if cfg.Auth != nil {
				cfg.Auth.SessionRoutes(protected)
			}
			protected.Route("/test", func(t chi.Router) {
				t.With(httpmiddleware.RequireRoles(auth.RoleEmployee)).Get("/employee", auth.RoleProbe("Employee Content."))
				t.With(httpmiddleware.RequireRoles(auth.RoleOHProfessional)).Get("/professional", auth.RoleProbe("OH Professional Content."))
				t.With(httpmiddleware.RequireRoles(auth.RoleManager)).Get("/manager", auth.RoleProbe("Manager Content."))
				t.With(httpmiddleware.RequireRoles(auth.RoleAdmin)).Get("/admin", auth.RoleProbe("Admin Content."))
			})

			mount(protected, "/employees", cfg.Employees)
			mount(protected, "/professionals", cfg.Professionals)
			mount(protected, "/appointments", cfg.Appointments)
			mount(protected, "/notifications", cfg.Notifications)
			mount(protected, "/documents", cfg.Documents)
			mount(protected, "/messaging", cfg.Messaging)
			mount(protected, "/health-records", cfg.HealthRecords)
			mount(protected, "/compliance", cfg.Compliance)
			mount(protected, "/video", cfg.Video)
			mount(protected, "/terminology", cfg.Terminology)
			mount(protected, "/forms", cfg.Forms)
			mount(protected, "/dashboard", cfg.Dashboard)
			mount(protected, "/audit", cfg.Audit)
		})
	})

	return r
}

func mount(r chi.Router, pattern string, h RouteMounter) {
	if h == nil {
		return
	}
	r.Route(pattern, h.Routes)
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
