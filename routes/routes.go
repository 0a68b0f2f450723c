package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/iesalixar/ticket-logger-api/app"
	"github.com/iesalixar/ticket-logger-api/handlers"
	"github.com/iesalixar/ticket-logger-api/middleware"
	"github.com/iesalixar/ticket-logger-api/models"
	"github.com/iesalixar/ticket-logger-api/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	if deps.Config.Server.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	if deps.Config.Server.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(deps.Config.Server.RequestTimeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every request passes through the gate; routes decide whether they
	// need the principal it may publish.
	r.Use(deps.AuthMiddleware.Authenticate)

	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.Keys, deps.Logger)
	healthHandler := handlers.NewHealthHandler(readinessChecks(deps), deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/.well-known/jwks.json", authHandler.HandleJWKS)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/authenticate", authHandler.HandleAuthenticate)
		r.Get("/jwks", authHandler.HandleJWKS)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/me", authHandler.HandleMe)
		})
	})

	if deps.AuthEvents != nil {
		var throttle handlers.ThrottleInspector
		if deps.Limiter != nil {
			throttle = deps.Limiter
		}
		auditHandler := handlers.NewAuditHandler(deps.AuthEvents, throttle, deps.Logger)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireRole(models.RoleAdmin))
			r.Get("/auth-events", auditHandler.HandleListAuthEvents)
			r.Get("/login-throttle/{username}", auditHandler.HandleLoginThrottle)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

// readinessChecks lists the dependencies /readyz reports on. A disabled
// cache is reported as such rather than omitted.
func readinessChecks(deps *app.Dependencies) map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{
		"database": nil,
		"cache":    nil,
	}
	if deps.DB != nil {
		checks["database"] = deps.DB
	}
	if deps.Redis != nil {
		checks["cache"] = handlers.PingFunc(deps.Principals.Ping)
	}
	return checks
}
