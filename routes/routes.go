package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/queue-trigger-api/app"
	"github.com/upb/queue-trigger-api/handlers"
	"github.com/upb/queue-trigger-api/internal/observability"
)

// SetupRoutes configures all application routes and middleware.
// The same handler serves local HTTP and events replayed by the Lambda dispatcher.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   allowedHeaders(deps.AuthMiddleware.Header()),
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	api := handlers.NewAPIHandler(deps.Logger, deps.AuthMiddleware.Header())
	health := handlers.NewHealthHandler(deps.Trust, deps.Keys, deps.Logger)

	r.Get("/", api.HandleRoot)

	// Health check endpoints
	r.Get("/health", health.HandleHealth)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	r.Post("/webhook", api.HandleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireIdentity)
		r.Get("/*", api.HandleAPI)
	})

	r.NotFound(api.HandleNotFound)

	return r
}

func allowedHeaders(tokenHeader string) []string {
	headers := []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"}
	for _, h := range headers {
		if http.CanonicalHeaderKey(h) == http.CanonicalHeaderKey(tokenHeader) {
			return headers
		}
	}
	return append(headers, tokenHeader)
}
