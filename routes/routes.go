package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/botmesh/model-gateway/app"
	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/servicekey"
	"github.com/botmesh/model-gateway/utils"
)

// operatorTimeout bounds the probe and operator endpoints. The inference
// routes carry no per-request timeout because streaming completions can
// legitimately run for minutes; the server write timeout is their ceiling.
const operatorTimeout = 30 * time.Second

// SetupRoutes configures all application routes and middleware: public
// probes, the OpenAI-dialect and Anthropic-dialect endpoints under /v1, and
// the read-only operator surface under /admin
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Anthropic-Version"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Probes stay public for load balancers and orchestrators
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(operatorTimeout))

		r.Get("/health", deps.HealthHandler.HandleHealth)
		r.Get("/ready", deps.HealthHandler.HandleReadiness)
		r.Get("/status", deps.HealthHandler.HandleStatus)
	})

	r.Route("/v1", func(r chi.Router) {
		// OpenAI dialect
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireServiceKey(middleware.DialectOpenAI))

			r.Post("/chat/completions", deps.GatewayHandler.HandleChatCompletion)
			r.Post("/embeddings", deps.GatewayHandler.HandleEmbeddings)
			r.Post("/audio/speech", deps.GatewayHandler.HandleSpeech)
			r.Post("/audio/transcriptions", deps.GatewayHandler.HandleTranscription)
			r.Post("/images/generations", deps.GatewayHandler.HandleImages)
		})

		// Anthropic dialect
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireServiceKey(middleware.DialectAnthropic))

			r.Post("/messages", deps.GatewayHandler.HandleMessages)
		})
	})

	// Operator surface (requires admin scope)
	r.Route("/admin", func(r chi.Router) {
		r.Use(chimw.Timeout(operatorTimeout))
		r.Use(deps.AuthMiddleware.RequireServiceKey(middleware.DialectAdmin))
		r.Use(deps.AuthMiddleware.RequireScope(servicekey.ScopeAdmin))

		r.Get("/margins/{tenantID}", deps.AdminHandler.HandleTenantMargins)
		r.Get("/providers", deps.AdminHandler.HandleProviders)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
