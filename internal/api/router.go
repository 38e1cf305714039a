package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/notechat/internal/api/handlers"
	"github.com/agentoven/notechat/internal/api/middleware"
	"github.com/agentoven/notechat/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes. metrics serves
// the Prometheus scrape endpoint and may be nil.
func NewRouter(cfg *config.Config, h *handlers.Handlers, rh *handlers.RAGHandlers, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth(cfg.APIKeys).Middleware)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/chat", func(r chi.Router) {
			r.Post("/", h.Chat)
			r.Get("/metrics", h.GetChatMetrics)
			r.Post("/metrics/reset", h.ResetChatMetrics)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Get("/{sessionId}", h.GetSession)
			r.Delete("/{sessionId}", h.DeleteSession)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Get("/", h.ListNotes)
			r.Post("/", h.CreateNote)
			r.Route("/{noteId}", func(r chi.Router) {
				r.Get("/", h.GetNote)
				r.Put("/", h.UpdateNote)
				r.Delete("/", h.DeleteNote)
			})
		})

		r.Route("/embeddings/queue", func(r chi.Router) {
			r.Get("/failed", h.ListFailedEmbeddings)
			r.Post("/retry", h.RetryEmbeddings)
			r.Get("/stats", h.GetQueueStats)
			r.Post("/process", h.ProcessQueue)
		})

		r.Route("/rag", func(r chi.Router) {
			r.Post("/query", rh.RAGQuery)
			r.Get("/health", rh.IndexHealth)
		})

		r.Get("/models/providers", h.ListProviders)
	})

	// MCP Gateway: exposes the chat tools to MCP clients
	if h.MCPGateway != nil {
		r.Route("/mcp", func(r chi.Router) {
			r.Post("/", h.MCPEndpoint)
			r.Get("/sse", h.MCPSSEEndpoint)
		})
	}

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "notechat",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "notechat",
		})
	}
}
