package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentoven/notechat/internal/embeddings"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
)

// RAGQuerier answers retrieval-only queries.
type RAGQuerier interface {
	Query(ctx context.Context, req models.RAGQueryRequest) (*models.RAGQueryResult, error)
}

// RAGHandlers holds dependencies for retrieval and vector index handlers.
type RAGHandlers struct {
	Retriever  RAGQuerier
	Embeddings *embeddings.Registry
	Vectors    contracts.VectorStoreDriver
}

// ══════════════════════════════════════════════════════════════
// ── RAG Query ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// RAGQuery handles POST /api/v1/rag/query
func (h *RAGHandlers) RAGQuery(w http.ResponseWriter, r *http.Request) {
	var req models.RAGQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	if h.Retriever == nil {
		respondError(w, http.StatusServiceUnavailable, "retrieval not configured: no embedding provider")
		return
	}

	result, err := h.Retriever.Query(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("RAG query failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════
// ── Index Health ─────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type componentHealth struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// IndexHealth handles GET /api/v1/rag/health: embedding drivers, the
// vector store and its document count.
func (h *RAGHandlers) IndexHealth(w http.ResponseWriter, r *http.Request) {
	var out []componentHealth
	if h.Embeddings != nil {
		for kind, err := range h.Embeddings.HealthCheckAll(r.Context()) {
			out = append(out, probe("embedding", kind, err))
		}
	}

	count := 0
	if h.Vectors != nil {
		out = append(out, probe("vectorstore", h.Vectors.Kind(), h.Vectors.HealthCheck(r.Context())))
		if n, err := h.Vectors.Count(r.Context()); err == nil {
			count = n
		}
	}
	if out == nil {
		out = []componentHealth{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"components": out,
		"documents":  count,
	})
}

func probe(name, kind string, err error) componentHealth {
	c := componentHealth{Name: name, Kind: kind, Healthy: err == nil}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}
