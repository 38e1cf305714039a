// Package handlers implements the HTTP handlers of the notechat server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentoven/notechat/internal/embedqueue"
	"github.com/agentoven/notechat/internal/mcpgw"
	"github.com/agentoven/notechat/internal/router"
	"github.com/agentoven/notechat/internal/sessions"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ChatPipeline runs chat turns and exposes their metrics.
type ChatPipeline interface {
	Execute(ctx context.Context, input *models.ChatPipelineInput) (*models.ChatResponse, error)
	Metrics() models.PipelineMetrics
	ResetMetrics()
}

// Handlers holds all handler dependencies. Optional components may be nil;
// their endpoints then answer 503.
type Handlers struct {
	Pipeline   ChatPipeline
	Sessions   *sessions.MemorySessionStore
	Notes      contracts.NoteStore
	Queue      *embedqueue.Processor
	Router     *router.ModelRouter
	MCPGateway *mcpgw.Gateway
}

// New creates a new Handlers instance.
func New(p ChatPipeline, sess *sessions.MemorySessionStore, notes contracts.NoteStore) *Handlers {
	return &Handlers{Pipeline: p, Sessions: sess, Notes: notes}
}

// ══════════════════════════════════════════════════════════════
// ── Chat ─────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages  []models.Message       `json:"messages"`
	Query     string                 `json:"query"`
	NoteID    string                 `json:"note_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Options   models.PipelineOptions `json:"options"`
	Format    string                 `json:"format,omitempty"`
}

// ChatResult is the JSON answer of a non-streamed chat request.
type ChatResult struct {
	*models.ChatResponse
	SessionID string `json:"session_id,omitempty"`
}

// Chat handles POST /api/v1/chat. The answer is streamed as server-sent
// events when format is "stream" or the client accepts text/event-stream.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 && strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "messages or query is required")
		return
	}

	turn := req.Messages
	if len(turn) == 0 {
		turn = []models.Message{{Role: models.RoleUser, Content: req.Query}}
	}

	input := &models.ChatPipelineInput{
		Messages: turn,
		Query:    req.Query,
		NoteID:   req.NoteID,
		Options:  req.Options,
		Format:   req.Format,
	}

	if req.SessionID != "" {
		sess, err := h.Sessions.GetSession(r.Context(), req.SessionID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		input.Messages = append(sess.Messages, turn...)
		if input.NoteID == "" {
			input.NoteID = sess.NoteID
		}
	}

	if wantsStream(r, req.Format) {
		h.streamChat(w, r, input, req.SessionID, turn)
		return
	}

	resp, err := h.Pipeline.Execute(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Str("session", req.SessionID).Msg("Chat failed")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.recordTurn(r.Context(), req.SessionID, turn, resp)
	respondJSON(w, http.StatusOK, ChatResult{ChatResponse: resp, SessionID: req.SessionID})
}

func (h *Handlers) streamChat(w http.ResponseWriter, r *http.Request, input *models.ChatPipelineInput, sessionID string, turn []models.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	input.StreamCallback = func(chunk *models.StreamChunk) error {
		if err := writeEvent(w, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Failures reach the client as the terminal chunk's error.
	resp, err := h.Pipeline.Execute(r.Context(), input)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Streamed chat failed")
		return
	}
	h.recordTurn(r.Context(), sessionID, turn, resp)
}

// recordTurn appends the turn and the answer to the session, if any.
func (h *Handlers) recordTurn(ctx context.Context, sessionID string, turn []models.Message, resp *models.ChatResponse) {
	if sessionID == "" {
		return
	}
	msgs := append(append([]models.Message(nil), turn...), models.Message{Role: models.RoleAssistant, Content: resp.Text})
	if _, err := h.Sessions.AppendTurn(ctx, sessionID, msgs...); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to record chat turn")
	}
}

func wantsStream(r *http.Request, format string) bool {
	return format == models.FormatStream || strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// writeEvent frames v as one SSE data event.
func writeEvent(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// GetChatMetrics handles GET /api/v1/chat/metrics.
func (h *Handlers) GetChatMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Pipeline.Metrics())
}

// ResetChatMetrics handles POST /api/v1/chat/metrics/reset.
func (h *Handlers) ResetChatMetrics(w http.ResponseWriter, r *http.Request) {
	h.Pipeline.ResetMetrics()
	respondJSON(w, http.StatusOK, h.Pipeline.Metrics())
}

// ══════════════════════════════════════════════════════════════
// ── Sessions ─────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Sessions.ListSessions(r.Context()))
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string `json:"title"`
		NoteID string `json:"note_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	sess := h.Sessions.CreateSession(r.Context(), req.Title, req.NoteID)
	log.Info().Str("session", sess.ID).Msg("Session created")
	respondJSON(w, http.StatusCreated, sess)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.GetSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.DeleteSession(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Providers ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListProviders handles GET /api/v1/models/providers with a live health
// check of every registered chat driver.
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	if h.Router == nil {
		respondError(w, http.StatusServiceUnavailable, "No chat providers configured")
		return
	}
	respondJSON(w, http.StatusOK, h.Router.HealthCheck(r.Context()))
}

// ══════════════════════════════════════════════════════════════
// ── MCP Gateway ──────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// MCPEndpoint handles POST /mcp (JSON-RPC 2.0).
func (h *Handlers) MCPEndpoint(w http.ResponseWriter, r *http.Request) {
	var req models.MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, models.MCPResponse{
			Jsonrpc: "2.0",
			Error:   &models.MCPError{Code: -32700, Message: "Parse error", Data: err.Error()},
		})
		return
	}

	resp := h.MCPGateway.HandleJSONRPC(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// MCPSSEEndpoint handles GET /mcp/sse, streaming gateway notifications.
func (h *Handlers) MCPSSEEndpoint(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.MCPGateway.Subscribe()
	defer h.MCPGateway.Unsubscribe(ch)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(msg)
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps not-found errors to 404 and the rest to 500.
func respondStoreError(w http.ResponseWriter, err error) {
	var nf *contracts.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}
