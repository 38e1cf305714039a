package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentoven/notechat/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// noteRequest is the writable part of a note.
type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Mime    string `json:"mime"`
}

// ══════════════════════════════════════════════════════════════
// ── Notes ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListNotes handles GET /api/v1/notes. With ?q= it runs a keyword search.
func (h *Handlers) ListNotes(w http.ResponseWriter, r *http.Request) {
	var (
		notes []models.Note
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		notes, err = h.Notes.SearchNotes(r.Context(), q, queryInt(r, "limit", 10))
	} else {
		notes, err = h.Notes.ListNotes(r.Context(), queryInt(r, "limit", 0))
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if notes == nil {
		notes = []models.Note{}
	}
	respondJSON(w, http.StatusOK, notes)
}

func (h *Handlers) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "title or content is required")
		return
	}

	note := &models.Note{Title: req.Title, Content: req.Content, Mime: req.Mime}
	if err := h.Notes.SaveNote(r.Context(), note); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.enqueue(r.Context(), note.ID, models.OpUpdate)

	log.Info().Str("note", note.ID).Msg("Note created")
	respondJSON(w, http.StatusCreated, note)
}

func (h *Handlers) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.Notes.GetNote(r.Context(), chi.URLParam(r, "noteId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, note)
}

func (h *Handlers) UpdateNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.Notes.GetNote(r.Context(), chi.URLParam(r, "noteId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	note.Title, note.Content = req.Title, req.Content
	if req.Mime != "" {
		note.Mime = req.Mime
	}

	if err := h.Notes.SaveNote(r.Context(), note); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.enqueue(r.Context(), note.ID, models.OpUpdate)
	respondJSON(w, http.StatusOK, note)
}

func (h *Handlers) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "noteId")
	if err := h.Notes.DeleteNote(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	h.enqueue(r.Context(), id, models.OpDelete)

	log.Info().Str("note", id).Msg("Note deleted")
	w.WriteHeader(http.StatusNoContent)
}

// enqueue schedules (re)embedding. A failure only delays indexing, so the
// note change itself still succeeds.
func (h *Handlers) enqueue(ctx context.Context, noteID string, op models.QueueOperation) {
	if h.Queue == nil {
		return
	}
	if err := h.Queue.Queue().Enqueue(ctx, noteID, op); err != nil {
		log.Error().Err(err).Str("note", noteID).Str("op", string(op)).Msg("Failed to enqueue note for embedding")
	}
}

// ══════════════════════════════════════════════════════════════
// ── Embedding Queue ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListFailedEmbeddings handles GET /api/v1/embeddings/queue/failed.
func (h *Handlers) ListFailedEmbeddings(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Embedding queue not enabled")
		return
	}
	items, err := h.Queue.Failed(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []models.FailedEmbedding{}
	}
	respondJSON(w, http.StatusOK, items)
}

// RetryEmbeddings handles POST /api/v1/embeddings/queue/retry. With a
// note_id it retries that note, otherwise every failed item.
func (h *Handlers) RetryEmbeddings(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Embedding queue not enabled")
		return
	}
	var req struct {
		NoteID string `json:"note_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	q := h.Queue.Queue()
	if req.NoteID == "" {
		n, err := q.RetryAll(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info().Int("items", n).Msg("Failed embeddings re-queued")
		respondJSON(w, http.StatusOK, map[string]int{"retried": n})
		return
	}

	ok, err := q.Retry(r.Context(), req.NoteID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "note is not in the embedding queue: "+req.NoteID)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"retried": 1})
}

// GetQueueStats handles GET /api/v1/embeddings/queue/stats.
func (h *Handlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Embedding queue not enabled")
		return
	}
	stats, err := h.Queue.Queue().Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// ProcessQueue handles POST /api/v1/embeddings/queue/process, running one
// batch immediately.
func (h *Handlers) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Embedding queue not enabled")
		return
	}
	res, err := h.Queue.ProcessBatch(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}
