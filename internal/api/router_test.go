package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/agentoven/notechat/internal/api"
	"github.com/agentoven/notechat/internal/api/handlers"
	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/internal/embeddings"
	"github.com/agentoven/notechat/internal/embedqueue"
	"github.com/agentoven/notechat/internal/mcpgw"
	"github.com/agentoven/notechat/internal/rag"
	"github.com/agentoven/notechat/internal/sessions"
	"github.com/agentoven/notechat/internal/store"
	"github.com/agentoven/notechat/internal/tools"
	"github.com/agentoven/notechat/internal/vectorstore"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePipeline answers with chunks joined, streaming them when a sink is set.
type fakePipeline struct {
	mu     sync.Mutex
	inputs []*models.ChatPipelineInput
	chunks []string
	err    error
	resets int
}

func (f *fakePipeline) Execute(ctx context.Context, in *models.ChatPipelineInput) (*models.ChatResponse, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()

	if f.err != nil {
		if in.StreamCallback != nil {
			_ = in.StreamCallback(&models.StreamChunk{Done: true, Error: f.err.Error()})
		}
		return nil, f.err
	}
	text := strings.Join(f.chunks, "")
	if in.StreamCallback != nil {
		for _, c := range f.chunks {
			if err := in.StreamCallback(&models.StreamChunk{Text: c}); err != nil {
				return nil, err
			}
		}
		_ = in.StreamCallback(&models.StreamChunk{Done: true, Model: "gpt-4o-mini", Provider: "openai"})
	}
	return &models.ChatResponse{Text: text, Model: "gpt-4o-mini", Provider: "openai"}, nil
}

func (f *fakePipeline) Metrics() models.PipelineMetrics { return models.PipelineMetrics{} }

func (f *fakePipeline) ResetMetrics() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakePipeline) lastInput() *models.ChatPipelineInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

type testServer struct {
	handler  http.Handler
	pipeline *fakePipeline
	sessions *sessions.MemorySessionStore
	queue    *embedqueue.Queue
}

func newTestServer(t *testing.T, apiKeys ...string) *testServer {
	t.Helper()
	ctx := context.Background()

	notes, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "notechat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { notes.Close() })

	q, err := embedqueue.New(ctx, notes.DB())
	require.NoError(t, err)
	proc := embedqueue.NewProcessor(q, notes,
		rag.NewIngester(vectorstore.NewEmbeddedStore(), rag.DefaultChunkerConfig()),
		embeddings.NewRegistry())

	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(reg, notes, nil))

	fp := &fakePipeline{chunks: []string{"Hello ", "there."}}
	sess := sessions.NewMemorySessionStore()

	h := handlers.New(fp, sess, notes)
	h.Queue = proc
	h.MCPGateway = mcpgw.NewGateway(reg, "test")

	cfg := &config.Config{Version: "test", CORSOrigins: []string{"*"}, APIKeys: apiKeys}
	return &testServer{
		handler:  api.NewRouter(cfg, h, &handlers.RAGHandlers{}, nil),
		pipeline: fp,
		sessions: sess,
		queue:    q,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// sseEvents returns the payloads of every "data:" line.
func sseEvents(t *testing.T, body string) []models.StreamChunk {
	t.Helper()
	var out []models.StreamChunk
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var c models.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &c))
		out = append(out, c)
	}
	return out
}

// ── Chat ────────────────────────────────────────────────────

func TestChat_JSON(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"query": "what is in my notes?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[map[string]any](t, w)
	assert.Equal(t, "Hello there.", got["text"])
	assert.Equal(t, "openai", got["provider"])

	in := s.pipeline.lastInput()
	require.Len(t, in.Messages, 1)
	assert.Equal(t, models.RoleUser, in.Messages[0].Role)
	assert.Nil(t, in.StreamCallback)
}

func TestChat_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"query": "hi", "session_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_PipelineFailure(t *testing.T) {
	s := newTestServer(t)
	s.pipeline.err = errors.New("all providers down")

	w := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"query": "hi"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "all providers down")
}

func TestChat_SSE(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"query": "hi", "format": "stream"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(w.Body.String(), "\n\n"))

	events := sseEvents(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "Hello ", events[0].Text)
	assert.Equal(t, "there.", events[1].Text)
	assert.True(t, events[2].Done)

	// The Accept header alone selects streaming too.
	w = s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"query": "hi"}, "Accept", "text/event-stream")
	assert.Len(t, sseEvents(t, w.Body.String()), 3)
}

func TestChat_SSEFailureIsTerminalChunk(t *testing.T) {
	s := newTestServer(t)
	s.pipeline.err = errors.New("boom")

	w := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"query": "hi", "format": "stream"})
	require.Equal(t, http.StatusOK, w.Code)
	events := sseEvents(t, w.Body.String())
	require.Len(t, events, 1)
	assert.True(t, events[0].Done)
	assert.Equal(t, "boom", events[0].Error)
}

func TestChat_SessionHistory(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{"title": "Trip", "note_id": "n1"})
	require.Equal(t, http.StatusCreated, w.Code)
	sess := decode[models.Session](t, w)

	for _, q := range []string{"first", "second"} {
		w = s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"query": q, "session_id": sess.ID})
		require.Equal(t, http.StatusOK, w.Code)
	}

	in := s.pipeline.lastInput()
	require.Len(t, in.Messages, 3, "history plus the new turn")
	assert.Equal(t, "first", in.Messages[0].Content)
	assert.Equal(t, "Hello there.", in.Messages[1].Content)
	assert.Equal(t, "n1", in.NoteID, "session note scopes retrieval")

	w = s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	got := decode[models.Session](t, w)
	assert.Equal(t, 2, got.TurnCount)
	assert.Len(t, got.Messages, 4)

	w = s.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatMetricsReset(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/chat/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/chat/metrics/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.pipeline.resets)
}

// ── Notes & Queue ───────────────────────────────────────────

func TestNotes_CRUDQueuesEmbedding(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	w := s.do(t, http.MethodPost, "/api/v1/notes", map[string]any{"title": "Norway", "content": "Fjords in June"})
	require.Equal(t, http.StatusCreated, w.Code)
	note := decode[models.Note](t, w)
	require.NotEmpty(t, note.ID)

	items, err := s.queue.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.OpUpdate, items[0].Operation)

	w = s.do(t, http.MethodPut, "/api/v1/notes/"+note.ID, map[string]any{"title": "Norway", "content": "Fjords in July"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Fjords in July", decode[models.Note](t, w).Content)

	w = s.do(t, http.MethodGet, "/api/v1/notes?q=fjords", nil)
	assert.Len(t, decode[[]models.Note](t, w), 1)

	w = s.do(t, http.MethodDelete, "/api/v1/notes/"+note.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	items, err = s.queue.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.OpDelete, items[0].Operation)

	w = s.do(t, http.MethodGet, "/api/v1/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/notes", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueAdmin(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/embeddings/queue/failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/embeddings/queue/retry", map[string]any{"note_id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/embeddings/queue/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"retried":0}`, w.Body.String())

	// Without embedding providers every item fails its attempt.
	w = s.do(t, http.MethodPost, "/api/v1/notes", map[string]any{"title": "t", "content": "c"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/embeddings/queue/process", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, embedqueue.BatchResult{Processed: 1, Failed: 1}, decode[embedqueue.BatchResult](t, w))

	// One failed attempt keeps the item pending for the next run.
	w = s.do(t, http.MethodGet, "/api/v1/embeddings/queue/stats", nil)
	assert.Equal(t, embedqueue.Stats{Pending: 1}, decode[embedqueue.Stats](t, w))

	w = s.do(t, http.MethodGet, "/api/v1/embeddings/queue/failed", nil)
	failed := decode[[]models.FailedEmbedding](t, w)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Attempts)
	assert.Equal(t, "t", failed[0].Title)
}

func TestRAGQuery_NotConfigured(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/rag/query", map[string]any{"question": "where?"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/rag/query", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ── MCP & Auth ──────────────────────────────────────────────

func TestMCPEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "method": "tools/list", "id": 1})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Result.Tools)

	w = s.do(t, http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, "secret")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/sessions", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/sessions", nil, "X-API-Key", "secret").Code)
}
