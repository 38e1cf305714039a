// Package contracts defines the collaborator interfaces of the chat pipeline.
//
// The pipeline only depends on these interfaces. The concrete provider
// drivers, tool registry, retriever and stores live under internal/ and are
// wired together in pkg/server, so tests can substitute fakes for any of them.
package contracts

import (
	"context"

	"github.com/agentoven/notechat/pkg/models"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ── Chat Driver ─────────────────────────────────────────────

// ChatDriver is one language-model provider adapter.
// OSS ships: OpenAI, Anthropic, Ollama.
//
// Drivers are registered in the Model Router via RegisterDriver().
type ChatDriver interface {
	// Kind returns the provider identifier (e.g., "openai", "ollama").
	Kind() string

	// Complete runs one completion. When req.Stream is set the driver may
	// return a response whose Stream must be drained by the caller.
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.ChatResponse, error)

	// SupportsExecutionStatusFeedback reports whether the provider benefits
	// from structured tool status events rather than plain tool messages.
	SupportsExecutionStatusFeedback() bool

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// Completer is the narrow slice of the router used by query decomposition.
type Completer interface {
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.ChatResponse, error)
}

// ── Tool Registry ───────────────────────────────────────────

// ToolRegistry executes named tools. Safe for concurrent use.
type ToolRegistry interface {
	// Execute runs a tool and returns its result, which may be a string or
	// any JSON-serializable value.
	Execute(ctx context.Context, name string, args map[string]any) (any, error)

	// Definitions lists every callable tool.
	Definitions() []mcptypes.Tool

	// Count returns the number of registered tools.
	Count() int
}

// ── Context Retrieval ───────────────────────────────────────

// ContextRetriever finds knowledge-base fragments relevant to a query.
type ContextRetriever interface {
	// Decompose splits a question into search queries. Never fails; falls
	// back to the original question.
	Decompose(ctx context.Context, query string) []string

	// FindRelevantNotes returns fragments ordered by descending relevance.
	// An empty scope searches the whole knowledge base.
	FindRelevantNotes(ctx context.Context, queries []string, scope string, opts models.RetrievalOptions) ([]models.NoteFragment, error)

	// BuildContext renders fragments into prompt text for a provider.
	BuildContext(fragments []models.NoteFragment, query, provider string) string
}

// ── Embeddings & Vectors ────────────────────────────────────

// EmbeddingDriver turns text into vectors.
type EmbeddingDriver interface {
	Kind() string
	Dimensions() int
	MaxBatchSize() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	HealthCheck(ctx context.Context) error
}

// VectorStoreDriver stores and searches embedded chunks.
type VectorStoreDriver interface {
	Kind() string
	Upsert(ctx context.Context, docs []models.VectorDoc) error
	Search(ctx context.Context, vector []float64, topK int, filter map[string]string) ([]models.SearchResult, error)
	// Delete removes every document whose metadata matches all filter entries.
	Delete(ctx context.Context, filter map[string]string) error
	Count(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
}

// ── Knowledge Base ──────────────────────────────────────────

// NoteStore is the persistence boundary for notes.
type NoteStore interface {
	GetNote(ctx context.Context, id string) (*models.Note, error)
	ListNotes(ctx context.Context, limit int) ([]models.Note, error)
	SaveNote(ctx context.Context, note *models.Note) error
	DeleteNote(ctx context.Context, id string) error
	SearchNotes(ctx context.Context, term string, limit int) ([]models.Note, error)
}

// ErrNotFound is returned by stores when a record does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
