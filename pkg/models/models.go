package models

import (
	"encoding/json"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ── Messages ─────────────────────────────────────────────────

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation history.
// A tool message answers exactly one ToolCall and carries its ID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages requesting tools
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool result messages
	Name       string     `json:"name,omitempty"`         // tool name for tool messages
}

// ToolCall is a tool invocation requested by a model. Immutable once produced.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the tool and carries its serialized JSON arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ── Pipeline Input / Output ──────────────────────────────────

// Format hints accepted by ChatPipelineInput.Format.
const (
	FormatStream = "stream"
	FormatJSON   = "json"
)

// PipelineOptions are the per-call knobs of a pipeline execution.
type PipelineOptions struct {
	UseAdvancedContext bool     `json:"use_advanced_context"`
	SystemPrompt       string   `json:"system_prompt,omitempty"`
	Model              string   `json:"model,omitempty"` // "model" or "provider:model"
	EnableTools        *bool    `json:"enable_tools,omitempty"`
	Stream             *bool    `json:"stream,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxTokens          int      `json:"max_tokens,omitempty"`
	ShowThinking       bool     `json:"show_thinking,omitempty"`
	MaxResults         int      `json:"max_results,omitempty"`    // retrieval fragments
	MinSimilarity      float64  `json:"min_similarity,omitempty"` // retrieval score floor
}

// StreamCallback receives every chunk of a streamed execution, in order.
// Returning an error stops delivery and fails the execution.
type StreamCallback func(chunk *StreamChunk) error

// ChatPipelineInput is owned by a single pipeline execution.
type ChatPipelineInput struct {
	Messages       []Message       `json:"messages"`
	Query          string          `json:"query,omitempty"`
	NoteID         string          `json:"note_id,omitempty"`
	Options        PipelineOptions `json:"options"`
	Format         string          `json:"format,omitempty"`
	StreamCallback StreamCallback  `json:"-"`
}

// StreamDelta is one incremental fragment of a completion.
type StreamDelta struct {
	Text string `json:"text"`
}

// DeltaStream is a finite, non-restartable sequence of completion deltas.
// Callers loop on Next, read Current, then check Err. Close releases the
// underlying transport and is safe to call more than once.
type DeltaStream interface {
	Next() bool
	Current() StreamDelta
	Err() error
	Close() error
}

// ChatResponse is the result of one completion or of a whole pipeline run.
//
// Tool requests come in two shapes: ToolCalls is filled directly by drivers
// that know them up front, PendingToolCalls is only meaningful once Stream
// has been drained. Use the pipeline's resolver rather than reading either.
type ChatResponse struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Model     string     `json:"model"`
	Provider  string     `json:"provider"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
	LatencyMs int64      `json:"latency_ms"`

	Stream           DeltaStream                `json:"-"`
	PendingToolCalls func() ([]ToolCall, error) `json:"-"`
}

// TokenUsage reports provider token accounting when available.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ── Streaming ────────────────────────────────────────────────

// ToolAction is the phase reported by a tool execution event.
type ToolAction string

const (
	ToolActionStart    ToolAction = "start"
	ToolActionComplete ToolAction = "complete"
	ToolActionError    ToolAction = "error"
)

// ToolExecutionEvent is a structured notification about one tool invocation.
type ToolExecutionEvent struct {
	Action     ToolAction     `json:"action"`
	Tool       string         `json:"tool"`
	ToolCallID string         `json:"tool_call_id"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// StreamChunk is what a stream sink receives. Exactly one chunk per
// execution has Done set, and it is always the last one.
type StreamChunk struct {
	Text          string              `json:"text"`
	Done          bool                `json:"done"`
	Model         string              `json:"model,omitempty"`
	Provider      string              `json:"provider,omitempty"`
	ToolExecution *ToolExecutionEvent `json:"tool_execution,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// ── Completion Requests ──────────────────────────────────────

// CompletionRequest is what the completion stage sends to a chat driver.
type CompletionRequest struct {
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Tools       []mcptypes.Tool `json:"tools,omitempty"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// ── Metrics ──────────────────────────────────────────────────

// StageMetrics aggregates one pipeline stage. Times are milliseconds.
type StageMetrics struct {
	TotalExecutions      int64   `json:"total_executions"`
	AverageExecutionTime float64 `json:"average_execution_time"`
}

// PipelineMetrics is the process-lifetime aggregate of a pipeline instance.
type PipelineMetrics struct {
	TotalExecutions      int64                   `json:"total_executions"`
	AverageExecutionTime float64                 `json:"average_execution_time"`
	StageMetrics         map[string]StageMetrics `json:"stage_metrics"`
}

// ── Knowledge Base ───────────────────────────────────────────

// Note is a knowledge-base entry.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Mime      string    `json:"mime,omitempty"` // text/plain, text/html, text/markdown
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteFragment is one ranked retrieval hit with its provenance.
type NoteFragment struct {
	ID         string  `json:"id"`
	NoteID     string  `json:"note_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Mime       string  `json:"mime,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// RetrievalOptions tunes a context retrieval call.
type RetrievalOptions struct {
	MaxResults    int     `json:"max_results,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

// RAGQueryRequest is the input to the retrieval endpoint.
type RAGQueryRequest struct {
	Question      string  `json:"question"`
	NoteID        string  `json:"note_id,omitempty"`
	Decompose     bool    `json:"decompose,omitempty"`
	MaxResults    int     `json:"max_results,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

// RAGQueryResult is the output of the retrieval endpoint.
type RAGQueryResult struct {
	Queries   []string       `json:"queries"`
	Fragments []NoteFragment `json:"fragments"`
	Context   string         `json:"context"`
	LatencyMs int64          `json:"latency_ms"`
}

// ── Vector Index ─────────────────────────────────────────────

// Metadata keys every indexed chunk carries.
const (
	MetaNoteID     = "note_id"
	MetaTitle      = "title"
	MetaChunkIndex = "chunk_index"
	MetaMime       = "mime"
	MetaEmbedder   = "embedder"
)

// VectorDoc is a single embedded chunk stored in a vector store.
type VectorDoc struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Vector    []float64         `json:"vector"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchResult is a single vector search result.
type SearchResult struct {
	Doc   VectorDoc `json:"doc"`
	Score float64   `json:"score"`
}

// ── Embedding Maintenance Queue ──────────────────────────────

// QueueOperation is the kind of index maintenance a note needs.
type QueueOperation string

const (
	OpUpdate QueueOperation = "UPDATE"
	OpDelete QueueOperation = "DELETE"
)

// QueueItem tracks one note waiting for (re)embedding or removal.
type QueueItem struct {
	NoteID       string         `json:"note_id"`
	Operation    QueueOperation `json:"operation"`
	Attempts     int            `json:"attempts"`
	LastAttempt  *time.Time     `json:"last_attempt,omitempty"`
	Error        string         `json:"error,omitempty"`
	Failed       bool           `json:"failed"`
	IsProcessing bool           `json:"is_processing"`
	Priority     int            `json:"priority"`
	QueuedAt     time.Time      `json:"queued_at"`
}

// FailedEmbedding is a queue item reported back to operators.
type FailedEmbedding struct {
	QueueItem
	Title       string `json:"title,omitempty"`
	FailureType string `json:"failure_type"` // "chunks" or "full"
	IsPermanent bool   `json:"is_permanent"`
}

// ── Sessions ─────────────────────────────────────────────────

// Session is a multi-turn conversation kept between chat requests.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	NoteID    string    `json:"note_id,omitempty"`
	Messages  []Message `json:"messages"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ── MCP Protocol Types ───────────────────────────────────────

type MCPRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

type MCPResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

type MCPContent struct {
	Type string `json:"type"` // text, image, resource
	Text string `json:"text,omitempty"`
}
