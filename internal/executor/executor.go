// Package executor runs model-requested tool calls against the tool registry.
//
// Calls of one batch run concurrently; results always come back in the
// order the model requested them. A failing tool never fails the batch: its
// error becomes the result text so the model can react to it. Only a
// cancelled context or a panicking tool fails the whole batch.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ToolResult represents the result of executing a tool call.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	Content    string         `json:"content"`
	IsError    bool           `json:"is_error"`
	LatencyMs  int64          `json:"latency_ms"`
}

// Event converts the result into a complete or error notification.
func (r ToolResult) Event() models.ToolExecutionEvent {
	ev := models.ToolExecutionEvent{
		Action:     models.ToolActionComplete,
		Tool:       r.Name,
		ToolCallID: r.ToolCallID,
		Args:       r.Args,
		Result:     r.Content,
	}
	if r.IsError {
		ev.Action = models.ToolActionError
		ev.Error = strings.TrimPrefix(r.Content, "Error: ")
	}
	return ev
}

// Message converts the result into the tool message answering its call.
func (r ToolResult) Message() models.Message {
	return models.Message{
		Role:       models.RoleTool,
		Content:    r.Content,
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
	}
}

// Recorder receives one observation per executed tool.
type Recorder interface {
	RecordToolCall(ctx context.Context, tool string, failed bool)
}

// Executor dispatches tool calls to a registry.
type Executor struct {
	registry contracts.ToolRegistry
	recorder Recorder
	timeout  time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithRecorder reports every tool execution to r.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithTimeout bounds every single tool call.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// New creates an executor over registry.
func New(registry contracts.ToolRegistry, opts ...Option) *Executor {
	e := &Executor{registry: registry, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteAll runs calls concurrently and returns their results in call
// order. onStart, when set, is invoked for every call in order before any
// call is launched.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall, onStart func(models.ToolExecutionEvent)) ([]ToolResult, error) {
	parsed := make([]map[string]any, len(calls))
	for i, tc := range calls {
		parsed[i] = ParseArguments(tc.Function.Arguments)
		if onStart != nil {
			onStart(models.ToolExecutionEvent{
				Action:     models.ToolActionStart,
				Tool:       tc.Function.Name,
				ToolCallID: tc.ID,
				Args:       parsed[i],
			})
		}
	}

	results := make([]ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range calls {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("tool %s panicked: %v", tc.Function.Name, r)
				}
			}()
			results[i] = e.executeTool(gctx, tc, parsed[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tool execution interrupted: %w", err)
	}
	return results, nil
}

// executeTool calls one tool and returns its result.
func (e *Executor) executeTool(ctx context.Context, tc models.ToolCall, args map[string]any) ToolResult {
	start := time.Now()
	result := ToolResult{
		ToolCallID: tc.ID,
		Name:       tc.Function.Name,
		Args:       args,
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out, err := e.registry.Execute(ctx, tc.Function.Name, args)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Content = fmt.Sprintf("Error: %s", err.Error())
		result.IsError = true
		log.Warn().
			Str("tool", tc.Function.Name).
			Str("tool_call_id", tc.ID).
			Err(err).
			Msg("Tool execution failed")
	} else {
		result.Content = FormatResult(out)
		log.Debug().
			Str("tool", tc.Function.Name).
			Int64("latency_ms", result.LatencyMs).
			Int("result_len", len(result.Content)).
			Msg("Tool executed")
	}

	if e.recorder != nil {
		e.recorder.RecordToolCall(ctx, tc.Function.Name, result.IsError)
	}
	return result
}

// ── Argument Parsing ────────────────────────────────────────

var (
	singleQuotedKey = regexp.MustCompile(`([{,]\s*)'([^']+)'\s*:`)
	bareKey         = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// ParseArguments decodes model-produced tool arguments. It tries strict
// JSON first, then JSON with common quoting mistakes fixed, and finally
// wraps the raw text as {"text": raw}.
func ParseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}

	cleaned := strings.Trim(raw, `'"`)
	cleaned = strings.ReplaceAll(cleaned, `\"`, `"`)
	cleaned = singleQuotedKey.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = bareKey.ReplaceAllString(cleaned, `$1"$2":`)
	if err := json.Unmarshal([]byte(cleaned), &args); err == nil && args != nil {
		return args
	}

	return map[string]any{"text": raw}
}

// FormatResult renders a tool result as message text. Strings pass
// through; other values become 2-space indented JSON.
func FormatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case fmt.Stringer:
		return r.String()
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
