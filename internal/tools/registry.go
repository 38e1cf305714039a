// Package tools holds the tool registry the chat pipeline dispatches to.
//
// Tools come from two sources: built-in note tools backed by the knowledge
// base, and tools discovered on external MCP servers. Both end up as a
// definition plus a handler in one Registry.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
)

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	def     mcptypes.Tool
	handler Handler
	source  string
}

// Registry maps tool names to handlers. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds or replaces a tool. source names where the tool came from
// ("builtin" or an MCP server name) and is only used for logging.
func (r *Registry) Register(source string, def mcptypes.Tool, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if h == nil {
		return fmt.Errorf("register tool %s: handler is required", def.Name)
	}
	if def.InputSchema.Type == "" {
		def.InputSchema.Type = "object"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.tools[def.Name]; ok {
		log.Warn().
			Str("tool", def.Name).
			Str("previous_source", prev.source).
			Str("source", source).
			Msg("Tool replaced")
	}
	r.tools[def.Name] = entry{def: def, handler: h, source: source}
	return nil
}

// Unregister removes a tool. Removing an unknown tool is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// UnregisterSource removes every tool registered by source and returns how
// many were removed.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, e := range r.tools {
		if e.source == source {
			delete(r.tools, name)
			n++
		}
	}
	return n
}

// Execute runs the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return e.handler(ctx, args)
}

// Definitions lists every registered tool sorted by name.
func (r *Registry) Definitions() []mcptypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]mcptypes.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Get returns the definition of a tool.
func (r *Registry) Get(name string) (mcptypes.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.def, ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ── Schema Helpers ──────────────────────────────────────────

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        string // "string", "number", "integer", "boolean"
	Description string
	Required    bool
}

// NewTool builds a tool definition with an object input schema.
func NewTool(name, description string, params ...Param) mcptypes.Tool {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		props[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return mcptypes.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcptypes.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// StringArg reads a string argument, accepting any scalar.
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// IntArg reads an integer argument, returning def when absent or invalid.
// JSON numbers decode as float64.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
