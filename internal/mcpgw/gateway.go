// Package mcpgw implements the MCP (Model Context Protocol) gateway.
//
// The gateway exposes the chat tool registry to external MCP clients, so
// the note tools the models use are also available to editors and agents.
// It supports:
//   - initialize / ping handshakes
//   - tools/list and tools/call over JSON-RPC 2.0
//   - tools/list_changed notifications to SSE subscribers
package mcpgw

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentoven/notechat/internal/executor"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
)

// ProtocolVersion is the MCP revision the gateway speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeToolNotFound   = -32001
)

// Registry is the tool registry the gateway serves.
type Registry interface {
	contracts.ToolRegistry
	Get(name string) (mcptypes.Tool, bool)
}

// Gateway answers MCP requests against a tool registry.
type Gateway struct {
	tools   Registry
	version string

	subsMu sync.RWMutex
	subs   []chan models.MCPResponse
}

// NewGateway creates a new MCP gateway.
func NewGateway(tools Registry, version string) *Gateway {
	return &Gateway{tools: tools, version: version}
}

// HandleJSONRPC processes an MCP JSON-RPC 2.0 request. Notifications get
// a nil response.
func (gw *Gateway) HandleJSONRPC(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	switch req.Method {

	// ── Discovery ────────────────────────────────────
	case "initialize":
		return gw.handleInitialize(req)

	case "tools/list":
		return gw.handleToolsList(req)

	// ── Tool Invocation ──────────────────────────────
	case "tools/call":
		return gw.handleToolsCall(ctx, req)

	// ── Notifications (no response) ──────────────────
	case "notifications/initialized":
		log.Debug().Msg("MCP client initialized")
		return nil

	case "ping":
		return result(req, map[string]string{"status": "pong"})

	default:
		return rpcError(req, codeMethodNotFound, "Method not found",
			fmt.Sprintf("Method '%s' is not supported by the MCP gateway", req.Method))
	}
}

// handleInitialize responds to the MCP initialize handshake.
func (gw *Gateway) handleInitialize(req *models.MCPRequest) *models.MCPResponse {
	return result(req, map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]bool{"listChanged": true},
		},
		"serverInfo": map[string]string{
			"name":    "notechat-mcp-gateway",
			"version": gw.version,
		},
	})
}

// handleToolsList returns every registered tool.
func (gw *Gateway) handleToolsList(req *models.MCPRequest) *models.MCPResponse {
	return result(req, map[string]any{"tools": gw.tools.Definitions()})
}

// handleToolsCall invokes a registered tool. Tool failures are results
// with isError set, not protocol errors.
func (gw *Gateway) handleToolsCall(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	var params models.MCPToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		detail := "missing tool name"
		if err != nil {
			detail = err.Error()
		}
		return rpcError(req, codeInvalidParams, "Invalid params", detail)
	}

	if _, ok := gw.tools.Get(params.Name); !ok {
		return rpcError(req, codeToolNotFound, "Tool not found",
			fmt.Sprintf("Tool '%s' is not registered", params.Name))
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	out, err := gw.tools.Execute(ctx, params.Name, args)
	if err != nil {
		log.Warn().Err(err).Str("tool", params.Name).Msg("MCP tool call failed")
		return result(req, models.MCPToolResult{
			Content: []models.MCPContent{{Type: "text", Text: "Tool execution error: " + err.Error()}},
			IsError: true,
		})
	}
	return result(req, models.MCPToolResult{
		Content: []models.MCPContent{{Type: "text", Text: executor.FormatResult(out)}},
	})
}

func result(req *models.MCPRequest, v any) *models.MCPResponse {
	return &models.MCPResponse{Jsonrpc: "2.0", Result: v, ID: req.ID}
}

func rpcError(req *models.MCPRequest, code int, msg, data string) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Error:   &models.MCPError{Code: code, Message: msg, Data: data},
		ID:      req.ID,
	}
}

// ── SSE Subscription Management ─────────────────────────────

// Subscribe creates an SSE subscription.
func (gw *Gateway) Subscribe() <-chan models.MCPResponse {
	ch := make(chan models.MCPResponse, 32)
	gw.subsMu.Lock()
	gw.subs = append(gw.subs, ch)
	gw.subsMu.Unlock()
	return ch
}

// Unsubscribe removes an SSE subscription and closes its channel.
func (gw *Gateway) Unsubscribe(ch <-chan models.MCPResponse) {
	gw.subsMu.Lock()
	defer gw.subsMu.Unlock()

	for i, s := range gw.subs {
		if s == ch {
			gw.subs = append(gw.subs[:i], gw.subs[i+1:]...)
			close(s)
			break
		}
	}
}

// Broadcast sends a message to all subscribers. Slow subscribers miss it.
func (gw *Gateway) Broadcast(resp models.MCPResponse) {
	gw.subsMu.RLock()
	defer gw.subsMu.RUnlock()

	for _, ch := range gw.subs {
		select {
		case ch <- resp:
		default:
		}
	}
}

// NotifyToolsChanged tells subscribers to refetch the tool list.
func (gw *Gateway) NotifyToolsChanged() {
	gw.Broadcast(models.MCPResponse{Jsonrpc: "2.0", Result: map[string]string{
		"method": "notifications/tools/list_changed",
	}})
}
