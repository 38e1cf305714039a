package mcpgw_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/agentoven/notechat/internal/mcpgw"
	"github.com/agentoven/notechat/internal/tools"
	"github.com/agentoven/notechat/pkg/models"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *mcpgw.Gateway {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register("builtin",
		tools.NewTool("echo", "echo back", tools.Param{Name: "text", Type: "string", Required: true}),
		func(ctx context.Context, args map[string]any) (any, error) {
			return tools.StringArg(args, "text"), nil
		}))
	require.NoError(t, reg.Register("builtin", tools.NewTool("broken", "always fails"),
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("disk on fire")
		}))
	return mcpgw.NewGateway(reg, "test")
}

func call(t *testing.T, gw *mcpgw.Gateway, method string, params any) *models.MCPResponse {
	t.Helper()
	req := &models.MCPRequest{Jsonrpc: "2.0", Method: method, ID: 7}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		req.Params = raw
	}
	return gw.HandleJSONRPC(context.Background(), req)
}

func TestInitialize(t *testing.T) {
	resp := call(t, newTestGateway(t), "initialize", nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, 7, resp.ID)

	res := resp.Result.(map[string]any)
	assert.Equal(t, mcpgw.ProtocolVersion, res["protocolVersion"])
}

func TestToolsList(t *testing.T) {
	resp := call(t, newTestGateway(t), "tools/list", nil)
	require.Nil(t, resp.Error)

	defs := resp.Result.(map[string]any)["tools"].([]mcptypes.Tool)
	require.Len(t, defs, 2)
	assert.Equal(t, "broken", defs[0].Name)
	assert.Equal(t, "echo", defs[1].Name)
}

func TestToolsCall(t *testing.T) {
	gw := newTestGateway(t)

	t.Run("success", func(t *testing.T) {
		resp := call(t, gw, "tools/call", models.MCPToolCallParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
		require.Nil(t, resp.Error)
		res := resp.Result.(models.MCPToolResult)
		assert.False(t, res.IsError)
		assert.Equal(t, "hi", res.Content[0].Text)
	})

	t.Run("tool error is a result", func(t *testing.T) {
		resp := call(t, gw, "tools/call", models.MCPToolCallParams{Name: "broken"})
		require.Nil(t, resp.Error)
		res := resp.Result.(models.MCPToolResult)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content[0].Text, "disk on fire")
	})

	t.Run("unknown tool", func(t *testing.T) {
		resp := call(t, gw, "tools/call", models.MCPToolCallParams{Name: "nope"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32001, resp.Error.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		resp := call(t, gw, "tools/call", map[string]any{})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32602, resp.Error.Code)
	})
}

func TestNotificationsAndUnknownMethods(t *testing.T) {
	gw := newTestGateway(t)
	assert.Nil(t, call(t, gw, "notifications/initialized", nil))

	resp := call(t, gw, "resources/list", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)

	resp = call(t, gw, "ping", nil)
	assert.Equal(t, map[string]string{"status": "pong"}, resp.Result)
}

func TestNotifyToolsChanged(t *testing.T) {
	gw := newTestGateway(t)
	ch := gw.Subscribe()
	gw.NotifyToolsChanged()

	msg := <-ch
	assert.Equal(t, "notifications/tools/list_changed", msg.Result.(map[string]string)["method"])

	gw.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}
