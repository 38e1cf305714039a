package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
)

// NameSeparator joins a server name and a tool name. Provider APIs reject
// dots in function names, so the separator is a double underscore.
const NameSeparator = "__"

// MCPClient is the subset of the mcp-go client used to source tools.
type MCPClient interface {
	Initialize(ctx context.Context, req mcptypes.InitializeRequest) (*mcptypes.InitializeResult, error)
	ListTools(ctx context.Context, req mcptypes.ListToolsRequest) (*mcptypes.ListToolsResult, error)
	CallTool(ctx context.Context, req mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error)
	Close() error
}

// ServerSpec describes one external MCP server.
type ServerSpec struct {
	Name    string
	URL     string   // streamable HTTP endpoint
	Command string   // stdio executable
	Args    []string // stdio arguments
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ParseServerSpec parses "name=http://host/mcp" or "name=command arg1 arg2".
func ParseServerSpec(entry string) (ServerSpec, error) {
	name, target, ok := strings.Cut(strings.TrimSpace(entry), "=")
	name = unsafeName.ReplaceAllString(strings.TrimSpace(name), "_")
	target = strings.TrimSpace(target)
	if !ok || name == "" || target == "" {
		return ServerSpec{}, fmt.Errorf("invalid MCP server entry %q, want name=command or name=url", entry)
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return ServerSpec{Name: name, URL: target}, nil
	}
	fields := strings.Fields(target)
	return ServerSpec{Name: name, Command: fields[0], Args: fields[1:]}, nil
}

// MCPSources keeps the connections to external MCP servers whose tools
// are registered in a Registry.
type MCPSources struct {
	reg *Registry

	mu      sync.Mutex
	clients map[string]MCPClient
}

// NewMCPSources creates an empty source set feeding reg.
func NewMCPSources(reg *Registry) *MCPSources {
	return &MCPSources{reg: reg, clients: make(map[string]MCPClient)}
}

// ConnectAll connects every configured server. A server that fails to
// start is logged and skipped. It returns the number of tools registered.
func (m *MCPSources) ConnectAll(ctx context.Context, entries []string) int {
	total := 0
	for _, entry := range entries {
		spec, err := ParseServerSpec(entry)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping MCP server")
			continue
		}
		n, err := m.Connect(ctx, spec)
		if err != nil {
			log.Warn().Err(err).Str("server", spec.Name).Msg("MCP server unavailable")
			continue
		}
		total += n
	}
	return total
}

// Connect starts a client for spec and registers its tools.
func (m *MCPSources) Connect(ctx context.Context, spec ServerSpec) (int, error) {
	c, err := dial(ctx, spec)
	if err != nil {
		return 0, fmt.Errorf("connect %s: %w", spec.Name, err)
	}
	n, err := m.Attach(ctx, spec.Name, c)
	if err != nil {
		_ = c.Close()
		return 0, err
	}
	return n, nil
}

func dial(ctx context.Context, spec ServerSpec) (MCPClient, error) {
	if spec.URL != "" {
		c, err := client.NewStreamableHttpClient(spec.URL)
		if err != nil {
			return nil, err
		}
		if err := c.GetTransport().Start(ctx); err != nil {
			return nil, fmt.Errorf("start HTTP transport: %w", err)
		}
		return c, nil
	}
	if spec.Command == "" {
		return nil, errors.New("no command or URL")
	}
	return client.NewStdioMCPClientWithOptions(spec.Command, os.Environ(), spec.Args)
}

// Attach performs the MCP handshake on c, lists its tools and registers
// them as "<server>__<tool>". An existing connection with the same name is
// replaced.
func (m *MCPSources) Attach(ctx context.Context, server string, c MCPClient) (int, error) {
	_, err := c.Initialize(ctx, mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: "2025-06-18",
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "notechat",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("initialize %s: %w", server, err)
	}

	listed, err := c.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return 0, fmt.Errorf("list tools of %s: %w", server, err)
	}

	m.mu.Lock()
	if prev, ok := m.clients[server]; ok {
		m.reg.UnregisterSource(server)
		_ = prev.Close()
	}
	m.clients[server] = c
	m.mu.Unlock()

	for _, tool := range listed.Tools {
		remote := tool.Name
		def := tool
		def.Name = server + NameSeparator + unsafeName.ReplaceAllString(remote, "_")
		if err := m.reg.Register(server, def, remoteHandler(c, remote)); err != nil {
			return 0, err
		}
	}

	log.Info().
		Str("server", server).
		Int("tools", len(listed.Tools)).
		Msg("MCP server connected")
	return len(listed.Tools), nil
}

// Servers lists connected server names.
func (m *MCPSources) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}

// Close disconnects every server and removes its tools.
func (m *MCPSources) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, c := range m.clients {
		m.reg.UnregisterSource(name)
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(m.clients, name)
	}
	return errors.Join(errs...)
}

func remoteHandler(c MCPClient, name string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		res, err := c.CallTool(ctx, mcptypes.CallToolRequest{
			Params: mcptypes.CallToolParams{
				Name:      name,
				Arguments: args,
			},
		})
		if err != nil {
			return nil, err
		}
		text := resultText(res)
		if res.IsError {
			return nil, errors.New(text)
		}
		return text, nil
	}
}

// resultText flattens an MCP tool result. Text parts are joined by
// newlines, anything else is included as JSON.
func resultText(res *mcptypes.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		switch v := c.(type) {
		case mcptypes.TextContent:
			parts = append(parts, v.Text)
		case *mcptypes.TextContent:
			parts = append(parts, v.Text)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
