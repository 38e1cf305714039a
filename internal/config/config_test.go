package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentoven/notechat/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NOTECHAT_CONFIG", "")
	t.Setenv("NOTECHAT_PORT", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5, cfg.Pipeline.MaxToolCallIterations)
	assert.True(t, cfg.Pipeline.EnableStreaming)
	assert.Equal(t, "embedded", cfg.Vectors.Backend)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.MaxIdle)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notechat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
pipeline:
  max_tool_call_iterations: 2
providers:
  precedence: [ollama, openai]
vectors:
  backend: qdrant
`), 0o600))

	t.Setenv("NOTECHAT_CONFIG", path)
	t.Setenv("NOTECHAT_PORT", "9100")
	t.Setenv("NOTECHAT_API_KEYS", "k1, k2")
	t.Setenv("NOTECHAT_MCP_SERVERS", "fs=npx -y server-fs /tmp,/var;web=https://mcp.example.com")
	t.Setenv("NOTECHAT_SESSION_MAX_IDLE", "90m")
	t.Setenv("OPENAI_MODEL", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "env wins over file")
	assert.Equal(t, 2, cfg.Pipeline.MaxToolCallIterations)
	assert.Equal(t, []string{"ollama", "openai"}, cfg.Providers.Precedence)
	assert.Equal(t, "qdrant", cfg.Vectors.Backend)
	assert.Equal(t, []string{"k1", "k2"}, cfg.APIKeys)
	assert.Equal(t, []string{"fs=npx -y server-fs /tmp,/var", "web=https://mcp.example.com"}, cfg.MCP.Servers)
	assert.Equal(t, 90*time.Minute, cfg.Sessions.MaxIdle)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers.OpenAI.DefaultModel, "unset keys keep defaults")
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("NOTECHAT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := config.Load()
	assert.Error(t, err)
}
