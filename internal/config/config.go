package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the notechat server.
type Config struct {
	Port        int              `yaml:"port"`
	Version     string           `yaml:"version"`
	DataDir     string           `yaml:"data_dir"`
	APIKeys     []string         `yaml:"api_keys"`
	CORSOrigins []string         `yaml:"cors_origins"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Providers   ProvidersConfig  `yaml:"providers"`
	Embeddings  EmbeddingsConfig `yaml:"embeddings"`
	Vectors     VectorsConfig    `yaml:"vectors"`
	Queue       QueueConfig      `yaml:"queue"`
	MCP         MCPConfig        `yaml:"mcp"`
	Sessions    SessionsConfig   `yaml:"sessions"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// PipelineConfig holds the pipeline-wide defaults.
type PipelineConfig struct {
	EnableStreaming       bool   `yaml:"enable_streaming"`
	EnableMetrics         bool   `yaml:"enable_metrics"`
	MaxToolCallIterations int    `yaml:"max_tool_call_iterations"`
	SystemPrompt          string `yaml:"system_prompt"`
	MaxContextResults     int    `yaml:"max_context_results"`
}

// ProvidersConfig configures the chat providers and their precedence.
type ProvidersConfig struct {
	Precedence []string       `yaml:"precedence"`
	OpenAI     ProviderConfig `yaml:"openai"`
	Anthropic  ProviderConfig `yaml:"anthropic"`
	Ollama     ProviderConfig `yaml:"ollama"`
}

// ProviderConfig is one chat provider. A provider without credentials
// (or without a base URL for ollama) is not registered.
type ProviderConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	LargeModel   string        `yaml:"large_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai, ollama, or empty to disable
	Model    string `yaml:"model"`
}

type VectorsConfig struct {
	Backend     string `yaml:"backend"` // embedded, qdrant, pgvector
	MaxVectors  int    `yaml:"max_vectors"`
	QdrantHost  string `yaml:"qdrant_host"`
	QdrantPort  int    `yaml:"qdrant_port"`
	Collection  string `yaml:"collection"`
	PostgresURL string `yaml:"postgres_url"`
}

type QueueConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Schedule       string  `yaml:"schedule"`
	BatchSize      int     `yaml:"batch_size"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	ChunkThreshold int     `yaml:"chunk_threshold"`
}

// SessionsConfig controls pruning of idle chat sessions.
type SessionsConfig struct {
	MaxIdle       time.Duration `yaml:"max_idle"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// MCPConfig lists external MCP servers whose tools are exposed to models.
// Entries are "name=command arg..." for stdio or "name=http(s)://..." for
// streamable HTTP servers.
type MCPConfig struct {
	Servers []string `yaml:"servers"`
}

// Load reads configuration from an optional YAML file (NOTECHAT_CONFIG)
// and then environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("NOTECHAT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:        8080,
		Version:     "0.1.0",
		DataDir:     defaultDataDir(),
		CORSOrigins: []string{"*"},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "notechat",
		},
		Pipeline: PipelineConfig{
			EnableStreaming:       true,
			EnableMetrics:         true,
			MaxToolCallIterations: 5,
			MaxContextResults:     5,
		},
		Providers: ProvidersConfig{
			Precedence: []string{"anthropic", "openai", "ollama"},
			OpenAI: ProviderConfig{
				BaseURL:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
				LargeModel:   "gpt-4o",
				Timeout:      120 * time.Second,
			},
			Anthropic: ProviderConfig{
				BaseURL:      "https://api.anthropic.com",
				DefaultModel: "claude-3-5-haiku-20241022",
				LargeModel:   "claude-sonnet-4-5-20250929",
				Timeout:      120 * time.Second,
			},
			Ollama: ProviderConfig{
				DefaultModel: "llama3.1",
				Timeout:      300 * time.Second,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider: "",
			Model:    "",
		},
		Vectors: VectorsConfig{
			Backend:    "embedded",
			MaxVectors: 50_000,
			QdrantHost: "localhost",
			QdrantPort: 6334,
			Collection: "notechat_notes",
		},
		Queue: QueueConfig{
			Enabled:        true,
			Schedule:       "@every 10s",
			BatchSize:      10,
			RatePerSecond:  5,
			ChunkThreshold: 5000,
		},
		Sessions: SessionsConfig{
			MaxIdle:       24 * time.Hour,
			PruneSchedule: "@every 10m",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("NOTECHAT_PORT", cfg.Port)
	cfg.Version = envStr("NOTECHAT_VERSION", cfg.Version)
	cfg.DataDir = envStr("NOTECHAT_DATA_DIR", cfg.DataDir)
	cfg.APIKeys = envList("NOTECHAT_API_KEYS", cfg.APIKeys)
	cfg.CORSOrigins = envList("NOTECHAT_CORS_ORIGINS", cfg.CORSOrigins)

	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)

	cfg.Pipeline.EnableStreaming = envBool("NOTECHAT_ENABLE_STREAMING", cfg.Pipeline.EnableStreaming)
	cfg.Pipeline.EnableMetrics = envBool("NOTECHAT_ENABLE_METRICS", cfg.Pipeline.EnableMetrics)
	cfg.Pipeline.MaxToolCallIterations = envInt("NOTECHAT_MAX_TOOL_ITERATIONS", cfg.Pipeline.MaxToolCallIterations)
	cfg.Pipeline.SystemPrompt = envStr("NOTECHAT_SYSTEM_PROMPT", cfg.Pipeline.SystemPrompt)
	cfg.Pipeline.MaxContextResults = envInt("NOTECHAT_MAX_CONTEXT_RESULTS", cfg.Pipeline.MaxContextResults)

	cfg.Providers.Precedence = envList("NOTECHAT_PROVIDER_PRECEDENCE", cfg.Providers.Precedence)
	cfg.Providers.OpenAI.BaseURL = envStr("OPENAI_BASE_URL", cfg.Providers.OpenAI.BaseURL)
	cfg.Providers.OpenAI.APIKey = envStr("OPENAI_API_KEY", cfg.Providers.OpenAI.APIKey)
	cfg.Providers.OpenAI.DefaultModel = envStr("OPENAI_MODEL", cfg.Providers.OpenAI.DefaultModel)
	cfg.Providers.Anthropic.BaseURL = envStr("ANTHROPIC_BASE_URL", cfg.Providers.Anthropic.BaseURL)
	cfg.Providers.Anthropic.APIKey = envStr("ANTHROPIC_API_KEY", cfg.Providers.Anthropic.APIKey)
	cfg.Providers.Anthropic.DefaultModel = envStr("ANTHROPIC_MODEL", cfg.Providers.Anthropic.DefaultModel)
	cfg.Providers.Ollama.BaseURL = envStr("OLLAMA_HOST", cfg.Providers.Ollama.BaseURL)
	cfg.Providers.Ollama.DefaultModel = envStr("OLLAMA_MODEL", cfg.Providers.Ollama.DefaultModel)

	cfg.Embeddings.Provider = envStr("NOTECHAT_EMBEDDING_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = envStr("NOTECHAT_EMBEDDING_MODEL", cfg.Embeddings.Model)

	cfg.Vectors.Backend = envStr("NOTECHAT_VECTOR_BACKEND", cfg.Vectors.Backend)
	cfg.Vectors.MaxVectors = envInt("NOTECHAT_MAX_VECTORS", cfg.Vectors.MaxVectors)
	cfg.Vectors.QdrantHost = envStr("QDRANT_HOST", cfg.Vectors.QdrantHost)
	cfg.Vectors.QdrantPort = envInt("QDRANT_PORT", cfg.Vectors.QdrantPort)
	cfg.Vectors.Collection = envStr("NOTECHAT_VECTOR_COLLECTION", cfg.Vectors.Collection)
	cfg.Vectors.PostgresURL = envStr("DATABASE_URL", cfg.Vectors.PostgresURL)

	cfg.Queue.Enabled = envBool("NOTECHAT_QUEUE_ENABLED", cfg.Queue.Enabled)
	cfg.Queue.Schedule = envStr("NOTECHAT_QUEUE_SCHEDULE", cfg.Queue.Schedule)
	cfg.Queue.BatchSize = envInt("NOTECHAT_QUEUE_BATCH_SIZE", cfg.Queue.BatchSize)

	cfg.Queue.RatePerSecond = envFloat("NOTECHAT_QUEUE_RATE", cfg.Queue.RatePerSecond)

	cfg.Sessions.MaxIdle = envDuration("NOTECHAT_SESSION_MAX_IDLE", cfg.Sessions.MaxIdle)

	cfg.MCP.Servers = envList("NOTECHAT_MCP_SERVERS", cfg.MCP.Servers)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".notechat"
	}
	return home + "/.notechat"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList reads a comma-separated list; MCP server entries use ";" since
// commands may contain commas.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	sep := ","
	if strings.Contains(v, ";") {
		sep = ";"
	}
	var out []string
	for _, part := range strings.Split(v, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
