package embeddings

import (
	"fmt"

	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// FromProviders derives the embedding driver from the configured chat
// providers, so no separate credentials are needed. An explicit
// cfg.Provider selects that provider; otherwise OpenAI is used when it has
// an API key, then Ollama when it has a base URL. A nil driver with a nil
// error means embeddings are unavailable and semantic search stays off.
func FromProviders(cfg config.EmbeddingsConfig, providers config.ProvidersConfig) (contracts.EmbeddingDriver, error) {
	kind := cfg.Provider
	if kind == "" {
		switch {
		case providers.OpenAI.APIKey != "":
			kind = "openai"
		case providers.Ollama.BaseURL != "":
			kind = "ollama"
		default:
			log.Warn().Msg("No embedding-capable provider configured, semantic search disabled")
			return nil, nil
		}
	}

	switch kind {
	case "openai":
		if providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai embeddings need OPENAI_API_KEY")
		}
		return NewOpenAIDriver(providers.OpenAI.APIKey, cfg.Model,
			WithOpenAIBaseURL(providers.OpenAI.BaseURL)), nil
	case "ollama":
		return NewOllamaDriver(providers.Ollama.BaseURL, cfg.Model)
	case "none", "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", kind)
	}
}
