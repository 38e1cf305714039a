// Package tokens counts prompt tokens with the cl100k_base encoding.
package tokens

import (
	"strings"
	"sync"

	"github.com/agentoven/notechat/pkg/models"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/rs/zerolog/log"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// messageOverhead approximates the per-message framing tokens chat APIs add.
const messageOverhead = 4

var (
	encoding    *tiktoken.Tiktoken
	encodingErr error
	once        sync.Once
)

func load() {
	once.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
		if encodingErr != nil {
			log.Warn().Err(encodingErr).Msg("Tokenizer unavailable, falling back to estimation")
		}
	})
}

// Count returns the number of tokens in text. When the encoding cannot be
// loaded it estimates four characters per token.
func Count(text string) int {
	if text == "" {
		return 0
	}
	load()
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// CountMessages returns the token count of a message list including
// per-message overhead and tool call arguments.
func CountMessages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Count(m.Content)
		for _, tc := range m.ToolCalls {
			total += Count(tc.Function.Name) + Count(tc.Function.Arguments)
		}
	}
	return total
}

// ContextWindow returns the approximate token budget of a model. Unknown
// models get a conservative default.
func ContextWindow(provider, model string) int {
	m := strings.ToLower(model)
	switch {
	case provider == "anthropic" || strings.HasPrefix(m, "claude"):
		return 200_000
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"), strings.HasPrefix(m, "gpt-4-turbo"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"), strings.HasPrefix(m, "gpt-5"):
		return 128_000
	case strings.HasPrefix(m, "gpt-3.5"):
		return 16_385
	case strings.HasPrefix(m, "gpt-4"):
		return 8_192
	case provider == "ollama":
		return 8_192
	default:
		return 16_000
	}
}
