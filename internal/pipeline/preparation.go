package pipeline

import (
	"strings"

	"github.com/agentoven/notechat/internal/tokens"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultSystemPrompt is used when neither the history nor the call
// options provide one.
const DefaultSystemPrompt = "You are an intelligent AI assistant for a personal knowledge base. " +
	"Help the user with their notes, knowledge management, and questions. " +
	"When referencing their notes, be clear about which note you're referring to. " +
	"Be concise but thorough in your responses."

// responseReserve is the token budget kept free for the answer when the
// caller sets no max tokens.
const responseReserve = 1024

// Preparer assembles the message list sent to a provider.
type Preparer struct {
	systemPrompt string
	// window returns the context window in tokens of a model.
	window func(provider, model string) int
}

// NewPreparer creates a preparer. An empty systemPrompt selects
// DefaultSystemPrompt.
func NewPreparer(systemPrompt string) *Preparer {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Preparer{systemPrompt: systemPrompt, window: tokens.ContextWindow}
}

// PrepareInput is what Prepare works on.
type PrepareInput struct {
	History      []models.Message
	Context      string
	Provider     string
	Model        string
	SystemPrompt string // per-call override
	MaxTokens    int
}

// Prepare returns a new message list. The history is never modified.
//
// A system prompt is added only when the history has none. Context goes
// into the system message, except for ollama where it is put in front of
// the first user message. For anthropic every system message is merged
// into one leading message. Finally the oldest turns are dropped until the
// list fits the model's token budget.
func (p *Preparer) Prepare(in PrepareInput) []models.Message {
	msgs := make([]models.Message, 0, len(in.History)+1)
	for _, m := range in.History {
		m.ToolCalls = append([]models.ToolCall(nil), m.ToolCalls...)
		msgs = append(msgs, m)
	}

	if !hasSystem(msgs) {
		prompt := in.SystemPrompt
		if prompt == "" {
			prompt = p.systemPrompt
		}
		msgs = append([]models.Message{{Role: models.RoleSystem, Content: prompt}}, msgs...)
	}

	if in.Context != "" {
		msgs = injectContext(msgs, in.Context, in.Provider)
	}
	if in.Provider == "anthropic" {
		msgs = mergeSystemMessages(msgs)
	}

	reserve := in.MaxTokens
	if reserve <= 0 {
		reserve = responseReserve
	}
	return trimHistory(msgs, p.window(in.Provider, in.Model)-reserve)
}

func hasSystem(msgs []models.Message) bool {
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			return true
		}
	}
	return false
}

func injectContext(msgs []models.Message, ctxText, provider string) []models.Message {
	if provider == "ollama" {
		for i := range msgs {
			if msgs[i].Role == models.RoleUser {
				msgs[i].Content = ctxText + "\n\n" + msgs[i].Content
				return msgs
			}
		}
	}
	for i := range msgs {
		if msgs[i].Role == models.RoleSystem {
			msgs[i].Content += "\n\nContext:\n" + ctxText
			return msgs
		}
	}
	return append([]models.Message{{Role: models.RoleSystem, Content: "Context:\n" + ctxText}}, msgs...)
}

func mergeSystemMessages(msgs []models.Message) []models.Message {
	var system []string
	rest := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	if len(system) == 0 {
		return rest
	}
	return append([]models.Message{{Role: models.RoleSystem, Content: strings.Join(system, "\n\n")}}, rest...)
}

// trimHistory drops the oldest non-system messages until msgs fits budget
// tokens. The last message is always kept, and an assistant message is
// dropped together with the tool results answering it.
func trimHistory(msgs []models.Message, budget int) []models.Message {
	if budget <= 0 || tokens.CountMessages(msgs) <= budget {
		return msgs
	}

	dropped := 0
	for tokens.CountMessages(msgs) > budget {
		i := firstDroppable(msgs)
		if i < 0 {
			break
		}
		// Tool results following the dropped message would be orphaned.
		end := i + 1
		for end < len(msgs)-1 && msgs[end].Role == models.RoleTool {
			end++
		}
		dropped += end - i
		msgs = append(msgs[:i], msgs[end:]...)
	}

	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Int("budget", budget).Msg("History trimmed to token budget")
	}
	return msgs
}

func firstDroppable(msgs []models.Message) int {
	for i := 0; i < len(msgs)-1; i++ {
		if msgs[i].Role != models.RoleSystem {
			return i
		}
	}
	return -1
}
