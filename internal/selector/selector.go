// Package selector chooses the provider, model and capability flags for a
// chat turn. Select is a pure function of its inputs.
package selector

import (
	"strings"

	"github.com/agentoven/notechat/pkg/models"
)

// Fallback used when no configured provider is available.
const (
	FallbackProvider = "openai"
	FallbackModel    = "gpt-3.5-turbo"
)

// Content length thresholds (characters of conversation history).
const (
	MediumContentThreshold = 2000
	HighContentThreshold   = 5000
	longQueryThreshold     = 100
)

// Complexity is the estimated difficulty of a turn.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

var complexityTerms = []string{
	"explain", "analyze", "compare", "evaluate", "synthesize",
	"summarize", "elaborate", "investigate", "research", "debate",
}

// ProviderDefaults are the configured models of one available provider.
type ProviderDefaults struct {
	DefaultModel string
	LargeModel   string
}

// Config is the selector's view of configuration.
type Config struct {
	// Precedence lists providers in order of preference.
	Precedence []string
	// Available holds only providers that are registered and usable.
	Available     map[string]ProviderDefaults
	DefaultStream bool
}

// Input is what the orchestrator knows before the first stage.
type Input struct {
	Options       models.PipelineOptions
	Query         string
	ContentLength int
}

// Selection is the outcome of model selection.
type Selection struct {
	Provider    string     `json:"provider"`
	Model       string     `json:"model"`
	EnableTools bool       `json:"enable_tools"`
	Stream      bool       `json:"stream"`
	Complexity  Complexity `json:"complexity"`
	Explicit    bool       `json:"explicit"`
}

// Select picks provider, model and capability flags.
func Select(cfg Config, in Input) Selection {
	sel := Selection{
		Complexity: EstimateComplexity(in.Query, in.ContentLength),
		Stream:     cfg.DefaultStream,
	}
	if in.Options.Stream != nil {
		sel.Stream = *in.Options.Stream
	}

	if in.Options.Model != "" {
		sel.Explicit = true
		sel.Provider, sel.Model = ParseModelIdentifier(in.Options.Model)
		if sel.Provider == "" {
			sel.Provider, _ = preferredProvider(cfg)
		}
	} else {
		var defaults ProviderDefaults
		sel.Provider, defaults = preferredProvider(cfg)
		sel.Model = defaults.DefaultModel
		if sel.Complexity == ComplexityHigh && defaults.LargeModel != "" {
			sel.Model = defaults.LargeModel
		}
		if sel.Model == "" {
			sel.Provider, sel.Model = FallbackProvider, FallbackModel
		}
	}

	sel.EnableTools = in.Options.EnableTools == nil || *in.Options.EnableTools
	if sel.EnableTools && !SupportsTools(sel.Provider, sel.Model) {
		sel.EnableTools = false
	}
	return sel
}

// ParseModelIdentifier splits "provider:model". Only known provider names
// are treated as a prefix, so Ollama tags like "llama3:8b" stay intact.
func ParseModelIdentifier(id string) (provider, model string) {
	if i := strings.Index(id, ":"); i > 0 {
		switch p := strings.ToLower(id[:i]); p {
		case "openai", "anthropic", "ollama":
			return p, id[i+1:]
		}
	}
	return "", id
}

// EstimateComplexity classifies a turn from its query and total content length.
func EstimateComplexity(query string, contentLength int) Complexity {
	c := ComplexityLow
	if query != "" {
		lower := strings.ToLower(query)
		hasTerms := false
		for _, term := range complexityTerms {
			if strings.Contains(lower, term) {
				hasTerms = true
				break
			}
		}
		long := len(query) > longQueryThreshold
		multiple := strings.Count(query, "?") > 1

		switch {
		case (hasTerms && long) || multiple:
			c = ComplexityHigh
		case hasTerms || long:
			c = ComplexityMedium
		}
	}

	if contentLength > MediumContentThreshold {
		if contentLength > HighContentThreshold {
			c = ComplexityHigh
		} else if c == ComplexityLow {
			c = ComplexityMedium
		}
	}
	return c
}

func preferredProvider(cfg Config) (string, ProviderDefaults) {
	precedence := cfg.Precedence
	if len(precedence) == 0 {
		precedence = []string{"anthropic", "openai", "ollama"}
	}
	for _, p := range precedence {
		if d, ok := cfg.Available[p]; ok {
			return p, d
		}
	}
	return FallbackProvider, ProviderDefaults{DefaultModel: FallbackModel}
}

// ── Capabilities ────────────────────────────────────────────

var ollamaToolSupport = map[string]bool{
	"llama3.3":        true,
	"llama3.2":        true,
	"llama3.1":        true,
	"llama3-gradient": false,
	"command-r":       true,
	"qwen":            true,
	"mistral":         true,
	"nemotron":        true,
	"granite3":        true,
	"codellama":       false,
	"llama3":          false,
	"deepseek":        false,
	"phi":             false,
	"gemma":           false,
}

// Most specific prefixes first, so "llama3.2" is not read as "llama3".
var ollamaPrefixes = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"llama3-gradient",
	"command-r", "qwen", "mistral", "nemotron", "granite3",
	"codellama",
	"llama3",
	"deepseek", "phi", "gemma",
}

// SupportsTools reports whether a model can take tool definitions. Hosted
// providers always can; Ollama models are looked up by name prefix and
// unknown ones are assumed not to.
func SupportsTools(provider, model string) bool {
	if provider != "ollama" {
		return true
	}
	name := strings.ToLower(model)
	for _, prefix := range ollamaPrefixes {
		if strings.HasPrefix(name, prefix) {
			return ollamaToolSupport[prefix]
		}
	}
	return false
}
