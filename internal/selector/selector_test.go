package selector_test

import (
	"strings"
	"testing"

	"github.com/agentoven/notechat/internal/selector"
	"github.com/agentoven/notechat/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func testConfig() selector.Config {
	return selector.Config{
		Precedence: []string{"anthropic", "openai", "ollama"},
		Available: map[string]selector.ProviderDefaults{
			"openai": {DefaultModel: "gpt-4o-mini", LargeModel: "gpt-4o"},
			"ollama": {DefaultModel: "llama3.1"},
		},
		DefaultStream: true,
	}
}

func TestSelect_PrecedenceSkipsUnavailable(t *testing.T) {
	sel := selector.Select(testConfig(), selector.Input{Query: "hi"})
	if sel.Provider != "openai" || sel.Model != "gpt-4o-mini" {
		t.Errorf("Select() = %s/%s, want openai/gpt-4o-mini", sel.Provider, sel.Model)
	}
	if !sel.EnableTools {
		t.Error("EnableTools = false, want true by default")
	}
	if !sel.Stream {
		t.Error("Stream = false, want config default true")
	}
}

func TestSelect_ExplicitProviderModel(t *testing.T) {
	sel := selector.Select(testConfig(), selector.Input{
		Options: models.PipelineOptions{Model: "anthropic:claude-3-5-haiku-20241022"},
	})
	if sel.Provider != "anthropic" || sel.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("Select() = %s/%s, want anthropic/claude-3-5-haiku-20241022", sel.Provider, sel.Model)
	}
	if !sel.Explicit {
		t.Error("Explicit = false, want true")
	}
}

func TestSelect_ExplicitModelOnlyUsesPreferredProvider(t *testing.T) {
	sel := selector.Select(testConfig(), selector.Input{
		Options: models.PipelineOptions{Model: "gpt-4.1"},
	})
	if sel.Provider != "openai" || sel.Model != "gpt-4.1" {
		t.Errorf("Select() = %s/%s, want openai/gpt-4.1", sel.Provider, sel.Model)
	}
}

func TestSelect_HighComplexityUsesLargeModel(t *testing.T) {
	sel := selector.Select(testConfig(), selector.Input{Query: "Why? How?"})
	if sel.Complexity != selector.ComplexityHigh {
		t.Fatalf("Complexity = %s, want high", sel.Complexity)
	}
	if sel.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", sel.Model)
	}
}

func TestSelect_NoProvidersFallsBack(t *testing.T) {
	sel := selector.Select(selector.Config{}, selector.Input{Query: "hello"})
	if sel.Provider != selector.FallbackProvider || sel.Model != selector.FallbackModel {
		t.Errorf("Select() = %s/%s, want %s/%s", sel.Provider, sel.Model, selector.FallbackProvider, selector.FallbackModel)
	}
}

func TestSelect_ToolsAndStreamOverrides(t *testing.T) {
	sel := selector.Select(testConfig(), selector.Input{
		Options: models.PipelineOptions{EnableTools: boolPtr(false), Stream: boolPtr(false)},
	})
	if sel.EnableTools {
		t.Error("EnableTools = true, want false when disabled by option")
	}
	if sel.Stream {
		t.Error("Stream = true, want false when disabled by option")
	}
}

func TestSelect_OllamaModelWithoutToolSupport(t *testing.T) {
	sel := selector.Select(testConfig(), selector.Input{
		Options: models.PipelineOptions{Model: "ollama:gemma2:9b"},
	})
	if sel.Provider != "ollama" || sel.Model != "gemma2:9b" {
		t.Fatalf("Select() = %s/%s, want ollama/gemma2:9b", sel.Provider, sel.Model)
	}
	if sel.EnableTools {
		t.Error("EnableTools = true, want false for gemma")
	}
}

func TestParseModelIdentifier(t *testing.T) {
	tests := []struct {
		in, provider, model string
	}{
		{"openai:gpt-4o", "openai", "gpt-4o"},
		{"llama3:8b", "", "llama3:8b"},
		{"gpt-4o", "", "gpt-4o"},
		{"Ollama:qwen2.5", "ollama", "qwen2.5"},
	}
	for _, tt := range tests {
		p, m := selector.ParseModelIdentifier(tt.in)
		if p != tt.provider || m != tt.model {
			t.Errorf("ParseModelIdentifier(%q) = (%q, %q), want (%q, %q)", tt.in, p, m, tt.provider, tt.model)
		}
	}
}

func TestEstimateComplexity(t *testing.T) {
	long := strings.Repeat("word ", 30)
	tests := []struct {
		name    string
		query   string
		content int
		want    selector.Complexity
	}{
		{"short plain", "what is X", 0, selector.ComplexityLow},
		{"term only", "explain X", 0, selector.ComplexityMedium},
		{"long only", long, 0, selector.ComplexityMedium},
		{"term and long", "please explain " + long, 0, selector.ComplexityHigh},
		{"two questions", "what? why?", 0, selector.ComplexityHigh},
		{"medium content", "hi", 2500, selector.ComplexityMedium},
		{"large content", "hi", 6000, selector.ComplexityHigh},
		{"medium content keeps high", "a? b?", 2500, selector.ComplexityHigh},
		{"boundary content", "hi", 2000, selector.ComplexityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selector.EstimateComplexity(tt.query, tt.content); got != tt.want {
				t.Errorf("EstimateComplexity() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSupportsTools(t *testing.T) {
	tests := []struct {
		provider, model string
		want            bool
	}{
		{"openai", "gpt-4o", true},
		{"anthropic", "claude-3-5-haiku-20241022", true},
		{"ollama", "llama3.2:3b", true},
		{"ollama", "llama3:8b", false},
		{"ollama", "llama3-gradient", false},
		{"ollama", "qwen2.5", true},
		{"ollama", "unknown-model", false},
	}
	for _, tt := range tests {
		if got := selector.SupportsTools(tt.provider, tt.model); got != tt.want {
			t.Errorf("SupportsTools(%q, %q) = %v, want %v", tt.provider, tt.model, got, tt.want)
		}
	}
}
