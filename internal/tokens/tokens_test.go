package tokens_test

import (
	"testing"

	"github.com/agentoven/notechat/internal/tokens"
	"github.com/agentoven/notechat/pkg/models"
)

func TestCount_Empty(t *testing.T) {
	if got := tokens.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func TestCount_GrowsWithText(t *testing.T) {
	short := tokens.Count("hello")
	long := tokens.Count("hello there, this is a considerably longer sentence about notes")
	if short <= 0 {
		t.Fatalf("Count(short) = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("Count(long) = %d, want > %d", long, short)
	}
}

func TestCountMessages_IncludesOverhead(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: ""},
		{Role: models.RoleAssistant, Content: ""},
	}
	if got := tokens.CountMessages(msgs); got != 8 {
		t.Errorf("CountMessages() = %d, want 8", got)
	}
}

func TestContextWindow(t *testing.T) {
	tests := []struct {
		provider, model string
		want            int
	}{
		{"anthropic", "claude-3-5-haiku-20241022", 200_000},
		{"openai", "gpt-4o-mini", 128_000},
		{"openai", "gpt-3.5-turbo", 16_385},
		{"openai", "gpt-4", 8_192},
		{"ollama", "llama3.1", 8_192},
		{"custom", "mystery", 16_000},
	}
	for _, tt := range tests {
		if got := tokens.ContextWindow(tt.provider, tt.model); got != tt.want {
			t.Errorf("ContextWindow(%q, %q) = %d, want %d", tt.provider, tt.model, got, tt.want)
		}
	}
}
