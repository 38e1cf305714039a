package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/agentoven/notechat/pkg/models"
)

func TestProcessText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		show bool
		want string
	}{
		{"plain", "  hello  ", false, "hello"},
		{"reasoning removed", "<think>step 1\nstep 2</think>\nAnswer", false, "Answer"},
		{"reasoning kept", "<think>x</think>Answer", true, "<think>x</think>Answer"},
		{"unterminated", "Answer<think>still going", false, "Answer"},
		{"blank lines", "a\r\n\r\n\r\n\r\nb", false, "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProcessText(tt.in, tt.show); got != tt.want {
				t.Errorf("ProcessText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestThinkFilter_SplitTags(t *testing.T) {
	var f thinkFilter
	var out strings.Builder
	for _, d := range []string{"Hi <th", "ink>secret</thi", "nk> there", " <"} {
		out.WriteString(f.Push(d))
	}
	out.WriteString(f.Flush())

	if got := out.String(); got != "Hi  there <" {
		t.Errorf("filtered = %q, want %q", got, "Hi  there <")
	}
}

func TestThinkFilter_UnterminatedHidesRest(t *testing.T) {
	var f thinkFilter
	got := f.Push("ok<think>never closed") + f.Flush()
	if got != "ok" {
		t.Errorf("filtered = %q, want %q", got, "ok")
	}
}

func TestResolveToolCalls(t *testing.T) {
	direct := []models.ToolCall{{ID: "a", Function: models.ToolCallFunction{Name: "x"}}}

	t.Run("lazy result wins", func(t *testing.T) {
		resp := &models.ChatResponse{
			ToolCalls: direct,
			PendingToolCalls: func() ([]models.ToolCall, error) {
				return []models.ToolCall{{ID: "b", Function: models.ToolCallFunction{Name: "y"}}}, nil
			},
		}
		snap, calls := resolveToolCalls(resp)
		if len(calls) != 1 || calls[0].ID != "b" {
			t.Fatalf("calls = %+v, want lazy call b", calls)
		}
		if snap.PendingToolCalls != nil || snap.ToolCalls[0].ID != "b" {
			t.Error("snapshot should carry resolved calls only")
		}
		if resp.PendingToolCalls == nil {
			t.Error("input response was modified")
		}
	})

	t.Run("lazy error falls back", func(t *testing.T) {
		resp := &models.ChatResponse{
			ToolCalls:        direct,
			PendingToolCalls: func() ([]models.ToolCall, error) { return nil, errors.New("not drained") },
		}
		_, calls := resolveToolCalls(resp)
		if len(calls) != 1 || calls[0].ID != "a" {
			t.Errorf("calls = %+v, want direct call a", calls)
		}
	})

	t.Run("missing ids filled", func(t *testing.T) {
		resp := &models.ChatResponse{ToolCalls: []models.ToolCall{{Function: models.ToolCallFunction{Name: "x"}}}}
		_, calls := resolveToolCalls(resp)
		if !strings.HasPrefix(calls[0].ID, "call_") || calls[0].Type != "function" {
			t.Errorf("call = %+v, want synthetic id and function type", calls[0])
		}
		if resp.ToolCalls[0].ID != "" {
			t.Error("input calls were modified")
		}
	})
}

func TestRepairToolMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Function: models.ToolCallFunction{Name: "read_note"}},
			{ID: "c2", Function: models.ToolCallFunction{Name: "search_notes"}},
		}},
		{Role: models.RoleTool, Name: "search_notes", Content: "hits"},
		{Role: models.RoleTool, Name: "read_note"},
		{Role: models.RoleTool, Name: "list_notes", Content: "extra"},
	}
	out := repairToolMessages(msgs)

	if out[2].ToolCallID != "c2" {
		t.Errorf("search_notes id = %q, want c2", out[2].ToolCallID)
	}
	if out[3].ToolCallID != "c1" || out[3].Content != emptyToolResult {
		t.Errorf("read_note message = %+v, want c1 with placeholder content", out[3])
	}
	if !strings.HasPrefix(out[4].ToolCallID, "call_") {
		t.Errorf("unmatched id = %q, want synthetic", out[4].ToolCallID)
	}
	if msgs[2].ToolCallID != "" {
		t.Error("input messages were modified")
	}
}

func TestPrepare(t *testing.T) {
	p := NewPreparer("base prompt")
	history := []models.Message{{Role: models.RoleUser, Content: "question"}}

	t.Run("system prompt with context", func(t *testing.T) {
		out := p.Prepare(PrepareInput{History: history, Context: "CTX", Provider: "openai", Model: "gpt-4o"})
		if len(out) != 2 || out[0].Content != "base prompt\n\nContext:\nCTX" {
			t.Errorf("messages = %+v", out)
		}
		if len(history) != 1 || history[0].Content != "question" {
			t.Error("history was modified")
		}
	})

	t.Run("ollama context in user message", func(t *testing.T) {
		out := p.Prepare(PrepareInput{History: history, Context: "CTX", Provider: "ollama", Model: "llama3.1"})
		if out[0].Content != "base prompt" || out[1].Content != "CTX\n\nquestion" {
			t.Errorf("messages = %+v", out)
		}
	})

	t.Run("existing system prompt kept", func(t *testing.T) {
		h := []models.Message{{Role: models.RoleSystem, Content: "mine"}, {Role: models.RoleUser, Content: "q"}}
		out := p.Prepare(PrepareInput{History: h, Provider: "openai", Model: "gpt-4o"})
		if len(out) != 2 || out[0].Content != "mine" {
			t.Errorf("messages = %+v", out)
		}
	})

	t.Run("anthropic merges system messages", func(t *testing.T) {
		h := []models.Message{
			{Role: models.RoleSystem, Content: "one"},
			{Role: models.RoleUser, Content: "q"},
			{Role: models.RoleSystem, Content: "two"},
		}
		out := p.Prepare(PrepareInput{History: h, Provider: "anthropic", Model: "claude-3-5-sonnet"})
		if len(out) != 2 || out[0].Content != "one\n\ntwo" || out[1].Role != models.RoleUser {
			t.Errorf("messages = %+v", out)
		}
	})
}

func TestPrepare_TrimsOldestTurns(t *testing.T) {
	p := &Preparer{systemPrompt: "sys", window: func(string, string) int { return responseReserve + 1 }}
	history := []models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("old question ", 50)},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Function: models.ToolCallFunction{Name: "x"}}}},
		{Role: models.RoleTool, ToolCallID: "c1", Content: "result"},
		{Role: models.RoleUser, Content: "latest"},
	}
	out := p.Prepare(PrepareInput{History: history, Provider: "openai", Model: "gpt-4o"})

	if len(out) != 2 || out[0].Role != models.RoleSystem || out[1].Content != "latest" {
		t.Errorf("messages = %+v, want system prompt and latest turn", out)
	}
}

func TestLineFilter_SplitLineBreaks(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
	}{
		{"blank lines split", []string{"a\n\n", "\n\nb"}},
		{"crlf split", []string{"b\r", "\nc"}},
		{"mixed", []string{"a\n\n", "\n\nb\r", "\nc"}},
		{"trailing cr", []string{"x\r"}},
		{"newline only deltas", []string{"a", "\n", "\n", "\n", "b\r\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f lineFilter
			var out strings.Builder
			for _, d := range tt.deltas {
				out.WriteString(f.Push(d))
			}
			out.WriteString(f.Flush())

			want := normalizeLines(strings.Join(tt.deltas, ""))
			if got := out.String(); got != want {
				t.Errorf("streamed = %q, want %q", got, want)
			}
		})
	}
}
