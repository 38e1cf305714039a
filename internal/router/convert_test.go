package router

import (
	"testing"

	"github.com/agentoven/notechat/pkg/models"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
)

func TestToAnthropicMessages_GroupsToolResults(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "find notes"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "a", Function: models.ToolCallFunction{Name: "search_notes", Arguments: `{"query":"x"}`}},
			{ID: "b", Function: models.ToolCallFunction{Name: "read_note", Arguments: `not json`}},
		}},
		{Role: models.RoleTool, ToolCallID: "a", Content: "r1"},
		{Role: models.RoleTool, ToolCallID: "b", Content: "r2"},
	}

	out, system := toAnthropicMessages(msgs)
	if len(system) != 1 || system[0].Text != "be brief" {
		t.Fatalf("system = %+v, want one block", system)
	}
	if len(out) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(out))
	}
	if out[1].Role != anthropic.MessageParamRoleAssistant || len(out[1].Content) != 2 {
		t.Errorf("assistant turn = %+v, want two tool_use blocks", out[1])
	}
	last := out[2]
	if last.Role != anthropic.MessageParamRoleUser || len(last.Content) != 2 {
		t.Fatalf("tool result turn = %+v, want one user turn with two blocks", last)
	}
	for i, block := range last.Content {
		if block.OfToolResult == nil {
			t.Errorf("block %d is not a tool_result", i)
		}
	}
}

func TestRawArguments(t *testing.T) {
	tests := map[string]string{
		"":            "{}",
		`{"a":1}`:     `{"a":1}`,
		"plain words": `{"text":"plain words"}`,
	}
	for in, want := range tests {
		if got := string(rawArguments(in)); got != want {
			t.Errorf("rawArguments(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFromOllamaToolCalls(t *testing.T) {
	calls := fromOllamaToolCalls([]api.ToolCall{
		{Function: api.ToolCallFunction{Name: "search_notes", Arguments: map[string]any{"query": "go"}}},
	})
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	if calls[0].ID != "" {
		t.Errorf("ID = %q, want empty for the loop to repair", calls[0].ID)
	}
	if calls[0].Function.Arguments != `{"query":"go"}` {
		t.Errorf("Arguments = %s, want {\"query\":\"go\"}", calls[0].Function.Arguments)
	}
}

func TestToOllamaTools_PropertyTypes(t *testing.T) {
	tools := toOllamaTools(nil)
	if tools != nil {
		t.Errorf("toOllamaTools(nil) = %v, want nil", tools)
	}
	prop := toOllamaProperty(map[string]any{"type": "string", "description": "query text"})
	if len(prop.Type) != 1 || prop.Type[0] != "string" || prop.Description != "query text" {
		t.Errorf("toOllamaProperty() = %+v", prop)
	}
}
