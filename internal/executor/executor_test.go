package executor_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/notechat/internal/executor"
	"github.com/agentoven/notechat/pkg/models"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// fakeRegistry dispatches to func fields keyed by tool name.
type fakeRegistry struct {
	tools map[string]func(ctx context.Context, args map[string]any) (any, error)
}

func (r *fakeRegistry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := r.tools[name]
	if !ok {
		return nil, errors.New("unknown tool " + name)
	}
	return fn(ctx, args)
}
func (r *fakeRegistry) Definitions() []mcptypes.Tool { return nil }
func (r *fakeRegistry) Count() int                   { return len(r.tools) }

type countingRecorder struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (c *countingRecorder) RecordToolCall(ctx context.Context, tool string, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if failed {
		c.failed++
	} else {
		c.ok++
	}
}

func call(id, name, args string) models.ToolCall {
	return models.ToolCall{ID: id, Type: "function", Function: models.ToolCallFunction{Name: name, Arguments: args}}
}

func TestExecuteAll_OrderAndEvents(t *testing.T) {
	reg := &fakeRegistry{tools: map[string]func(context.Context, map[string]any) (any, error){
		"slow": func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(20 * time.Millisecond)
			return "slow done", nil
		},
		"fast": func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"n": 1}, nil
		},
		"broken": func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("disk on fire")
		},
	}}
	rec := &countingRecorder{}
	ex := executor.New(reg, executor.WithRecorder(rec))

	var starts []string
	results, err := ex.ExecuteAll(context.Background(), []models.ToolCall{
		call("1", "slow", `{}`),
		call("2", "fast", `{"q":"x"}`),
		call("3", "broken", ``),
	}, func(ev models.ToolExecutionEvent) {
		if ev.Action != models.ToolActionStart {
			t.Errorf("onStart action = %s, want start", ev.Action)
		}
		starts = append(starts, ev.ToolCallID)
	})
	if err != nil {
		t.Fatalf("ExecuteAll() error = %v", err)
	}

	if !reflect.DeepEqual(starts, []string{"1", "2", "3"}) {
		t.Errorf("start order = %v, want [1 2 3]", starts)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, id := range []string{"1", "2", "3"} {
		if results[i].ToolCallID != id {
			t.Errorf("results[%d].ToolCallID = %q, want %q", i, results[i].ToolCallID, id)
		}
	}
	if results[0].Content != "slow done" {
		t.Errorf("results[0].Content = %q, want %q", results[0].Content, "slow done")
	}
	if results[1].Content != "{\n  \"n\": 1\n}" {
		t.Errorf("results[1].Content = %q, want indented JSON", results[1].Content)
	}
	if !results[2].IsError || results[2].Content != "Error: disk on fire" {
		t.Errorf("results[2] = %+v, want error result", results[2])
	}

	ev := results[2].Event()
	if ev.Action != models.ToolActionError || ev.Error != "disk on fire" {
		t.Errorf("Event() = %+v, want error event", ev)
	}
	msg := results[1].Message()
	if msg.Role != models.RoleTool || msg.ToolCallID != "2" {
		t.Errorf("Message() = %+v, want tool message answering 2", msg)
	}
	if rec.ok != 2 || rec.failed != 1 {
		t.Errorf("recorder ok=%d failed=%d, want 2/1", rec.ok, rec.failed)
	}
}

func TestExecuteAll_PanicFailsBatch(t *testing.T) {
	reg := &fakeRegistry{tools: map[string]func(context.Context, map[string]any) (any, error){
		"bad": func(ctx context.Context, args map[string]any) (any, error) { panic("nil map") },
	}}
	ex := executor.New(reg)

	if _, err := ex.ExecuteAll(context.Background(), []models.ToolCall{call("1", "bad", "{}")}, nil); err == nil {
		t.Fatal("ExecuteAll() with panicking tool should fail")
	}
}

func TestExecuteAll_Cancelled(t *testing.T) {
	reg := &fakeRegistry{tools: map[string]func(context.Context, map[string]any) (any, error){
		"wait": func(ctx context.Context, args map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	ex := executor.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := ex.ExecuteAll(ctx, []models.ToolCall{call("1", "wait", "{}")}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ExecuteAll() error = %v, want context.Canceled", err)
	}
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"empty", "", map[string]any{}},
		{"json", `{"query":"go"}`, map[string]any{"query": "go"}},
		{"bare keys", `{query: "go"}`, map[string]any{"query": "go"}},
		{"single quoted keys", `{'query': "go"}`, map[string]any{"query": "go"}},
		{"escaped and quoted", `"{\"query\":\"go\"}"`, map[string]any{"query": "go"}},
		{"plain text", `find my notes`, map[string]any{"text": "find my notes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := executor.ParseArguments(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseArguments(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFormatResult(t *testing.T) {
	if got := executor.FormatResult(nil); got != "" {
		t.Errorf("FormatResult(nil) = %q, want empty", got)
	}
	if got := executor.FormatResult("plain"); got != "plain" {
		t.Errorf("FormatResult(string) = %q, want plain", got)
	}
	if got := executor.FormatResult([]int{1, 2}); got != "[\n  1,\n  2\n]" {
		t.Errorf("FormatResult(slice) = %q, want indented JSON", got)
	}
}
