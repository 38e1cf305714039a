package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicDriver talks to the Anthropic Messages API.
type AnthropicDriver struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicDriver creates a driver from provider settings.
func NewAnthropicDriver(cfg config.ProviderConfig) *AnthropicDriver {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = string(anthropic.ModelClaude3_5Haiku20241022)
	}
	return &AnthropicDriver{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}
}

func (d *AnthropicDriver) Kind() string { return "anthropic" }

func (d *AnthropicDriver) SupportsExecutionStatusFeedback() bool { return false }

// HealthCheck sends a one-token request; the API has no ping endpoint.
func (d *AnthropicDriver) HealthCheck(ctx context.Context) error {
	_, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(d.defaultModel),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return fmt.Errorf("anthropic ping: %w", err)
	}
	return nil
}

func (d *AnthropicDriver) Complete(ctx context.Context, req *models.CompletionRequest) (*models.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = d.defaultModel
	}

	msgs, system := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: anthropicDefaultMaxTokens,
		Tools:     toAnthropicTools(req.Tools),
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	if req.Stream {
		s := &anthropicStream{stream: d.client.Messages.NewStreaming(ctx, params)}
		return &models.ChatResponse{
			Model:            model,
			Provider:         d.Kind(),
			Stream:           s,
			PendingToolCalls: s.toolCalls,
		}, nil
	}

	msg, err := d.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	text, calls := splitAnthropicContent(msg.Content)
	return &models.ChatResponse{
		ID:        msg.ID,
		Text:      text,
		Model:     string(msg.Model),
		Provider:  d.Kind(),
		ToolCalls: calls,
		Usage: models.TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}, nil
}

func splitAnthropicContent(content []anthropic.ContentBlockUnion) (string, []models.ToolCall) {
	var text string
	var calls []models.ToolCall
	for _, block := range content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		case anthropic.ToolUseBlock:
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, models.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: models.ToolCallFunction{
					Name:      b.Name,
					Arguments: args,
				},
			})
		}
	}
	return text, calls
}

// anthropicStream yields text deltas while accumulating the full message,
// whose tool_use blocks become the pending tool calls.
type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	msg    anthropic.Message
	cur    models.StreamDelta
	err    error
	done   bool
}

func (s *anthropicStream) Next() bool {
	for !s.done {
		if !s.stream.Next() {
			s.done = true
			return false
		}
		event := s.stream.Current()
		if err := s.msg.Accumulate(event); err != nil {
			s.err = fmt.Errorf("accumulate message: %w", err)
			s.done = true
			return false
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				s.cur = models.StreamDelta{Text: delta.Text}
				return true
			}
		}
	}
	return false
}

func (s *anthropicStream) Current() models.StreamDelta { return s.cur }

func (s *anthropicStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.stream.Err()
}

func (s *anthropicStream) Close() error { return s.stream.Close() }

func (s *anthropicStream) toolCalls() ([]models.ToolCall, error) {
	if !s.done {
		return nil, errStreamNotDrained
	}
	_, calls := splitAnthropicContent(s.msg.Content)
	return calls, nil
}
