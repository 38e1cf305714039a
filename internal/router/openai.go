package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

var errStreamNotDrained = errors.New("tool calls requested before the stream was drained")

// OpenAIDriver talks to OpenAI and OpenAI-compatible endpoints.
type OpenAIDriver struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIDriver creates a driver from provider settings.
func NewOpenAIDriver(cfg config.ProviderConfig) *OpenAIDriver {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return &OpenAIDriver{
		client:       openai.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}
}

func (d *OpenAIDriver) Kind() string { return "openai" }

func (d *OpenAIDriver) SupportsExecutionStatusFeedback() bool { return false }

func (d *OpenAIDriver) HealthCheck(ctx context.Context) error {
	if _, err := d.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}

func (d *OpenAIDriver) Complete(ctx context.Context, req *models.CompletionRequest) (*models.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = d.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Messages: toOpenAIMessages(req.Messages),
		Model:    openai.ChatModel(model),
		Tools:    toOpenAITools(req.Tools),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.Stream {
		s := &openAIStream{stream: d.client.Chat.Completions.NewStreaming(ctx, params)}
		return &models.ChatResponse{
			Model:            model,
			Provider:         d.Kind(),
			Stream:           s,
			PendingToolCalls: s.toolCalls,
		}, nil
	}

	completion, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	msg := completion.Choices[0].Message
	resp := &models.ChatResponse{
		ID:       completion.ID,
		Text:     msg.Content,
		Model:    completion.Model,
		Provider: d.Kind(),
		Usage: models.TokenUsage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: models.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp, nil
}

// openAIStream yields content deltas and collects tool calls as the
// accumulator finishes them.
type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	acc    openai.ChatCompletionAccumulator
	cur    models.StreamDelta
	calls  []models.ToolCall
	done   bool
}

func (s *openAIStream) Next() bool {
	for !s.done {
		if !s.stream.Next() {
			s.done = true
			// The accumulator holds the authoritative list once drained.
			if len(s.acc.Choices) > 0 && len(s.acc.Choices[0].Message.ToolCalls) > len(s.calls) {
				s.calls = s.calls[:0]
				for _, tc := range s.acc.Choices[0].Message.ToolCalls {
					s.calls = append(s.calls, models.ToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: models.ToolCallFunction{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					})
				}
			}
			return false
		}
		chunk := s.stream.Current()
		s.acc.AddChunk(chunk)
		s.collectFinished()

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			s.cur = models.StreamDelta{Text: chunk.Choices[0].Delta.Content}
			return true
		}
	}
	return false
}

func (s *openAIStream) collectFinished() {
	if tool, ok := s.acc.JustFinishedToolCall(); ok {
		s.calls = append(s.calls, models.ToolCall{
			ID:   tool.ID,
			Type: "function",
			Function: models.ToolCallFunction{
				Name:      tool.Name,
				Arguments: tool.Arguments,
			},
		})
	}
}

func (s *openAIStream) Current() models.StreamDelta { return s.cur }

func (s *openAIStream) Err() error { return s.stream.Err() }

func (s *openAIStream) Close() error { return s.stream.Close() }

func (s *openAIStream) toolCalls() ([]models.ToolCall, error) {
	if !s.done {
		return nil, errStreamNotDrained
	}
	return s.calls, nil
}
