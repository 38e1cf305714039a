package router

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/ollama/ollama/api"
)

// OllamaDriver talks to a local or remote Ollama server.
//
// Ollama does not assign tool call IDs; the tool loop synthesizes them.
type OllamaDriver struct {
	client       *api.Client
	defaultModel string
}

// NewOllamaDriver creates a driver from provider settings.
func NewOllamaDriver(cfg config.ProviderConfig) (*OllamaDriver, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	httpClient := http.DefaultClient
	if cfg.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "llama3.1"
	}
	return &OllamaDriver{
		client:       api.NewClient(parsed, httpClient),
		defaultModel: model,
	}, nil
}

func (d *OllamaDriver) Kind() string { return "ollama" }

// SupportsExecutionStatusFeedback is true: small local models follow up
// on tool results more reliably with an explicit status summary.
func (d *OllamaDriver) SupportsExecutionStatusFeedback() bool { return true }

func (d *OllamaDriver) HealthCheck(ctx context.Context) error {
	if _, err := d.client.List(ctx); err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	return nil
}

func (d *OllamaDriver) Complete(ctx context.Context, req *models.CompletionRequest) (*models.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = d.defaultModel
	}

	stream := req.Stream
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Tools:    toOllamaTools(req.Tools),
		Stream:   &stream,
	}
	opts := map[string]any{}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		chatReq.Options = opts
	}

	if stream {
		var calls []models.ToolCall
		s := newChanStream(ctx, func(ctx context.Context, emit func(models.StreamDelta) error) error {
			return d.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
				calls = append(calls, fromOllamaToolCalls(resp.Message.ToolCalls)...)
				if resp.Message.Content == "" {
					return nil
				}
				return emit(models.StreamDelta{Text: resp.Message.Content})
			})
		})
		return &models.ChatResponse{
			Model:    model,
			Provider: d.Kind(),
			Stream:   s,
			PendingToolCalls: func() ([]models.ToolCall, error) {
				if !s.Drained() {
					return nil, errStreamNotDrained
				}
				return calls, nil
			},
		}, nil
	}

	resp := &models.ChatResponse{Model: model, Provider: d.Kind()}
	var text strings.Builder
	err := d.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		text.WriteString(r.Message.Content)
		resp.ToolCalls = append(resp.ToolCalls, fromOllamaToolCalls(r.Message.ToolCalls)...)
		if r.Done {
			resp.Usage = models.TokenUsage{
				InputTokens:  int64(r.PromptEvalCount),
				OutputTokens: int64(r.EvalCount),
				TotalTokens:  int64(r.PromptEvalCount + r.EvalCount),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.Text = text.String()
	return resp, nil
}
