package pipeline

import (
	"context"

	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
)

// Provider is the model router as seen by the pipeline.
type Provider interface {
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.ChatResponse, error)
	// SupportsExecutionStatusFeedback reports whether provider wants a
	// tool status summary before follow-up completions.
	SupportsExecutionStatusFeedback(provider string) bool
}

// Completer builds completion requests and sends them to the provider.
type Completer struct {
	provider Provider
	tools    contracts.ToolRegistry
}

// NewCompleter creates a completer. tools may be nil.
func NewCompleter(p Provider, tools contracts.ToolRegistry) *Completer {
	return &Completer{provider: p, tools: tools}
}

// CompletionParams are the per-execution settings shared by every
// completion of one execution.
type CompletionParams struct {
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Complete sends messages to the provider. Tool definitions are attached
// when withTools is set and the registry has any.
func (c *Completer) Complete(ctx context.Context, params CompletionParams, messages []models.Message, withTools, stream bool) (*models.ChatResponse, error) {
	req := &models.CompletionRequest{
		Provider:    params.Provider,
		Model:       params.Model,
		Messages:    messages,
		Stream:      stream,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	if withTools && c.tools != nil {
		req.Tools = c.tools.Definitions()
	}
	return c.provider.Complete(ctx, req)
}

// SupportsExecutionStatusFeedback forwards to the provider.
func (c *Completer) SupportsExecutionStatusFeedback(provider string) bool {
	return c.provider.SupportsExecutionStatusFeedback(provider)
}
