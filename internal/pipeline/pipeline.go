// Package pipeline turns a user question plus conversation history into an
// answer. It selects a model, optionally retrieves note context, prepares
// the messages, runs the completion and a bounded tool loop, and delivers
// the result either whole or as a stream of chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/notechat/internal/executor"
	"github.com/agentoven/notechat/internal/metrics"
	"github.com/agentoven/notechat/internal/selector"
	"github.com/agentoven/notechat/internal/telemetry"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Stage names used for metrics and spans.
const (
	StageModelSelection     = "modelSelection"
	StageQueryDecomposition = "queryDecomposition"
	StageSemanticContext    = "semanticContextExtraction"
	StageMessagePreparation = "messagePreparation"
	StageLLMCompletion      = "llmCompletion"
	StageToolCalling        = "toolCalling"
	StageResponseProcessing = "responseProcessing"
)

// Config holds pipeline-wide defaults.
type Config struct {
	EnableStreaming       bool
	EnableMetrics         bool
	MaxToolCallIterations int
	SystemPrompt          string
	MaxContextResults     int
}

// DefaultConfig returns streaming and metrics on with the default tool
// iteration ceiling.
func DefaultConfig() Config {
	return Config{
		EnableStreaming:       true,
		EnableMetrics:         true,
		MaxToolCallIterations: DefaultMaxToolCallIterations,
		MaxContextResults:     5,
	}
}

// Pipeline executes chat turns. One instance serves concurrent executions;
// its only shared mutable state is the metrics collector.
type Pipeline struct {
	cfg       Config
	selection selector.Config

	completer *Completer
	preparer  *Preparer
	retriever contracts.ContextRetriever
	tools     contracts.ToolRegistry
	loop      *ToolLoop
	metrics   *metrics.Collector

	toolsChecked sync.Once
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetriever enables the enhanced context path.
func WithRetriever(r contracts.ContextRetriever) Option {
	return func(p *Pipeline) { p.retriever = r }
}

// WithTools enables tool calling against reg.
func WithTools(reg contracts.ToolRegistry) Option {
	return func(p *Pipeline) { p.tools = reg }
}

// WithMetrics injects the metrics collector. Without it the pipeline
// creates an unregistered one.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// New creates a pipeline over provider.
func New(cfg Config, selection selector.Config, provider Provider, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, selection: selection}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	p.completer = NewCompleter(provider, p.tools)
	p.preparer = NewPreparer(cfg.SystemPrompt)

	p.loop = NewToolLoop(executor.New(p.tools, executor.WithRecorder(p.metrics)), cfg.MaxToolCallIterations)
	return p
}

// Metrics returns a snapshot of the accumulated metrics.
func (p *Pipeline) Metrics() models.PipelineMetrics {
	return p.metrics.Snapshot()
}

// ResetMetrics clears the accumulated metrics.
func (p *Pipeline) ResetMetrics() {
	p.metrics.Reset()
	log.Info().Msg("Pipeline metrics reset")
}

// Execute runs one chat turn. When input carries a StreamCallback the
// answer is streamed to it, terminated by exactly one Done chunk, and the
// returned response holds the complete processed text as well.
func (p *Pipeline) Execute(ctx context.Context, input *models.ChatPipelineInput) (resp *models.ChatResponse, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "pipeline.execute")
	defer func() {
		p.record(ctx, "", time.Since(start))
		telemetry.EndSpan(span, err)
	}()

	if input == nil || (len(input.Messages) == 0 && input.Query == "") {
		err = errors.New("execute pipeline: no messages or query")
		if input != nil {
			newStreamManager(input.StreamCallback, "", "", false).Fail(err)
		}
		return nil, err
	}
	if len(input.Messages) == 0 {
		input.Messages = []models.Message{{Role: models.RoleUser, Content: input.Query}}
	}
	span.SetAttributes(
		attribute.Bool("pipeline.advanced_context", input.Options.UseAdvancedContext),
		attribute.Bool("pipeline.has_sink", input.StreamCallback != nil))

	// ── Model selection ──────────────────────────────────
	var sel selector.Selection
	_ = p.stage(ctx, StageModelSelection, func(context.Context) error {
		sel = selector.Select(p.selection, selector.Input{
			Options:       input.Options,
			Query:         input.Query,
			ContentLength: contentLength(input.Messages),
		})
		return nil
	})
	span.SetAttributes(attribute.String("llm.provider", sel.Provider), attribute.String("llm.model", sel.Model))

	streaming := p.effectiveStreaming(input)
	toolsEnabled := sel.EnableTools && p.toolsReady()
	sm := newStreamManager(input.StreamCallback, sel.Model, sel.Provider, input.Options.ShowThinking)
	defer func() {
		if err != nil {
			sm.Fail(err)
		}
	}()

	log.Info().
		Str("provider", sel.Provider).
		Str("model", sel.Model).
		Str("complexity", string(sel.Complexity)).
		Bool("stream", streaming).
		Bool("tools", toolsEnabled).
		Bool("advanced_context", input.Options.UseAdvancedContext).
		Msg("Chat pipeline started")

	// ── Context retrieval (enhanced path only) ───────────
	var contextText string
	if input.Query != "" && input.Options.UseAdvancedContext {
		contextText = p.retrieveContext(ctx, input, sel.Provider)
	}

	// ── Message preparation ──────────────────────────────
	var messages []models.Message
	_ = p.stage(ctx, StageMessagePreparation, func(context.Context) error {
		messages = p.preparer.Prepare(PrepareInput{
			History:      input.Messages,
			Context:      contextText,
			Provider:     sel.Provider,
			Model:        sel.Model,
			SystemPrompt: input.Options.SystemPrompt,
			MaxTokens:    input.Options.MaxTokens,
		})
		return nil
	})

	// ── Completion ───────────────────────────────────────
	params := CompletionParams{
		Provider:    sel.Provider,
		Model:       sel.Model,
		Temperature: input.Options.Temperature,
		MaxTokens:   input.Options.MaxTokens,
	}
	complete := func(ctx context.Context, msgs []models.Message, withTools, stream bool) (*models.ChatResponse, error) {
		var out *models.ChatResponse
		err := p.stage(ctx, StageLLMCompletion, func(ctx context.Context) error {
			var err error
			out, err = p.completer.Complete(ctx, params, msgs, withTools, stream)
			return err
		})
		return out, err
	}

	resp, err = complete(ctx, messages, toolsEnabled, streaming)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	// A stream is consumed here whether or not anyone listens, so the
	// tool loop and the caller never see a half-read stream.
	delivered := false
	if resp.Stream != nil {
		text, err := sm.Relay(ctx, resp.Stream)
		if err != nil {
			return nil, fmt.Errorf("completion stream: %w", err)
		}
		snap := *resp
		snap.Text, snap.Stream = text, nil
		resp = &snap
		delivered = sm.Active()
	}

	// ── Tool loop ────────────────────────────────────────
	resp, calls := resolveToolCalls(resp)
	if toolsEnabled && len(calls) > 0 {
		var result *LoopResult
		err = p.stage(ctx, StageToolCalling, func(ctx context.Context) error {
			var err error
			result, err = p.loop.Run(ctx, loopRun{
				stream:   sm,
				feedback: p.completer.SupportsExecutionStatusFeedback(sel.Provider),
				complete: func(ctx context.Context, msgs []models.Message, withTools bool) (*models.ChatResponse, error) {
					return complete(ctx, msgs, withTools, false)
				},
			}, resp, calls, messages, delivered)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("tool loop: %w", err)
		}
		resp, delivered = result.Response, result.Delivered
		log.Info().
			Str("state", result.State.String()).
			Int("rounds", result.Rounds).
			Int("follow_ups", result.Completions).
			Msg("Tool loop completed")
	}

	// ── Response processing ──────────────────────────────
	_ = p.stage(ctx, StageResponseProcessing, func(context.Context) error {
		snap := *resp
		snap.Text = ProcessText(resp.Text, input.Options.ShowThinking)
		if snap.Provider == "" {
			snap.Provider = sel.Provider
		}
		if snap.Model == "" {
			snap.Model = sel.Model
		}
		resp = &snap
		return nil
	})

	if err := sm.Finish(resp.Text, delivered); err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", resp.Provider).
		Str("model", resp.Model).
		Int("text_len", len(resp.Text)).
		Dur("elapsed", time.Since(start)).
		Msg("Chat pipeline complete")
	return resp, nil
}

// retrieveContext runs the enhanced path: decomposition, retrieval and
// context formatting. It never fails; without usable results the context
// is whatever the retriever renders for no fragments.
func (p *Pipeline) retrieveContext(ctx context.Context, input *models.ChatPipelineInput, provider string) string {
	if p.retriever == nil {
		log.Warn().Msg("Advanced context requested but no retriever is configured")
		return ""
	}

	queries := []string{input.Query}
	_ = p.stage(ctx, StageQueryDecomposition, func(ctx context.Context) error {
		queries = p.retriever.Decompose(ctx, input.Query)
		if len(queries) == 0 {
			queries = []string{input.Query}
		}
		return nil
	})

	var contextText string
	_ = p.stage(ctx, StageSemanticContext, func(ctx context.Context) error {
		maxResults := input.Options.MaxResults
		if maxResults <= 0 {
			maxResults = p.cfg.MaxContextResults
		}
		frags, err := p.retriever.FindRelevantNotes(ctx, queries, input.NoteID, models.RetrievalOptions{
			MaxResults:    maxResults,
			MinSimilarity: input.Options.MinSimilarity,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Context retrieval failed, continuing without context")
			frags = nil
		}
		contextText = p.retriever.BuildContext(frags, input.Query, provider)
		return nil
	})
	return contextText
}

// effectiveStreaming decides whether the first completion streams. A sink
// forces streaming; otherwise the per-call flag, then the format hint,
// then the pipeline default apply.
func (p *Pipeline) effectiveStreaming(input *models.ChatPipelineInput) bool {
	switch {
	case input.StreamCallback != nil:
		return true
	case input.Options.Stream != nil:
		return *input.Options.Stream
	case input.Format == models.FormatStream:
		return true
	default:
		return p.cfg.EnableStreaming
	}
}

// toolsReady reports whether any tools can be offered. The first call
// logs the registry size.
func (p *Pipeline) toolsReady() bool {
	if p.tools == nil {
		return false
	}
	n := p.tools.Count()
	p.toolsChecked.Do(func() {
		if n == 0 {
			log.Warn().Msg("Tool calling enabled but no tools are registered")
			return
		}
		log.Info().Int("tools", n).Msg("Tool registry ready")
	})
	return n > 0
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "pipeline."+name)
	start := time.Now()
	err := fn(ctx)
	p.record(ctx, name, time.Since(start))
	telemetry.EndSpan(span, err)
	return err
}

// record feeds the collector; an empty stage records a full execution.
func (p *Pipeline) record(ctx context.Context, stage string, elapsed time.Duration) {
	if !p.cfg.EnableMetrics {
		return
	}
	if stage == "" {
		p.metrics.RecordExecution(ctx, elapsed)
		return
	}
	p.metrics.RecordStage(ctx, stage, elapsed)
}

func contentLength(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}
