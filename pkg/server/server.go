// Package server provides the public entry point for initializing the
// notechat server.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	defer srv.Shutdown(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/agentoven/notechat/internal/api"
	"github.com/agentoven/notechat/internal/api/handlers"
	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/internal/embeddings"
	"github.com/agentoven/notechat/internal/embedqueue"
	"github.com/agentoven/notechat/internal/mcpgw"
	"github.com/agentoven/notechat/internal/metrics"
	"github.com/agentoven/notechat/internal/pipeline"
	"github.com/agentoven/notechat/internal/rag"
	modelrouter "github.com/agentoven/notechat/internal/router"
	"github.com/agentoven/notechat/internal/selector"
	"github.com/agentoven/notechat/internal/sessions"
	"github.com/agentoven/notechat/internal/store"
	"github.com/agentoven/notechat/internal/telemetry"
	"github.com/agentoven/notechat/internal/tools"
	"github.com/agentoven/notechat/internal/vectorstore"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized notechat components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the note store.
	Store store.Store

	// Pipeline runs chat turns.
	Pipeline *pipeline.Pipeline

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	closers []func(context.Context) error
}

// New loads configuration and initializes every component.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the server with an explicit configuration.
// Components that fail after earlier ones started are cleaned up.
func NewWithConfig(ctx context.Context, cfg *config.Config) (_ *Server, err error) {
	srv := &Server{Config: cfg, Port: cfg.Port}
	defer func() {
		if err != nil {
			_ = srv.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// Telemetry
	shutdownTracing, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	srv.onShutdown(shutdownTracing)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(metrics.WithRegisterer(promReg))

	// Chat providers
	mr := modelrouter.NewModelRouter()
	kinds := mr.RegisterConfigured(cfg.Providers)
	if len(kinds) == 0 {
		log.Warn().Msg("No chat providers configured; chat requests will fail")
	}
	selection := selectorConfig(cfg, kinds)
	log.Info().Strs("providers", kinds).Msg("✅ Model Router initialized")

	// Notes
	notes, err := store.NewSQLiteStore(ctx, filepath.Join(cfg.DataDir, "notechat.db"))
	if err != nil {
		return nil, fmt.Errorf("open note store: %w", err)
	}
	srv.Store = notes
	srv.onShutdown(func(context.Context) error { return notes.Close() })
	log.Info().Str("data_dir", cfg.DataDir).Msg("✅ Note store initialized")

	// Embeddings + vector index
	embReg := embeddings.NewRegistry()
	embedder, err := embeddings.FromProviders(cfg.Embeddings, cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("init embeddings: %w", err)
	}

	var (
		vectors   contracts.VectorStoreDriver
		retriever *rag.Retriever
	)
	if embedder != nil {
		embReg.Register(embedder.Kind(), embedder)
		vectors, err = vectorstore.Open(ctx, cfg.Vectors, embedder.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
		if c, ok := vectors.(io.Closer); ok {
			srv.onShutdown(func(context.Context) error { return c.Close() })
		}

		var opts []rag.Option
		if len(kinds) > 0 {
			s := selector.Select(selection, selector.Input{})
			opts = append(opts, rag.WithDecomposer(mr, s.Provider, s.Model))
		}
		retriever = rag.NewRetriever(embedder, vectors, opts...)
		log.Info().
			Str("embedder", embedder.Kind()).
			Str("vectors", vectors.Kind()).
			Msg("✅ Semantic retrieval initialized")
	}

	// Tools
	toolReg := tools.NewRegistry()
	var ctxRetriever contracts.ContextRetriever
	if retriever != nil {
		ctxRetriever = retriever
	}
	if err := tools.RegisterBuiltins(toolReg, notes, ctxRetriever); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	gw := mcpgw.NewGateway(toolReg, cfg.Version)
	sources := tools.NewMCPSources(toolReg)
	srv.onShutdown(func(context.Context) error { return sources.Close() })
	if len(cfg.MCP.Servers) > 0 {
		// Servers can be slow to start; chat works with the built-ins meanwhile.
		go func() {
			if n := sources.ConnectAll(context.WithoutCancel(ctx), cfg.MCP.Servers); n > 0 {
				gw.NotifyToolsChanged()
			}
		}()
	}
	log.Info().Int("tools", toolReg.Count()).Msg("✅ MCP Gateway initialized")

	// Pipeline
	opts := []pipeline.Option{pipeline.WithTools(toolReg), pipeline.WithMetrics(collector)}
	if retriever != nil {
		opts = append(opts, pipeline.WithRetriever(retriever))
	}
	pl := pipeline.New(pipeline.Config{
		EnableStreaming:       cfg.Pipeline.EnableStreaming,
		EnableMetrics:         cfg.Pipeline.EnableMetrics,
		MaxToolCallIterations: cfg.Pipeline.MaxToolCallIterations,
		SystemPrompt:          cfg.Pipeline.SystemPrompt,
		MaxContextResults:     cfg.Pipeline.MaxContextResults,
	}, selection, mr, opts...)
	srv.Pipeline = pl
	log.Info().Msg("✅ Chat pipeline initialized")

	// Sessions
	sess := sessions.NewMemorySessionStore()
	if err := srv.schedulePrune(sess, cfg.Sessions); err != nil {
		return nil, err
	}

	// Embedding queue
	var proc *embedqueue.Processor
	if cfg.Queue.Enabled && vectors != nil {
		proc, err = startQueue(ctx, cfg, notes, vectors, embReg)
		if err != nil {
			return nil, err
		}
		srv.onShutdown(func(context.Context) error { proc.Stop(); return nil })
	}

	// HTTP
	h := handlers.New(pl, sess, notes)
	h.Queue = proc
	h.Router = mr
	h.MCPGateway = gw
	rh := &handlers.RAGHandlers{Embeddings: embReg, Vectors: vectors}
	if retriever != nil {
		rh.Retriever = retriever
	}
	srv.Handler = api.NewRouter(cfg, h, rh, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	return srv, nil
}

// Shutdown stops background work and releases resources in reverse order
// of initialization.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Server) onShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// selectorConfig exposes only registered providers to model selection.
func selectorConfig(cfg *config.Config, kinds []string) selector.Config {
	byKind := map[string]config.ProviderConfig{
		"openai":    cfg.Providers.OpenAI,
		"anthropic": cfg.Providers.Anthropic,
		"ollama":    cfg.Providers.Ollama,
	}
	available := make(map[string]selector.ProviderDefaults, len(kinds))
	for _, k := range kinds {
		p := byKind[k]
		available[k] = selector.ProviderDefaults{DefaultModel: p.DefaultModel, LargeModel: p.LargeModel}
	}
	return selector.Config{
		Precedence:    cfg.Providers.Precedence,
		Available:     available,
		DefaultStream: cfg.Pipeline.EnableStreaming,
	}
}

func (s *Server) schedulePrune(sess *sessions.MemorySessionStore, cfg config.SessionsConfig) error {
	if cfg.MaxIdle <= 0 || cfg.PruneSchedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(cfg.PruneSchedule, func() {
		if n := sess.Prune(cfg.MaxIdle); n > 0 {
			log.Info().Int("sessions", n).Msg("Idle sessions pruned")
		}
	}); err != nil {
		return fmt.Errorf("schedule session pruning %q: %w", cfg.PruneSchedule, err)
	}
	c.Start()
	s.onShutdown(func(context.Context) error {
		<-c.Stop().Done()
		return nil
	})
	return nil
}

// startQueue creates the embedding queue and its processor. An empty index
// (a fresh embedded store, or a new collection) gets every note queued.
func startQueue(ctx context.Context, cfg *config.Config, notes store.Store, vectors contracts.VectorStoreDriver, drivers *embeddings.Registry) (*embedqueue.Processor, error) {
	q, err := embedqueue.New(ctx, notes.DB())
	if err != nil {
		return nil, fmt.Errorf("init embedding queue: %w", err)
	}

	chunker := rag.DefaultChunkerConfig()
	if cfg.Queue.ChunkThreshold > 0 {
		chunker.Threshold = cfg.Queue.ChunkThreshold
	}
	proc := embedqueue.NewProcessor(q, notes, rag.NewIngester(vectors, chunker), drivers,
		embedqueue.WithBatchSize(cfg.Queue.BatchSize),
		embedqueue.WithRateLimit(cfg.Queue.RatePerSecond))

	if n, err := vectors.Count(ctx); err == nil && n == 0 {
		all, err := notes.ListNotes(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("list notes for indexing: %w", err)
		}
		for _, note := range all {
			if err := q.Enqueue(ctx, note.ID, models.OpUpdate); err != nil {
				return nil, fmt.Errorf("queue note %s: %w", note.ID, err)
			}
		}
		if len(all) > 0 {
			log.Info().Int("notes", len(all)).Msg("Vector index empty, all notes queued for embedding")
		}
	}

	if err := proc.Start(ctx, cfg.Queue.Schedule); err != nil {
		return nil, err
	}
	return proc, nil
}
