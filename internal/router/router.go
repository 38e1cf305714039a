// Package router implements the notechat Model Router.
//
// The router holds one ChatDriver per provider kind, dispatches completion
// requests to the driver named by the request, and tracks a rolling latency
// per provider. Drivers for OpenAI, Anthropic and Ollama ship in this
// package; anything else can be plugged in with RegisterDriver.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ModelRouter routes completion requests to registered provider drivers.
type ModelRouter struct {
	driversMu sync.RWMutex
	drivers   map[string]contracts.ChatDriver

	// Latency tracking: provider kind → rolling avg ms
	latencyMu sync.RWMutex
	latencies map[string]int64
}

// NewModelRouter creates a router with no drivers.
func NewModelRouter() *ModelRouter {
	return &ModelRouter{
		drivers:   make(map[string]contracts.ChatDriver),
		latencies: make(map[string]int64),
	}
}

// RegisterConfigured registers a driver for every provider that has the
// settings it needs and returns the registered kinds.
func (mr *ModelRouter) RegisterConfigured(cfg config.ProvidersConfig) []string {
	if cfg.OpenAI.APIKey != "" {
		mr.RegisterDriver(NewOpenAIDriver(cfg.OpenAI))
	}
	if cfg.Anthropic.APIKey != "" {
		mr.RegisterDriver(NewAnthropicDriver(cfg.Anthropic))
	}
	if cfg.Ollama.BaseURL != "" {
		d, err := NewOllamaDriver(cfg.Ollama)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping Ollama driver")
		} else {
			mr.RegisterDriver(d)
		}
	}
	return mr.ListDrivers()
}

// ── Driver Registry ─────────────────────────────────────────

// RegisterDriver adds or replaces the driver for d.Kind().
func (mr *ModelRouter) RegisterDriver(d contracts.ChatDriver) {
	mr.driversMu.Lock()
	defer mr.driversMu.Unlock()
	mr.drivers[d.Kind()] = d
	log.Info().Str("kind", d.Kind()).Msg("Chat driver registered")
}

// GetDriver returns the driver for kind, or nil.
func (mr *ModelRouter) GetDriver(kind string) contracts.ChatDriver {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	return mr.drivers[kind]
}

// ListDrivers returns the registered driver kinds, sorted.
func (mr *ModelRouter) ListDrivers() []string {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	kinds := make([]string, 0, len(mr.drivers))
	for k := range mr.drivers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// SupportsExecutionStatusFeedback reports the capability of the driver for
// provider. Unknown providers report false.
func (mr *ModelRouter) SupportsExecutionStatusFeedback(provider string) bool {
	d := mr.GetDriver(provider)
	return d != nil && d.SupportsExecutionStatusFeedback()
}

// ── Completion ──────────────────────────────────────────────

// Complete sends req to the driver named by req.Provider.
func (mr *ModelRouter) Complete(ctx context.Context, req *models.CompletionRequest) (*models.ChatResponse, error) {
	d := mr.GetDriver(req.Provider)
	if d == nil {
		return nil, fmt.Errorf("no chat driver registered for provider %q", req.Provider)
	}

	start := time.Now()
	resp, err := d.Complete(ctx, req)
	if err != nil {
		log.Warn().
			Str("provider", req.Provider).
			Str("model", req.Model).
			Err(err).
			Msg("Provider call failed")
		return nil, fmt.Errorf("%s completion: %w", req.Provider, err)
	}

	latencyMs := time.Since(start).Milliseconds()
	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}
	if resp.Provider == "" {
		resp.Provider = req.Provider
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	// A streamed response only measures time to first byte here.
	resp.LatencyMs = latencyMs
	mr.trackLatency(req.Provider, latencyMs)

	return resp, nil
}

func (mr *ModelRouter) trackLatency(provider string, latencyMs int64) {
	mr.latencyMu.Lock()
	defer mr.latencyMu.Unlock()
	prev := mr.latencies[provider]
	if prev == 0 {
		mr.latencies[provider] = latencyMs
	} else {
		// Exponential moving average
		mr.latencies[provider] = (prev*7 + latencyMs*3) / 10
	}
}

// Latency returns the rolling average latency of provider in milliseconds.
func (mr *ModelRouter) Latency(provider string) int64 {
	mr.latencyMu.RLock()
	defer mr.latencyMu.RUnlock()
	return mr.latencies[provider]
}

// ── Health ──────────────────────────────────────────────────

// ProviderHealth is the result of probing one driver.
type ProviderHealth struct {
	Provider  string `json:"provider"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck probes every registered driver concurrently.
func (mr *ModelRouter) HealthCheck(ctx context.Context) []ProviderHealth {
	mr.driversMu.RLock()
	drivers := make([]contracts.ChatDriver, 0, len(mr.drivers))
	for _, d := range mr.drivers {
		drivers = append(drivers, d)
	}
	mr.driversMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	results := make([]ProviderHealth, len(drivers))
	var wg sync.WaitGroup
	for i, d := range drivers {
		wg.Add(1)
		go func(i int, d contracts.ChatDriver) {
			defer wg.Done()
			start := time.Now()
			err := d.HealthCheck(ctx)
			results[i] = ProviderHealth{
				Provider:  d.Kind(),
				Healthy:   err == nil,
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, d)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Provider < results[j].Provider })
	return results
}
