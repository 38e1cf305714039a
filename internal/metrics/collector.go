// Package metrics aggregates pipeline timings.
//
// The Collector keeps process-lifetime running means for every pipeline
// execution and every stage. The same observations are mirrored to
// Prometheus (served on /metrics) and to OpenTelemetry instruments obtained
// from the global meter provider.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/agentoven/notechat/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector is the single owned aggregate of pipeline timings.
// Safe for concurrent use.
type Collector struct {
	mu              sync.Mutex
	totalExecutions int64
	averageMs       float64
	stages          map[string]models.StageMetrics

	execSeconds  prometheus.Histogram
	stageSeconds *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec

	otelExec  metric.Float64Histogram
	otelStage metric.Float64Histogram
	otelTools metric.Int64Counter
}

// Option configures a Collector.
type Option func(*Collector)

// New creates a collector. Without WithRegisterer the Prometheus collectors
// are created but not registered anywhere.
func New(opts ...Option) *Collector {
	c := &Collector{stages: make(map[string]models.StageMetrics)}
	c.initPrometheus(nil)
	for _, opt := range opts {
		opt(c)
	}
	c.initOTel()
	return c
}

// WithRegisterer registers the Prometheus collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Collector) {
		c.initPrometheus(reg)
	}
}

func (c *Collector) initPrometheus(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	c.execSeconds = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "notechat_pipeline_execution_seconds",
		Help:    "Chat pipeline execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	c.stageSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notechat_pipeline_stage_seconds",
		Help:    "Chat pipeline stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"stage"})
	c.toolCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "notechat_tool_calls_total",
		Help: "Tool invocations by tool and outcome",
	}, []string{"tool", "outcome"})
}

func (c *Collector) initOTel() {
	meter := otel.Meter("notechat")
	var err error
	if c.otelExec, err = meter.Float64Histogram("notechat.pipeline.duration",
		metric.WithUnit("ms"), metric.WithDescription("Chat pipeline execution duration")); err != nil {
		log.Warn().Err(err).Msg("Failed to create pipeline duration instrument")
	}
	if c.otelStage, err = meter.Float64Histogram("notechat.pipeline.stage.duration",
		metric.WithUnit("ms"), metric.WithDescription("Chat pipeline stage duration")); err != nil {
		log.Warn().Err(err).Msg("Failed to create stage duration instrument")
	}
	if c.otelTools, err = meter.Int64Counter("notechat.tool.calls",
		metric.WithDescription("Tool invocations")); err != nil {
		log.Warn().Err(err).Msg("Failed to create tool call instrument")
	}
}

// RecordStage folds one stage invocation into the running mean of stage.
func (c *Collector) RecordStage(ctx context.Context, stage string, elapsed time.Duration) {
	ms := durationMs(elapsed)

	c.mu.Lock()
	sm := c.stages[stage]
	sm.TotalExecutions++
	sm.AverageExecutionTime = runningMean(sm.AverageExecutionTime, sm.TotalExecutions, ms)
	c.stages[stage] = sm
	c.mu.Unlock()

	c.stageSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	if c.otelStage != nil {
		c.otelStage.Record(ctx, ms, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// RecordExecution folds one full pipeline execution into the running mean.
func (c *Collector) RecordExecution(ctx context.Context, elapsed time.Duration) {
	ms := durationMs(elapsed)

	c.mu.Lock()
	c.totalExecutions++
	c.averageMs = runningMean(c.averageMs, c.totalExecutions, ms)
	c.mu.Unlock()

	c.execSeconds.Observe(elapsed.Seconds())
	if c.otelExec != nil {
		c.otelExec.Record(ctx, ms)
	}
}

// RecordToolCall counts one tool invocation. It does not affect the
// running means.
func (c *Collector) RecordToolCall(ctx context.Context, tool string, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
	if c.otelTools != nil {
		c.otelTools.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("outcome", outcome),
		))
	}
}

// Snapshot returns a copy of the current aggregate.
func (c *Collector) Snapshot() models.PipelineMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stages := make(map[string]models.StageMetrics, len(c.stages))
	for k, v := range c.stages {
		stages[k] = v
	}
	return models.PipelineMetrics{
		TotalExecutions:      c.totalExecutions,
		AverageExecutionTime: c.averageMs,
		StageMetrics:         stages,
	}
}

// Reset clears the running means. Prometheus and OpenTelemetry series are
// monotonic and are left untouched.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.totalExecutions = 0
	c.averageMs = 0
	c.stages = make(map[string]models.StageMetrics)
	c.mu.Unlock()

	log.Info().Msg("Pipeline metrics reset")
}

// runningMean computes (avg*(n-1)+latest)/n for the n-th observation.
func runningMean(avg float64, n int64, latest float64) float64 {
	if n <= 1 {
		return latest
	}
	return (avg*float64(n-1) + latest) / float64(n)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
