package metrics_test

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/notechat/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordExecution_RunningMean(t *testing.T) {
	c := metrics.New()
	ctx := context.Background()

	c.RecordExecution(ctx, 10*time.Millisecond)
	c.RecordExecution(ctx, 20*time.Millisecond)
	c.RecordExecution(ctx, 60*time.Millisecond)

	snap := c.Snapshot()
	if snap.TotalExecutions != 3 {
		t.Errorf("TotalExecutions = %d, want 3", snap.TotalExecutions)
	}
	if math.Abs(snap.AverageExecutionTime-30) > 1e-9 {
		t.Errorf("AverageExecutionTime = %v, want 30", snap.AverageExecutionTime)
	}
}

func TestRecordStage_PerStageCounters(t *testing.T) {
	c := metrics.New()
	ctx := context.Background()

	c.RecordStage(ctx, "llmCompletion", 4*time.Millisecond)
	c.RecordStage(ctx, "llmCompletion", 8*time.Millisecond)
	c.RecordStage(ctx, "modelSelection", time.Millisecond)

	snap := c.Snapshot()
	comp := snap.StageMetrics["llmCompletion"]
	if comp.TotalExecutions != 2 {
		t.Errorf("llmCompletion.TotalExecutions = %d, want 2", comp.TotalExecutions)
	}
	if math.Abs(comp.AverageExecutionTime-6) > 1e-9 {
		t.Errorf("llmCompletion.AverageExecutionTime = %v, want 6", comp.AverageExecutionTime)
	}
	if _, ok := snap.StageMetrics["toolCalling"]; ok {
		t.Error("toolCalling present in snapshot, want absent for a stage that never ran")
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	c := metrics.New()
	c.RecordStage(context.Background(), "messagePreparation", time.Millisecond)

	snap := c.Snapshot()
	delete(snap.StageMetrics, "messagePreparation")

	if _, ok := c.Snapshot().StageMetrics["messagePreparation"]; !ok {
		t.Error("mutating a snapshot changed the collector")
	}
}

func TestReset(t *testing.T) {
	c := metrics.New()
	ctx := context.Background()
	c.RecordExecution(ctx, time.Millisecond)
	c.RecordStage(ctx, "llmCompletion", time.Millisecond)

	c.Reset()

	snap := c.Snapshot()
	if snap.TotalExecutions != 0 || snap.AverageExecutionTime != 0 || len(snap.StageMetrics) != 0 {
		t.Errorf("Snapshot() after Reset = %+v, want zero value", snap)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := metrics.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordExecution(ctx, time.Millisecond)
			c.RecordStage(ctx, "llmCompletion", time.Millisecond)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.TotalExecutions != 50 {
		t.Errorf("TotalExecutions = %d, want 50", snap.TotalExecutions)
	}
	if got := snap.StageMetrics["llmCompletion"].TotalExecutions; got != 50 {
		t.Errorf("llmCompletion.TotalExecutions = %d, want 50", got)
	}
}

func TestPrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(metrics.WithRegisterer(reg))
	ctx := context.Background()

	c.RecordToolCall(ctx, "search_notes", false)
	c.RecordToolCall(ctx, "search_notes", true)
	c.RecordStage(ctx, "llmCompletion", time.Millisecond)

	expected := `
# HELP notechat_tool_calls_total Tool invocations by tool and outcome
# TYPE notechat_tool_calls_total counter
notechat_tool_calls_total{outcome="error",tool="search_notes"} 1
notechat_tool_calls_total{outcome="ok",tool="search_notes"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "notechat_tool_calls_total"); err != nil {
		t.Errorf("unexpected tool call series: %v", err)
	}
	n, err := testutil.GatherAndCount(reg, "notechat_pipeline_stage_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("stage histogram series = %d, want 1", n)
	}
}
