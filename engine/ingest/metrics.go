package ingest

import (
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/pkg/metrics"
)

// Metrics is C11: per-pipeline-step latency and token-usage accounting
// layered on top of the shared Prometheus-text registry.
type Metrics struct {
	reg *metrics.Registry

	runsTotal     *metrics.Counter
	failuresTotal *metrics.Counter
	runLatency    *metrics.Histogram

	highInput  *metrics.Counter
	highOutput *metrics.Counter
	lowInput   *metrics.Counter
	lowOutput  *metrics.Counter
}

// NewMetrics registers C6's counters/histograms on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		reg:           reg,
		runsTotal:     reg.Counter("ingest_runs_total", "completed ingestion pipeline runs"),
		failuresTotal: reg.Counter("ingest_failures_total", "failed ingestion pipeline runs"),
		runLatency:    reg.Histogram("ingest_run_duration_seconds", "end-to-end pipeline latency", metrics.DefaultBuckets),
		highInput:     reg.Counter("ingest_tokens_high_input_total", "high-tier input tokens consumed"),
		highOutput:    reg.Counter("ingest_tokens_high_output_total", "high-tier output tokens consumed"),
		lowInput:      reg.Counter("ingest_tokens_low_input_total", "low-tier input tokens consumed"),
		lowOutput:     reg.Counter("ingest_tokens_low_output_total", "low-tier output tokens consumed"),
	}
}

// ObserveStage records one stage's wall-clock duration in a histogram
// labeled by stage name via metrics.WithLabels.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.reg.Histogram(metrics.WithLabels("ingest_stage_duration_seconds", "stage", stage), "pipeline stage latency", metrics.DefaultBuckets).Observe(d.Seconds())
}

// RecordSuccess records a completed run's latency and token usage.
func (m *Metrics) RecordSuccess(d time.Duration, usage domain.TokenUsage) {
	m.runsTotal.Inc()
	m.runLatency.Observe(d.Seconds())
	m.highInput.Add(int64(usage.HighInput))
	m.highOutput.Add(int64(usage.HighOutput))
	m.lowInput.Add(int64(usage.LowInput))
	m.lowOutput.Add(int64(usage.LowOutput))
}

// RecordFailure records a failed run.
func (m *Metrics) RecordFailure() {
	m.failuresTotal.Inc()
}
