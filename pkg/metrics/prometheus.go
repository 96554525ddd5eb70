// Package metrics provides Prometheus-based metrics recording and querying
// for assistant runs, polling and handoff turns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token direction labels.
const (
	TokenTypePrompt     = "prompt"
	TokenTypeCompletion = "completion"
)

// Turn outcome labels.
const (
	OutcomeFinal   = "final"
	OutcomeHandoff = "handoff"
	OutcomeError   = "error"
)

// Recorder receives observations from the poller and the orchestrator.
type Recorder interface {
	// ObserveRun records a finished (or failed) run: which agent ran it, the
	// terminal status label, the classified error kind (empty on success),
	// how many polls it took and how long it was in flight.
	ObserveRun(agent, status, errorKind string, polls int, duration time.Duration)

	// ObserveTurn records a completed conversation turn and its outcome.
	ObserveTurn(outcome string, duration time.Duration)

	// AddTokens accumulates estimated token usage per agent and thread.
	AddTokens(agent, threadID, tokenType string, tokens int)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runPolls     *prometheus.HistogramVec
	turnsTotal   *prometheus.CounterVec
	turnDuration prometheus.Histogram
	tokensTotal  *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
// Metrics register on the default registry; create at most one per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		runsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duet_runs_total",
				Help: "Total number of assistant runs by agent, terminal status and error kind",
			},
			[]string{"agent", "status", "error_kind"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duet_run_duration_seconds",
				Help:    "Wall-clock duration of assistant runs from creation to terminal status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		runPolls: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duet_run_polls",
				Help:    "Number of status polls issued per run",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 40, 60},
			},
			[]string{"agent"},
		),
		turnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duet_turns_total",
				Help: "Total number of conversation turns by outcome (final, handoff, error)",
			},
			[]string{"outcome"},
		),
		turnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "duet_turn_duration_seconds",
				Help:    "End-to-end duration of conversation turns",
				Buckets: prometheus.DefBuckets,
			},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duet_tokens_total",
				Help: "Estimated token usage by agent, thread and type",
			},
			[]string{"agent", "thread_id", "type"},
		),
	}
}

// ObserveRun records metrics for a finished run.
func (p *PrometheusRecorder) ObserveRun(agent, status, errorKind string, polls int, duration time.Duration) {
	p.runsTotal.WithLabelValues(agent, status, errorKind).Inc()
	p.runDuration.WithLabelValues(agent).Observe(duration.Seconds())
	p.runPolls.WithLabelValues(agent).Observe(float64(polls))
}

// ObserveTurn records metrics for a completed conversation turn.
func (p *PrometheusRecorder) ObserveTurn(outcome string, duration time.Duration) {
	p.turnsTotal.WithLabelValues(outcome).Inc()
	p.turnDuration.Observe(duration.Seconds())
}

// AddTokens accumulates estimated token usage.
func (p *PrometheusRecorder) AddTokens(agent, threadID, tokenType string, tokens int) {
	if tokens <= 0 {
		return
	}
	p.tokensTotal.WithLabelValues(agent, threadID, tokenType).Add(float64(tokens))
}

// NopRecorder discards all observations. Used in tests and when metrics are disabled.
type NopRecorder struct{}

func (NopRecorder) ObserveRun(_, _, _ string, _ int, _ time.Duration) {}
func (NopRecorder) ObserveTurn(_ string, _ time.Duration)            {}
func (NopRecorder) AddTokens(_, _, _ string, _ int)                  {}
