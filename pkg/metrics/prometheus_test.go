package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorder(t *testing.T) {
	r := NewPrometheusRecorder()

	r.ObserveRun("planner", "completed", "", 3, 2*time.Second)
	r.ObserveRun("planner", "failed", "rate_limit", 1, time.Second)
	r.ObserveTurn(OutcomeHandoff, 4*time.Second)
	r.AddTokens("planner", "thread_1", TokenTypePrompt, 42)
	r.AddTokens("planner", "thread_1", TokenTypePrompt, 8)
	r.AddTokens("planner", "thread_1", TokenTypeCompletion, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("planner", "completed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("planner", "failed", "rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.turnsTotal.WithLabelValues(OutcomeHandoff)))
	assert.Equal(t, 50.0, testutil.ToFloat64(r.tokensTotal.WithLabelValues("planner", "thread_1", TokenTypePrompt)))

	// Zero and negative token counts are dropped.
	assert.Equal(t, 0.0, testutil.ToFloat64(r.tokensTotal.WithLabelValues("planner", "thread_1", TokenTypeCompletion)))
}
