package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBackendCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorderWith(reg)

	rec.ObserveBackendCall("mock-model", "reviewer", 100, 40, true, "", 250*time.Millisecond)
	rec.ObserveBackendCall("mock-model", "reviewer", 0, 0, false, "rate_limit", 50*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		rec.backendRequestsTotal.WithLabelValues("mock-model", "reviewer", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		rec.backendRequestsTotal.WithLabelValues("mock-model", "reviewer", "error", "rate_limit")))

	// Tokens only accumulate on success.
	assert.Equal(t, 100.0, testutil.ToFloat64(
		rec.tokensTotal.WithLabelValues("mock-model", "reviewer", "prompt")))
	assert.Equal(t, 40.0, testutil.ToFloat64(
		rec.tokensTotal.WithLabelValues("mock-model", "reviewer", "completion")))
}

func TestObserveToolExecutionAndTurn(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorderWith(reg)

	rec.ObserveToolExecution("ask_user", true)
	rec.ObserveToolExecution("ask_user", true)
	rec.ObserveTurn("INTERVIEW_LOOP", true, 900*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		rec.toolExecutionsTotal.WithLabelValues("ask_user", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		rec.turnsTotal.WithLabelValues("INTERVIEW_LOOP", "success")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNopRecorder(t *testing.T) {
	rec := Nop()
	rec.ObserveBackendCall("m", "s", 1, 1, true, "", time.Second)
	rec.ObserveToolExecution("a", false)
	rec.ObserveTurn("BOOTSTRAP", false, time.Second)
}
