// Package metrics provides metrics recording for interview engine operations.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording engine metrics.
type Recorder interface {
	// ObserveBackendCall records one completed language-backend request.
	ObserveBackendCall(
		model, stepType string,
		promptTokens, completionTokens int,
		success bool,
		errorKind string,
		duration time.Duration,
	)

	// ObserveToolExecution records one executed action.
	ObserveToolExecution(action string, success bool)

	// ObserveTurn records one processed turn.
	ObserveTurn(stage string, success bool, duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are
// disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveBackendCall does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveBackendCall(_, _ string, _, _ int, _ bool, _ string, _ time.Duration) {
}

// ObserveToolExecution does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveToolExecution(_ string, _ bool) {}

// ObserveTurn does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveTurn(_ string, _ bool, _ time.Duration) {}
