// Package metrics provides metrics recording for LLM client operations.
package metrics

import (
	"time"

	"github.com/matt-house-e/shortlist/pkg/proto"
)

// SessionProvider provides access to session state for metrics collection.
type SessionProvider interface {
	// GetSessionID returns the current research session ID.
	GetSessionID() string
	// GetPhase returns the session's current workflow phase (INTAKE, RESEARCH, ADVISE).
	GetPhase() proto.Phase
}

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, sessionID, phase string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(
	_, _, _ string,
	_, _ int,
	_ float64,
	_ bool,
	_ string,
	_ time.Duration,
) {
	// No-op
}
