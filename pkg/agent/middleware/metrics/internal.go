// Package metrics provides internal metrics tracking for LLM operations.
package metrics

import (
	"sync"
	"time"
)

// InternalRecorder aggregates per-session usage in memory. It backs the
// interactive cost report without requiring an external Prometheus server.
type InternalRecorder struct {
	sessions map[string]*SessionMetrics // sessionID -> aggregated metrics
	mu       sync.RWMutex
}

// SessionMetrics represents aggregated usage for a research session.
type SessionMetrics struct {
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	TotalCost        float64   `json:"total_cost_usd"`
	SessionID        string    `json:"session_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

var (
	internalInstance *InternalRecorder //nolint:gochecknoglobals
	internalOnce     sync.Once         //nolint:gochecknoglobals
)

// NewInternalRecorder returns a singleton internal metrics recorder.
func NewInternalRecorder() *InternalRecorder {
	internalOnce.Do(func() {
		internalInstance = &InternalRecorder{
			sessions: make(map[string]*SessionMetrics),
		}
	})
	return internalInstance
}

// ObserveSession records token usage and cost for a completed LLM request.
func (r *InternalRecorder) ObserveSession(
	sessionID string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
) {
	// Only record successful requests for token/cost tracking
	if !success || sessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		session = &SessionMetrics{
			SessionID: sessionID,
		}
		r.sessions[sessionID] = session
	}

	session.PromptTokens += int64(promptTokens)
	session.CompletionTokens += int64(completionTokens)
	session.TotalTokens = session.PromptTokens + session.CompletionTokens
	session.TotalCost += cost
	session.RequestCount++
	session.LastUpdated = time.Now()
}

// GetSessionMetrics returns the aggregated metrics for a specific session.
func (r *InternalRecorder) GetSessionMetrics(sessionID string) *SessionMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		return nil
	}
	copied := *session
	return &copied
}

// ClearSessionMetrics removes metrics for a specific session (useful for testing).
func (r *InternalRecorder) ClearSessionMetrics(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Reset clears all metrics (useful for testing).
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*SessionMetrics)
}
