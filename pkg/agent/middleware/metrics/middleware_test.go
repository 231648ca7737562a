package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/agent/llmerrors"
	"github.com/matt-house-e/shortlist/pkg/proto"
)

type fakeSessionProvider struct {
	sessionID string
	phase     proto.Phase
}

func (f *fakeSessionProvider) GetSessionID() string  { return f.sessionID }
func (f *fakeSessionProvider) GetPhase() proto.Phase { return f.phase }

type capturingRecorder struct {
	model     string
	sessionID string
	phase     string
	success   bool
	errorType string
	calls     int
}

func (c *capturingRecorder) ObserveRequest(
	model, sessionID, phase string,
	_, _ int,
	_ float64,
	success bool,
	errorType string,
	_ time.Duration,
) {
	c.model = model
	c.sessionID = sessionID
	c.phase = phase
	c.success = success
	c.errorType = errorType
	c.calls++
}

func TestMiddleware_RecordsSuccessfulRequest(t *testing.T) {
	recorder := &capturingRecorder{}
	provider := &fakeSessionProvider{sessionID: "sess-1", phase: proto.PhaseResearch}

	next := llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "hello"}, nil
		},
		func() string { return "gpt-4o-mini" },
	)

	client := Middleware(recorder, nil, provider, nil)(next)
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, "gpt-4o-mini", recorder.model)
	assert.Equal(t, "sess-1", recorder.sessionID)
	assert.Equal(t, string(proto.PhaseResearch), recorder.phase)
	assert.True(t, recorder.success)
	assert.Empty(t, recorder.errorType)
}

func TestMiddleware_ClassifiesErrorType(t *testing.T) {
	recorder := &capturingRecorder{}
	provider := &fakeSessionProvider{sessionID: "sess-2", phase: proto.PhaseIntake}

	next := llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "throttled")
		},
		func() string { return "claude-sonnet-4-5" },
	)

	client := Middleware(recorder, nil, provider, nil)(next)
	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)

	assert.False(t, recorder.success)
	assert.Equal(t, llmerrors.ErrorTypeRateLimit.String(), recorder.errorType)
}

func TestDefaultUsageExtractor(t *testing.T) {
	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage("You are a product research assistant."),
			llm.NewUserMessage("Find me wireless headphones under $200."),
		},
	}
	resp := llm.CompletionResponse{Content: "Here are some options to consider."}

	prompt, completion := DefaultUsageExtractor(req, resp)
	assert.Greater(t, prompt, 0)
	assert.Greater(t, completion, 0)
}

func TestInternalRecorder_AggregatesPerSession(t *testing.T) {
	internal := NewInternalRecorder()
	internal.ClearSessionMetrics("sess-agg")

	internal.ObserveSession("sess-agg", 100, 50, 0.01, true)
	internal.ObserveSession("sess-agg", 200, 100, 0.02, true)
	internal.ObserveSession("sess-agg", 999, 999, 9.99, false) // failures not counted

	m := internal.GetSessionMetrics("sess-agg")
	require.NotNil(t, m)
	assert.Equal(t, int64(300), m.PromptTokens)
	assert.Equal(t, int64(150), m.CompletionTokens)
	assert.Equal(t, int64(450), m.TotalTokens)
	assert.Equal(t, int64(2), m.RequestCount)
	assert.InDelta(t, 0.03, m.TotalCost, 1e-9)

	assert.Nil(t, internal.GetSessionMetrics("missing"))
}

func TestNoopRecorder(t *testing.T) {
	// Should not panic
	Nop().ObserveRequest("m", "s", "p", 1, 2, 0.1, true, "", time.Second)
}
