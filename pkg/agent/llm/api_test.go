package llm

import (
	"context"
	"errors"
	"testing"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     CompletionRequest
		wantErr bool
	}{
		{
			name:    "valid",
			req:     NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}),
			wantErr: false,
		},
		{
			name:    "no messages",
			req:     CompletionRequest{MaxTokens: 100},
			wantErr: true,
		},
		{
			name:    "zero max tokens",
			req:     CompletionRequest{Messages: []CompletionMessage{NewUserMessage("hi")}},
			wantErr: true,
		},
		{
			name: "temperature out of range",
			req: CompletionRequest{
				Messages:    []CompletionMessage{NewUserMessage("hi")},
				MaxTokens:   100,
				Temperature: 3.0,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageConstructors(t *testing.T) {
	if m := NewSystemMessage("s"); m.Role != RoleSystem || m.Content != "s" {
		t.Errorf("system message wrong: %+v", m)
	}
	if m := NewUserMessage("u"); m.Role != RoleUser {
		t.Errorf("user message wrong: %+v", m)
	}
	if m := NewAssistantMessage("a"); m.Role != RoleAssistant {
		t.Errorf("assistant message wrong: %+v", m)
	}
}

// fakeClient returns canned responses for middleware and structured tests.
type fakeClient struct {
	resp  CompletionResponse
	err   error
	calls int
}

func (f *fakeClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	f.calls++
	return f.resp, f.err
}

func (f *fakeClient) GetModelName() string { return "fake-model" }

func TestChainOrdering(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next LLMClient) LLMClient {
			return WrapClient(
				func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
					order = append(order, name)
					return next.Complete(ctx, req)
				},
				next.GetModelName,
			)
		}
	}

	base := &fakeClient{resp: CompletionResponse{Content: "ok"}}
	client := Chain(base, mw("first"), mw("second"), mw("third"))

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok" {
		t.Errorf("response should pass through: %q", resp.Content)
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "third" {
		t.Errorf("middleware order wrong: %v", order)
	}
	if client.GetModelName() != "fake-model" {
		t.Errorf("model name should delegate: %s", client.GetModelName())
	}
}

func TestGenerateStructured(t *testing.T) {
	type queryPlan struct {
		Queries []string `json:"queries"`
	}

	tool := ToolDefinition{
		Name: "submit_queries",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"queries": {Type: "array", Items: &Property{Type: "string"}},
			},
			Required: []string{"queries"},
		},
	}

	client := &fakeClient{resp: CompletionResponse{
		ToolCalls: []ToolCall{{
			Name:       "submit_queries",
			Parameters: map[string]any{"queries": []any{"best desks 2026", "reddit desks"}},
		}},
	}}

	plan, err := GenerateStructured[queryPlan](context.Background(),
		client, NewCompletionRequest([]CompletionMessage{NewUserMessage("go")}), tool)
	if err != nil {
		t.Fatalf("GenerateStructured: %v", err)
	}
	if len(plan.Queries) != 2 || plan.Queries[0] != "best desks 2026" {
		t.Errorf("unexpected plan: %+v", plan)
	}
}

func TestGenerateStructuredMissingToolCall(t *testing.T) {
	client := &fakeClient{resp: CompletionResponse{Content: "I refuse to call tools"}}
	tool := ToolDefinition{Name: "submit_queries"}

	_, err := GenerateStructured[struct{}](context.Background(),
		client, NewCompletionRequest([]CompletionMessage{NewUserMessage("go")}), tool)
	if err == nil {
		t.Error("missing tool call should be an error, not a text fallback")
	}
}

func TestGenerateStructuredPropagatesError(t *testing.T) {
	wantErr := errors.New("rate limited")
	client := &fakeClient{err: wantErr}

	_, err := GenerateStructured[struct{}](context.Background(),
		client, NewCompletionRequest([]CompletionMessage{NewUserMessage("go")}), ToolDefinition{Name: "t"})
	if !errors.Is(err, wantErr) {
		t.Errorf("underlying error should be wrapped: %v", err)
	}
}
