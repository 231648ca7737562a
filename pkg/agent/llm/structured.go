package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// GenerateStructured issues a completion that forces the model to call the
// provided tool and unmarshals the tool arguments into T. Malformed or
// missing tool output is an error; there is no fallback parsing of free
// text.
func GenerateStructured[T any](ctx context.Context, client LLMClient, req CompletionRequest, tool ToolDefinition) (T, error) {
	var zero T

	req.Tools = []ToolDefinition{tool}
	req.ToolChoice = ToolChoiceAny

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return zero, fmt.Errorf("structured completion failed: %w", err)
	}

	var call *ToolCall
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].Name == tool.Name {
			call = &resp.ToolCalls[i]
			break
		}
	}
	if call == nil {
		return zero, fmt.Errorf("model did not call tool %q (stop reason: %s)", tool.Name, resp.StopReason)
	}

	raw, err := json.Marshal(call.Parameters)
	if err != nil {
		return zero, fmt.Errorf("failed to re-encode tool arguments: %w", err)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("tool arguments do not match expected schema: %w", err)
	}
	return out, nil
}
