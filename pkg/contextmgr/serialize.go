package contextmgr

import (
	"encoding/json"
	"fmt"
)

// serializedContext is the persisted form of the conversation history.
type serializedContext struct {
	Messages []Message `json:"messages"`
}

// Serialize converts the conversation history to JSON for persistence.
func (cm *ContextManager) Serialize() ([]byte, error) {
	data, err := json.Marshal(serializedContext{Messages: cm.messages})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize context: %w", err)
	}
	return data, nil
}

// Deserialize restores the conversation history from JSON, replacing any
// existing messages.
func (cm *ContextManager) Deserialize(data []byte) error {
	var sc serializedContext
	if err := json.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("failed to deserialize context: %w", err)
	}
	cm.messages = sc.Messages
	if cm.messages == nil {
		cm.messages = make([]Message, 0)
	}
	return nil
}
