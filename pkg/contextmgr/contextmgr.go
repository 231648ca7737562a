// Package contextmgr provides conversation history management for LLM calls,
// including token counting and compaction.
package contextmgr

import (
	"fmt"
	"strings"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/config"
	"github.com/matt-house-e/shortlist/pkg/utils"
)

// Message represents a single message in the conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextManager manages conversation history and token counting.
// It is not safe for concurrent use; the workflow serializes access
// per session.
type ContextManager struct {
	messages        []Message
	maxTokens       int
	compactionRatio float64
	keepRecent      int
}

const (
	defaultMaxTokens       = 100000
	defaultCompactionRatio = 0.8
	defaultKeepRecent      = 10
)

// NewContextManager creates a context manager with default limits.
func NewContextManager() *ContextManager {
	return &ContextManager{
		messages:        make([]Message, 0),
		maxTokens:       defaultMaxTokens,
		compactionRatio: defaultCompactionRatio,
		keepRecent:      defaultKeepRecent,
	}
}

// NewContextManagerWithConfig creates a context manager using the configured limits.
func NewContextManagerWithConfig(cfg *config.ContextConfig) *ContextManager {
	cm := NewContextManager()
	if cfg == nil {
		return cm
	}
	if cfg.MaxTokens > 0 {
		cm.maxTokens = cfg.MaxTokens
	}
	if cfg.CompactionRatio > 0 {
		cm.compactionRatio = cfg.CompactionRatio
	}
	if cfg.KeepRecentMessages > 0 {
		cm.keepRecent = cfg.KeepRecentMessages
	}
	return cm
}

// AddMessage stores a role/content pair in the context.
func (cm *ContextManager) AddMessage(role, content string) {
	cm.messages = append(cm.messages, Message{
		Role:    role,
		Content: content,
	})
}

// CountTokens returns the token count across all messages.
func (cm *ContextManager) CountTokens() int {
	total := 0
	for i := range cm.messages {
		total += utils.CountTokensSimple(cm.messages[i].Content)
	}
	return total
}

// ShouldCompact checks if compaction is needed without performing it.
func (cm *ContextManager) ShouldCompact() bool {
	threshold := int(float64(cm.maxTokens) * cm.compactionRatio)
	return cm.CountTokens() > threshold
}

// CompactIfNeeded compacts the history when it crosses the configured
// threshold. The first message and the most recent keepRecent messages
// survive; the dropped middle is replaced with a short summary marker so
// the model knows history was elided.
func (cm *ContextManager) CompactIfNeeded() {
	if !cm.ShouldCompact() {
		return
	}
	cm.Compact()
}

// Compact unconditionally drops the middle of the conversation.
func (cm *ContextManager) Compact() {
	if len(cm.messages) <= cm.keepRecent+1 {
		return
	}

	head := cm.messages[0]
	tail := cm.messages[len(cm.messages)-cm.keepRecent:]
	dropped := len(cm.messages) - 1 - cm.keepRecent

	compacted := make([]Message, 0, cm.keepRecent+2)
	compacted = append(compacted, head)
	compacted = append(compacted, Message{
		Role:    "system",
		Content: fmt.Sprintf("[%d earlier messages elided to fit the context window]", dropped),
	})
	compacted = append(compacted, tail...)
	cm.messages = compacted
}

// GetMessages returns a copy of all messages in the context.
func (cm *ContextManager) GetMessages() []Message {
	result := make([]Message, len(cm.messages))
	copy(result, cm.messages)
	return result
}

// SetMessages replaces the history wholesale (used on session restore).
func (cm *ContextManager) SetMessages(messages []Message) {
	cm.messages = make([]Message, len(messages))
	copy(cm.messages, messages)
}

// Clear removes all messages from the context.
func (cm *ContextManager) Clear() {
	cm.messages = cm.messages[:0]
}

// GetMessageCount returns the number of messages in the context.
func (cm *ContextManager) GetMessageCount() int {
	return len(cm.messages)
}

// GetContextSummary returns a brief summary of the context state.
func (cm *ContextManager) GetContextSummary() string {
	messageCount := len(cm.messages)
	tokenCount := cm.CountTokens()

	if messageCount == 0 {
		return "Empty context"
	}

	var roleBreakdown []string
	roleCounts := make(map[string]int)

	for i := range cm.messages {
		roleCounts[cm.messages[i].Role]++
	}

	for role, count := range roleCounts {
		roleBreakdown = append(roleBreakdown, fmt.Sprintf("%s: %d", role, count))
	}

	return fmt.Sprintf("%d messages (%d tokens) - %s",
		messageCount, tokenCount, strings.Join(roleBreakdown, ", "))
}

// ToCompletionMessages converts the history into LLM completion messages,
// prepending the given system prompt when non-empty.
func (cm *ContextManager) ToCompletionMessages(systemPrompt string) []llm.CompletionMessage {
	result := make([]llm.CompletionMessage, 0, len(cm.messages)+1)
	if systemPrompt != "" {
		result = append(result, llm.NewSystemMessage(systemPrompt))
	}
	for i := range cm.messages {
		msg := &cm.messages[i]
		switch msg.Role {
		case string(llm.RoleAssistant):
			result = append(result, llm.NewAssistantMessage(msg.Content))
		case string(llm.RoleSystem):
			result = append(result, llm.NewSystemMessage(msg.Content))
		default:
			result = append(result, llm.NewUserMessage(msg.Content))
		}
	}
	return result
}
