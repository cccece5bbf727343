// Package history manages conversation message histories: the full transcript
// kept for audit and the step-facing histories handed to the language backend,
// including token counting and compaction.
package history

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"interview/pkg/llm"
)

// Manager holds an ordered message list for one conversation level.
type Manager struct {
	messages []llm.Message
	codec    tokenizer.Codec
}

// New creates an empty history manager.
func New() *Manager {
	// Claude and GPT tokenizations are close enough for budgeting; GPT-4
	// encoding is used for all models.
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		codec = nil // fall back to character-based estimation
	}
	return &Manager{codec: codec}
}

// FromMessages creates a manager seeded with existing messages, used when
// resuming a persisted session.
func FromMessages(messages []llm.Message) *Manager {
	m := New()
	m.messages = append(m.messages, messages...)
	return m
}

// AddSystem appends a system message.
func (m *Manager) AddSystem(content string) {
	m.messages = append(m.messages, llm.NewSystemMessage(content))
}

// AddUser appends a user message.
func (m *Manager) AddUser(content string) {
	m.messages = append(m.messages, llm.NewUserMessage(content))
}

// AddAssistant appends an assistant message.
func (m *Manager) AddAssistant(content string) {
	m.messages = append(m.messages, llm.NewAssistantMessage(content))
}

// AddAssistantWithCalls appends an assistant message carrying proposed
// action invocations.
func (m *Manager) AddAssistantWithCalls(content string, calls []llm.ToolCall) {
	m.messages = append(m.messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   content,
		ToolCalls: calls,
	})
}

// AddToolResult appends a user-role message carrying one executed action's
// output.
func (m *Manager) AddToolResult(toolCallID, content string, isError bool) {
	m.messages = append(m.messages, llm.Message{
		Role: llm.RoleUser,
		ToolResults: []llm.ToolResult{
			{ToolCallID: toolCallID, Content: content, IsError: isError},
		},
	})
}

// Messages returns a copy of the current message list.
func (m *Manager) Messages() []llm.Message {
	out := make([]llm.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages.
func (m *Manager) Len() int {
	return len(m.messages)
}

// CountTokens returns the token count of the full history.
func (m *Manager) CountTokens() int {
	total := 0
	for i := range m.messages {
		total += m.countText(m.messages[i].Content)
		for j := range m.messages[i].ToolResults {
			total += m.countText(m.messages[i].ToolResults[j].Content)
		}
	}
	return total
}

func (m *Manager) countText(text string) int {
	if m.codec == nil {
		return len(text) / 4 // 4 chars ≈ 1 token
	}
	count, err := m.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CompactIfNeeded drops the oldest non-system messages until the history fits
// within budget tokens. The leading system message is always kept; a budget
// of zero disables compaction.
func (m *Manager) CompactIfNeeded(budget int) error {
	if budget <= 0 {
		return nil
	}
	for m.CountTokens() > budget && len(m.messages) > 1 {
		drop := 0
		if m.messages[0].Role == llm.RoleSystem {
			if len(m.messages) <= 2 {
				return fmt.Errorf("history cannot fit %d token budget", budget)
			}
			drop = 1
		}
		m.messages = append(m.messages[:drop], m.messages[drop+1:]...)
	}
	return nil
}
