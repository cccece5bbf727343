// Package llm defines the language-backend contract: an ordered message list,
// a declared set of callable actions, and a response carrying either free text
// or proposed action invocations plus usage accounting.
package llm

import (
	"context"

	"interview/pkg/tools"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	// RoleSystem indicates an instruction message.
	RoleSystem Role = "system"
	// RoleUser indicates a message from the human user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
)

// ToolCall represents an action invocation proposed by the backend.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// ToolResult carries an executed action's output back to the backend.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one entry in a conversation.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolChoice controls whether the backend may, must, or must not invoke an action.
type ToolChoice string

const (
	// ToolChoiceAuto lets the backend decide.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceAny forces at least one action invocation.
	ToolChoiceAny ToolChoice = "any"
)

// CompletionRequest is one chat call to the backend.
type CompletionRequest struct {
	Messages    []Message
	Tools       []tools.ToolDefinition
	ToolChoice  ToolChoice
	Temperature float32
	MaxTokens   int
}

// Usage is the backend's token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// CompletionResponse is the backend's reply: free text and/or proposed
// action invocations.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Client is the language-backend interface.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// ModelName returns the backing model identifier for logging.
	ModelName() string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
