// Package ollama provides a local-model backend for the llm.Client interface.
// Ollama does not support forcing a tool invocation; ToolChoiceAny is
// approximated with an instruction appended to the final user message.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"interview/pkg/llm"
	"interview/pkg/tools"
)

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// New creates an Ollama client for the given server URL (for example
// "http://localhost:11434") and model.
func New(hostURL, model string) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// ModelName returns the backing model identifier.
func (c *Client) ModelName() string {
	return c.model
}

func convertMessages(messages []llm.Message, forceTool bool) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]

		// Tool results become dedicated "tool" role messages.
		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			out = append(out, api.Message{
				Role:       "tool",
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
		if msg.Content == "" && len(msg.ToolResults) > 0 {
			continue
		}

		out = append(out, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	if forceTool && len(out) > 0 {
		last := &out[len(out)-1]
		last.Content += "\n\nYou must respond by invoking one of the available tools."
	}
	return out, nil
}

func convertTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		props := api.NewToolPropertiesMap()
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			props.Set(name, convertProperty(&prop))
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       def.InputSchema.Type,
					Properties: props,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enum := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enum[i] = v
		}
		out.Enum = enum
	}
	if prop.Items != nil {
		out.Items = convertProperty(prop.Items)
	}
	return out
}

// Complete implements the llm.Client interface.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages, in.ToolChoice == llm.ToolChoiceAny && len(in.Tools) > 0)
	if err != nil {
		return llm.CompletionResponse{}, llm.NewErrorWithCause(llm.KindInvalidResponse, err, "message conversion failed")
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	var response api.ChatResponse
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, llm.Classify(err)
	}

	result := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: response.DoneReason,
		Usage: llm.Usage{
			PromptTokens:     response.Metrics.PromptEvalCount,
			CompletionTokens: response.Metrics.EvalCount,
		},
	}

	for i := range response.Message.ToolCalls {
		tc := &response.Message.ToolCalls[i]
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: tc.Function.Arguments.ToMap(),
		})
	}

	return result, nil
}
