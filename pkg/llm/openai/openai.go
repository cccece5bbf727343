// Package openai provides the OpenAI backend for the llm.Client interface.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"interview/pkg/llm"
	"interview/pkg/tools"
)

// Client wraps the official OpenAI Go client.
type Client struct {
	client openai.Client
	model  string
}

// New creates an OpenAI client for the given model.
func New(apiKey, model string) *Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ModelName returns the backing model identifier.
func (c *Client) ModelName() string {
	return c.model
}

func propertyToSchema(prop *tools.Property) map[string]any {
	schema := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		schema["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Items != nil {
		schema["items"] = propertyToSchema(prop.Items)
	}
	if len(prop.Properties) > 0 {
		props := make(map[string]any, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				props[name] = propertyToSchema(child)
			}
		}
		schema["properties"] = props
	}
	if len(prop.Required) > 0 {
		schema["required"] = prop.Required
	}
	return schema
}

func convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			// Tool results travel as text in the user turn; the history
			// manager records the structured form for audit.
			content := msg.Content
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				status := "result"
				if tr.IsError {
					status = "error"
				}
				content = strings.TrimSpace(content + fmt.Sprintf("\n[tool %s %s] %s", tr.ToolCallID, status, tr.Content))
			}
			out = append(out, openai.UserMessage(content))
		}
	}
	return out
}

// Complete implements the llm.Client interface.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llm.NewError(llm.KindInvalidResponse, "message list cannot be empty")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            convertMessages(in.Messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}

	if len(in.Tools) > 0 {
		sdkTools := make([]openai.ChatCompletionToolParam, 0, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]
			props := make(map[string]any, len(tool.InputSchema.Properties))
			for name := range tool.InputSchema.Properties {
				prop := tool.InputSchema.Properties[name]
				props[name] = propertyToSchema(&prop)
			}
			sdkTools = append(sdkTools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters: openai.FunctionParameters{
						"type":       "object",
						"properties": props,
						"required":   tool.InputSchema.Required,
					},
				},
			})
		}
		params.Tools = sdkTools

		if in.ToolChoice == llm.ToolChoiceAny {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String("required"),
			}
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llm.Classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llm.NewError(llm.KindInvalidResponse, "received empty response from OpenAI API")
	}

	choice := resp.Choices[0]

	var toolCalls []llm.ToolCall
	for i := range choice.Message.ToolCalls {
		tc := &choice.Message.ToolCalls[i]
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return llm.CompletionResponse{}, llm.NewErrorWithCause(llm.KindInvalidResponse, err, "failed to parse tool arguments")
			}
		}
		toolCalls = append(toolCalls, llm.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: args,
		})
	}

	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
