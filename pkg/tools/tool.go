// Package tools provides the callable-action framework reasoning steps expose
// to the language backend: action definitions with JSON-schema-shaped
// parameters, a registry, and per-step providers with allow-sets.
package tools

import (
	"context"
)

// Property describes a single parameter in an action's input schema.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// InputSchema is the JSON-schema-shaped parameter declaration sent to the
// language backend as part of an action's function-calling definition.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is an action's name, description, and parameter schema.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Tool is a callable action a reasoning step may expose to the backend.
type Tool interface {
	// Name returns the action's identifier.
	Name() string
	// Definition returns the action's function-calling declaration.
	Definition() ToolDefinition
	// Exec executes the action with the given arguments.
	Exec(ctx context.Context, args map[string]any) (map[string]any, error)
}

// StringArg extracts a required string argument.
func StringArg(args map[string]any, name string) (string, bool) {
	v, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolArg extracts an optional bool argument, defaulting to false.
func BoolArg(args map[string]any, name string) bool {
	v, ok := args[name]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// StringSliceArg extracts an optional []string argument. JSON decoding yields
// []any, so elements are asserted individually.
func StringSliceArg(args map[string]any, name string) []string {
	raw, ok := args[name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
