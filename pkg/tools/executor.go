package tools

import (
	"context"
	"encoding/json"
)

// ToolKind classifies how a tool is hosted.
type ToolKind int

// ToolKindBuiltin is a tool executed in-process by a registered provider.
const ToolKindBuiltin ToolKind = 0

// ToolExecutor executes tool calls.
type ToolExecutor interface {
	// Kind returns the type of tools this executor handles.
	Kind() ToolKind

	// CanExecute checks if this executor can handle the given tool name.
	CanExecute(toolName string) bool

	// Execute runs the tool and returns the result.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// ToolDefinition describes a tool offered to agents.
type ToolDefinition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall represents an agent's request to invoke a tool.
type ToolCall struct {
	// ID is the unique call identifier.
	ID string

	// Name is the tool function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Output is the tool output content (text).
	Output string

	// IsError indicates that the output is an error message.
	IsError bool
}

// ErrorResult builds an IsError result for the given call.
func ErrorResult(callID, msg string) *ToolResult {
	return &ToolResult{CallID: callID, Output: msg, IsError: true}
}
