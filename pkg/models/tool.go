package models

import "fmt"

// ParamType enumerates the types a tool parameter may declare.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// ToolParam describes one declared parameter of a tool.
type ToolParam struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"`
}

// ToolDefinition is the declaration of a tool: its name, description, and
// ordered parameter list. Names are unique within a registry.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ToolParam `json:"parameters,omitempty"`
}

// ToolResult is the outcome of a tool invocation. Error is set iff Success
// is false.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// OkResult builds a successful tool result.
func OkResult(output string) ToolResult {
	return ToolResult{Success: true, Output: output}
}

// ErrResult builds a failed tool result.
func ErrResult(format string, args ...any) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}
