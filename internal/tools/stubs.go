package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/driftlabs/driftwood/pkg/models"
)

// Names the agent loop intercepts before registry dispatch. They are
// registered for schema visibility only.
const (
	NameExecuteCode    = "execute_code"
	NameCompactContext = "compact_context"
)

// SentinelHandler is installed on loop-dispatched tools. Reaching it means a
// caller bypassed the loop's interception.
func SentinelHandler(_ context.Context, _ map[string]any) (string, error) {
	return "", errors.New("dispatched by the agent loop, not the tool registry")
}

// GenerateStubs emits TypeScript function declarations for the sandbox, one
// per registered tool. Each stub forwards to the bridge's __callTool__ and
// returns its result. Optional parameters carry a trailing "?" in the
// signature comment.
func (r *Registry) GenerateStubs() string {
	defs := r.Definitions()
	var sb strings.Builder
	for _, def := range defs {
		if def.Name == NameExecuteCode || def.Name == NameCompactContext {
			continue
		}
		writeStub(&sb, def)
	}
	return sb.String()
}

func writeStub(sb *strings.Builder, def models.ToolDefinition) {
	if def.Description != "" {
		fmt.Fprintf(sb, "// %s: %s\n", def.Name, firstLine(def.Description))
	}
	if len(def.Parameters) > 0 {
		fmt.Fprintf(sb, "// params: { %s }\n", paramSignature(def.Parameters))
	}
	fmt.Fprintf(sb, "async function %s(params) {\n", def.Name)
	fmt.Fprintf(sb, "  return await __callTool__(%q, params ?? {});\n", def.Name)
	sb.WriteString("}\n\n")
}

func paramSignature(params []models.ToolParam) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, tsType(p.Type)))
	}
	return strings.Join(parts, ", ")
}

func tsType(t models.ParamType) string {
	switch t {
	case models.ParamString:
		return "string"
	case models.ParamNumber:
		return "number"
	case models.ParamBoolean:
		return "boolean"
	case models.ParamArray:
		return "unknown[]"
	case models.ParamObject:
		return "Record<string, unknown>"
	default:
		return "unknown"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
