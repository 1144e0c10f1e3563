// Package tools implements the tool registry: typed registration, parameter
// validation, model-schema conversion, sandbox stub generation, and dispatch.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/driftlabs/driftwood/internal/observability"
	"github.com/driftlabs/driftwood/pkg/models"
)

// ErrDuplicateTool is returned by Register when the name is already taken.
var ErrDuplicateTool = errors.New("tool already registered")

// Handler executes a tool with validated parameters. A non-nil error becomes
// a failed ToolResult; panics are recovered and wrapped the same way.
type Handler func(ctx context.Context, params map[string]any) (string, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Def     models.ToolDefinition
	Handler Handler
}

// ModelTool is a tool definition in the shape model providers expect.
type ModelTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Registry holds tools keyed by name, preserving registration order.
// Registration happens at startup; dispatch is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool by name. The generated input schema is compiled to
// catch malformed definitions at startup rather than at dispatch time.
func (r *Registry) Register(tool Tool) error {
	if tool.Def.Name == "" {
		return errors.New("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Def.Name)
	}
	if err := compileSchema(tool.Def); err != nil {
		return fmt.Errorf("tool %s: %w", tool.Def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Def.Name)
	}
	r.tools[tool.Def.Name] = tool
	r.order = append(r.order, tool.Def.Name)
	return nil
}

// Definitions returns the registered definitions in registration order.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Def)
	}
	return defs
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// ToModelTools converts every definition to the provider wire shape.
func (r *Registry) ToModelTools() []ModelTool {
	defs := r.Definitions()
	out := make([]ModelTool, 0, len(defs))
	for _, def := range defs {
		out = append(out, ModelTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def),
		})
	}
	return out
}

// Dispatch validates params against the named tool's definition and invokes
// its handler. It never returns an error out-of-band: every failure mode is
// a ToolResult with Success=false.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any) models.ToolResult {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		observability.ToolDispatches.WithLabelValues(name, "unknown").Inc()
		return models.ErrResult("unknown tool: %s", name)
	}

	if res, ok := validateParams(tool.Def, params); !ok {
		observability.ToolDispatches.WithLabelValues(name, "invalid").Inc()
		return res
	}

	result := invoke(ctx, tool, params)
	outcome := "ok"
	if !result.Success {
		outcome = "error"
	}
	observability.ToolDispatches.WithLabelValues(name, outcome).Inc()
	return result
}

func invoke(ctx context.Context, tool Tool, params map[string]any) (result models.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = models.ErrResult("tool %s panicked: %v", tool.Def.Name, rec)
		}
	}()
	output, err := tool.Handler(ctx, params)
	if err != nil {
		return models.ErrResult("%s", err.Error())
	}
	return models.OkResult(output)
}

// validateParams enforces required presence, declared types, and enum
// membership. The handler is not invoked on any failure.
func validateParams(def models.ToolDefinition, params map[string]any) (models.ToolResult, bool) {
	for _, p := range def.Parameters {
		if !p.Required {
			continue
		}
		if _, present := params[p.Name]; !present {
			return models.ErrResult("missing required parameter: %s", p.Name), false
		}
	}
	for _, p := range def.Parameters {
		value, present := params[p.Name]
		if !present {
			continue
		}
		if !typeMatches(p.Type, value) {
			return models.ErrResult("invalid type for parameter %s: expected %s", p.Name, p.Type), false
		}
		if len(p.Enum) > 0 && !enumMatches(p.Enum, value) {
			return models.ErrResult("invalid value for parameter %s: must be one of %s",
				p.Name, strings.Join(p.Enum, ", ")), false
		}
	}
	return models.ToolResult{}, true
}

func typeMatches(t models.ParamType, value any) bool {
	if value == nil {
		return false
	}
	switch t {
	case models.ParamString:
		_, ok := value.(string)
		return ok
	case models.ParamBoolean:
		_, ok := value.(bool)
		return ok
	case models.ParamNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case models.ParamArray:
		k := reflect.ValueOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array
	case models.ParamObject:
		v := reflect.ValueOf(value)
		return v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String
	default:
		return false
	}
}

func enumMatches(allowed []string, value any) bool {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// inputSchema builds the JSON-schema body model providers expect.
func inputSchema(def models.ToolDefinition) map[string]any {
	properties := make(map[string]any, len(def.Parameters))
	var required []string
	for _, p := range def.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// compileSchema verifies the generated input schema is valid JSON schema.
func compileSchema(def models.ToolDefinition) error {
	raw, err := json.Marshal(inputSchema(def))
	if err != nil {
		return fmt.Errorf("marshal input schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	if _, err := compiler.Compile("tool.json"); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	return nil
}
