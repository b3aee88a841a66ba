package tool

import (
	"context"
	"encoding/json"
)

// ConfirmPolicy declares when the registry must consult the Confirmation
// Manager before running a tool's body.
type ConfirmPolicy int

const (
	// ConfirmNever never prompts; the tool is read-only or non-destructive.
	ConfirmNever ConfirmPolicy = iota
	// ConfirmOnDestructive prompts because the tool mutates or removes
	// state outside the process (file writes/deletes, shell commands).
	ConfirmOnDestructive
	// ConfirmAlways prompts unconditionally, regardless of arguments.
	ConfirmAlways
)

func (p ConfirmPolicy) String() string {
	switch p {
	case ConfirmOnDestructive:
		return "on_destructive"
	case ConfirmAlways:
		return "always"
	default:
		return "never"
	}
}

// RequiresConfirmation reports whether p routes through the Confirmation
// Manager before execution.
func (p ConfirmPolicy) RequiresConfirmation() bool {
	return p == ConfirmOnDestructive || p == ConfirmAlways
}

// Tool is the unified interface for all tools.
// Both native built-in tools and MCP tool adapters implement this interface.
type Tool interface {
	// Name returns the tool identifier (LLM uses this name to invoke the tool).
	Name() string

	// Description returns a natural-language description for LLM prompt injection.
	Description() string

	// InputSchema returns a standard JSON Schema defining the tool's parameters.
	// Compatible with MCP protocol and OpenAI Function Calling.
	InputSchema() json.RawMessage

	// ConfirmPolicy declares whether calls to this tool must be routed
	// through the Confirmation Manager before Execute runs. Merged into
	// the tool interface itself so the registry never needs a side table
	// of policies keyed by name.
	ConfirmPolicy() ConfirmPolicy

	// Execute runs the tool with JSON-encoded arguments.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)

	// Init initializes tool resources (e.g. MCP client connections).
	// Native tools may return nil.
	Init(ctx context.Context) error

	// Close releases tool resources.
	Close() error
}

// ToolResult encapsulates a tool execution result.
type ToolResult struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// SchemaParam describes a single parameter for the SchemaBuilder helper.
type SchemaParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "integer", "boolean", "number"
	Description string   `json:"description"`
	Required    bool     `json:"-"`
	Enum        []string `json:"enum,omitempty"`
}

// BuildSchema generates a standard JSON Schema object from a list of SchemaParams.
// This helper lets native tools avoid hand-writing JSON strings.
//
// Output example:
//
//	{"type":"object","properties":{"command":{"type":"string","description":"要执行的命令"}},"required":["command"]}
func BuildSchema(params ...SchemaParam) json.RawMessage {
	properties := make(map[string]any)
	var required []string

	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
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

	data, _ := json.Marshal(schema)
	return data
}

// RequiredParams extracts the schema's top-level "required" array, used by
// Registry.Execute to validate a call's arguments before dispatch.
func RequiredParams(schema json.RawMessage) []string {
	var parsed struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return nil
	}
	return parsed.Required
}
