// Package llm defines the provider-agnostic chat, tool-calling, and
// streaming abstraction that every backend (OpenAI-compatible endpoints,
// and anything else speaking the same wire protocol) implements.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Message represents one turn in a chat conversation.
type Message struct {
	Role             string       `json:"role"`
	Content          string       `json:"content"`
	ReasoningContent string       `json:"reasoning_content,omitempty"`
	Name             string       `json:"name,omitempty"`
	ToolCallID       string       `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason     FinishReason `json:"finish_reason,omitempty"`
	Usage            Usage        `json:"usage,omitempty"`
}

// ToolDefinition describes a callable tool to the backend in the shape its
// function-calling API expects: a name, a human description, and a JSON
// Schema for its parameters.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a single invocation the model asked for via native function
// calling: an opaque ID the backend uses to correlate the eventual tool
// result message, the tool name, and its arguments as raw JSON.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// StreamCallback is invoked for each chunk of streamed assistant text.
// Implementations should be lightweight; heavy work should be deferred.
type StreamCallback func(chunk string)

// FinishReason reports why the backend stopped generating. Values mirror
// the OpenAI-compatible wire protocol so every backend can report them
// without translation.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
)

// Usage reports the token accounting for a single completion, when the
// backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelInfo describes one model a backend can serve, as returned by
// Backend.ListModels.
type ModelInfo struct {
	ID string `json:"id"`
}

// RetryInfo describes one retry attempt, passed to a Do onRetry callback so
// callers can log or surface backoff state without re-deriving it.
type RetryInfo struct {
	Attempt    int
	MaxRetries int
	Delay      time.Duration
	Err        error
}

// Backend is the interface every LLM provider implements. Any
// OpenAI-compatible endpoint (official API, Azure, local inference servers)
// can satisfy it.
type Backend interface {
	// CallLLM sends messages and returns the complete response.
	CallLLM(ctx context.Context, messages []Message) (Message, error)

	// CallLLMStream streams the response token-by-token via onChunk and
	// returns the fully assembled message. If onChunk is nil, or the
	// backend doesn't support streaming, it falls back to CallLLM.
	CallLLMStream(ctx context.Context, messages []Message, onChunk StreamCallback) (Message, error)

	// CallLLMWithTools sends messages plus tool definitions for native
	// function calling. The response may carry ToolCalls or plain text.
	CallLLMWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, error)

	// IsToolCallingEnabled reports whether this backend/model combination
	// should be driven through native function calling.
	IsToolCallingEnabled() bool

	// GetName returns a human-readable provider/model identifier for logs.
	GetName() string

	// HealthCheck verifies the backend is reachable and authenticated,
	// without spending a full completion call.
	HealthCheck(ctx context.Context) error

	// ListModels returns the models the backend currently serves.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Close releases any resources (idle connections, background
	// goroutines) held by the backend. Safe to call once at shutdown.
	Close() error
}

// LLMProvider is the name the agent loop and host layer call Backend by.
// Kept as an alias rather than a second interface so both names describe
// the exact same method set with no duplicate-interface drift.
type LLMProvider = Backend

// Role constants used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
