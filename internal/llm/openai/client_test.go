package openai

import (
	"testing"

	"github.com/agentichat/agentichat/internal/agenterr"
	"github.com/agentichat/agentichat/internal/llm"
)

func TestToOpenAIMessagesPreservesToolFields(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleTool, Content: "result", ToolCallID: "call_1", Name: "read_file"},
		{Role: llm.RoleAssistant, Content: "", ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "read_file", Arguments: []byte(`{"path":"a"}`)}}},
	}
	out := toOpenAIMessages(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if out[1].ToolCallID != "call_1" || out[1].Name != "read_file" {
		t.Errorf("tool message not converted: %+v", out[1])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "read_file" {
		t.Errorf("assistant tool calls not converted: %+v", out[2])
	}
}

func TestNewClientRejectsNilConfig(t *testing.T) {
	if _, err := NewClient(nil); agenterr.KindOf(err) != agenterr.Unknown {
		t.Fatalf("expected Unknown kind error, got %v", err)
	}
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	cfg := &Config{Model: "gpt-4o"} // missing APIKey
	if _, err := NewClient(cfg); agenterr.KindOf(err) != agenterr.AuthError {
		t.Fatalf("expected AuthError kind, got %v", err)
	}
}

func TestGetName(t *testing.T) {
	c := &Client{config: &Config{Model: "gpt-4o"}}
	if got := c.GetName(); got != "openai-compatible (gpt-4o)" {
		t.Errorf("GetName = %q", got)
	}
}

func TestIsToolCallingEnabled(t *testing.T) {
	c := &Client{config: &Config{Model: "gpt-4o", ToolCallMode: "fc"}}
	if !c.IsToolCallingEnabled() {
		t.Error("expected FC mode enabled")
	}
	c2 := &Client{config: &Config{Model: "gpt-4o", ToolCallMode: "yaml"}}
	if c2.IsToolCallingEnabled() {
		t.Error("expected yaml mode disabled")
	}
}
