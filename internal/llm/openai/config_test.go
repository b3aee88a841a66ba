package openai

import "testing"

func TestValidateRequiresAPIKey(t *testing.T) {
	c := &Config{Model: "gpt-4o"}
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing APIKey")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := &Config{
		APIKey:          "key",
		Model:           "gpt-4o",
		ThinkingMode:    "auto",
		ToolCallMode:    "auto",
		ReasoningEffort: "medium",
	}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolveThinkingModeAutoDetectsNative(t *testing.T) {
	c := &Config{Model: "deepseek-r1", ThinkingMode: "auto"}
	if got := c.ResolveThinkingMode(); got != "native" {
		t.Errorf("got %q, want native", got)
	}
}

func TestResolveThinkingModeAutoDefaultsToApp(t *testing.T) {
	c := &Config{Model: "gpt-4o", ThinkingMode: "auto"}
	if got := c.ResolveThinkingMode(); got != "app" {
		t.Errorf("got %q, want app", got)
	}
}

func TestResolveToolCallModeExplicitWins(t *testing.T) {
	c := &Config{Model: "deepseek-r1", ToolCallMode: "yaml"}
	if got := c.ResolveToolCallMode(); got != "yaml" {
		t.Errorf("got %q, want yaml", got)
	}
}

func TestResolveContextWindowExplicitWins(t *testing.T) {
	c := &Config{Model: "gpt-4o", ContextWindow: 9000}
	if got := c.ResolveContextWindow(); got != 9000 {
		t.Errorf("got %d, want 9000", got)
	}
}

func TestResolveContextWindowFallsBackToDefault(t *testing.T) {
	c := &Config{Model: "some-unknown-model-xyz"}
	if got := c.ResolveContextWindow(); got != 32_000 {
		t.Errorf("got %d, want 32000", got)
	}
}
