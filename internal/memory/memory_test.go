package memory

import (
	"strings"
	"testing"

	"github.com/agentichat/agentichat/internal/llm"
)

func TestTrimNoopWhenNoBudget(t *testing.T) {
	m := &Manager{}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	out := m.Trim(msgs)
	if len(out) != 1 || out[0].Content != "hi" {
		t.Errorf("out = %+v", out)
	}
}

func TestTrimInlineShrinksLargeToolMessage(t *testing.T) {
	m := &Manager{ContextMaxTokens: 1_000_000}
	big := strings.Repeat("x", 3000)
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "q"},
		{Role: llm.RoleTool, Content: big, ToolCallID: "1"},
	}
	out := m.Trim(msgs)
	if len(out[1].Content) >= len(big) {
		t.Fatalf("tool message not shrunk: len=%d", len(out[1].Content))
	}
	if !strings.Contains(out[1].Content, "omitted") {
		t.Error("expected ellipsis marker noting omitted characters")
	}
	if !strings.HasPrefix(out[1].Content, strings.Repeat("x", 500)) {
		t.Error("expected first 500 chars preserved")
	}
}

func TestTrimDoesNotMutateCanonical(t *testing.T) {
	m := &Manager{ContextMaxTokens: 1_000_000}
	big := strings.Repeat("y", 3000)
	msgs := []llm.Message{{Role: llm.RoleTool, Content: big, ToolCallID: "1"}}
	_ = m.Trim(msgs)
	if len(msgs[0].Content) != len(big) {
		t.Error("Trim must not mutate the input slice's underlying messages")
	}
}

func TestTrimElidesOldestHistoryKeepingSystemAndRecent(t *testing.T) {
	m := &Manager{ContextMaxTokens: 100} // tiny budget forces elision
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: "sys"}}
	for i := 0; i < 20; i++ {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: strings.Repeat("word ", 20)})
	}
	out := m.Trim(msgs)
	if out[0].Role != llm.RoleSystem {
		t.Fatal("system message must always survive elision")
	}
	if len(out)-1 < minKeepMessages {
		t.Fatalf("elision dropped below the minimum keep floor: %d non-system messages left", len(out)-1)
	}
	if len(out) >= len(msgs) {
		t.Error("expected elision to actually drop some messages")
	}
}

func TestCheckWarning(t *testing.T) {
	m := &Manager{MaxMessages: 100, WarningRatio: 0.8}
	if s := m.CheckWarning(50); s.ShouldWarn || s.OverThreshold {
		t.Errorf("50/100 should not warn yet: %+v", s)
	}
	if s := m.CheckWarning(85); !s.ShouldWarn || s.OverThreshold {
		t.Errorf("85/100 should warn but not be over: %+v", s)
	}
	if s := m.CheckWarning(120); !s.OverThreshold || s.OveragePercent != 20 {
		t.Errorf("120/100 should be 20%% over: %+v", s)
	}
}

func TestShouldAutoCompress(t *testing.T) {
	m := &Manager{MaxMessages: 10, AutoEnabled: true}
	if m.ShouldAutoCompress(9) {
		t.Error("should not trigger below threshold")
	}
	if !m.ShouldAutoCompress(10) {
		t.Error("should trigger at threshold")
	}
	m.AutoEnabled = false
	if m.ShouldAutoCompress(20) {
		t.Error("should not trigger when AutoEnabled is false")
	}
}
