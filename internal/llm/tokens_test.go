package llm

import "testing"

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcdef", 2},
		{"abcdefg", 3},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.in); got != c.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEstimateMessagesTokensIncludesOverheadAndToolCalls(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "abcdef"}, // 2 tokens content + 4 overhead
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{Name: "abc", Arguments: []byte(`abc`)}, // 1 + 1 tokens
			},
		},
	}
	got := EstimateMessagesTokens(messages)
	want := (4 + 2) + (4 + 1 + 1)
	if got != want {
		t.Errorf("EstimateMessagesTokens = %d, want %d", got, want)
	}
}

func TestMaxCharsForTokenBudget(t *testing.T) {
	if got := MaxCharsForTokenBudget(0); got != 0 {
		t.Errorf("zero budget should yield 0 chars, got %d", got)
	}
	if got := MaxCharsForTokenBudget(-5); got != 0 {
		t.Errorf("negative budget should yield 0 chars, got %d", got)
	}
	if got := MaxCharsForTokenBudget(10); got != 30 {
		t.Errorf("MaxCharsForTokenBudget(10) = %d, want 30", got)
	}
}
