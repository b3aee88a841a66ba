package llm

import "testing"

func TestExtractToolCallsSentinel(t *testing.T) {
	calls := ExtractToolCalls(`[TOOL_CALLS]read_file{"path":"main.go"}`)
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Arguments["path"] != "main.go" {
		t.Errorf("arguments = %+v", calls[0].Arguments)
	}
	if calls[0].ID == "" {
		t.Error("expected a non-empty opaque ID")
	}
}

func TestExtractToolCallsFencedJSON(t *testing.T) {
	content := "Sure, let me check.\n```json\n{\"name\":\"list_files\",\"arguments\":{\"dir\":\".\"}}\n```\n"
	calls := ExtractToolCalls(content)
	if len(calls) != 1 || calls[0].Name != "list_files" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Arguments["dir"] != "." {
		t.Errorf("arguments = %+v", calls[0].Arguments)
	}
}

func TestExtractToolCallsFencedJSONArgumentsAsString(t *testing.T) {
	content := "```json\n{\"name\":\"read_file\",\"arguments\":\"{\\\"path\\\":\\\"main.go\\\"}\"}\n```"
	calls := ExtractToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Arguments["path"] != "main.go" {
		t.Errorf("expected double-encoded arguments string parsed into a map, got %+v", calls[0].Arguments)
	}
}

func TestExtractToolCallsBareJSON(t *testing.T) {
	calls := ExtractToolCalls(`{"name":"get_time","arguments":{}}`)
	if len(calls) != 1 || calls[0].Name != "get_time" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestExtractToolCallsXMLSingle(t *testing.T) {
	content := "Plan:\n<tool_call><function=list_files><parameter=path>.</parameter></function></tool_call>"
	calls := ExtractToolCalls(content)
	if len(calls) != 1 || calls[0].Name != "list_files" || calls[0].Arguments["path"] != "." {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestExtractToolCallsXMLMultipleBlocksAndParameters(t *testing.T) {
	content := `<tool_call><function=write_file><parameter=path>a.txt</parameter><parameter=content>hello</parameter></function></tool_call>` +
		`<tool_call><function=read_file><parameter=path>b.txt</parameter></function></tool_call>`
	calls := ExtractToolCalls(content)
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Name != "write_file" || calls[0].Arguments["path"] != "a.txt" || calls[0].Arguments["content"] != "hello" {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[1].Name != "read_file" || calls[1].Arguments["path"] != "b.txt" {
		t.Errorf("calls[1] = %+v", calls[1])
	}
	if calls[0].ID == calls[1].ID {
		t.Error("expected distinct opaque IDs across calls")
	}
}

func TestExtractToolCallsNoneFound(t *testing.T) {
	if calls := ExtractToolCalls("just a plain answer, no tool calls here"); calls != nil {
		t.Fatalf("expected nil, got %+v", calls)
	}
}

func TestExtractToolCallsPrefersSentinelOverFencedJSON(t *testing.T) {
	content := "[TOOL_CALLS]list_files{\"path\":\".\"}\n```json\n{\"name\":\"read_file\",\"arguments\":{}}\n```"
	calls := ExtractToolCalls(content)
	if len(calls) != 1 || calls[0].Name != "list_files" {
		t.Fatalf("expected sentinel format to win, got %+v", calls)
	}
}

func TestValidateToolName(t *testing.T) {
	defs := []ToolDefinition{{Name: "read_file"}, {Name: "write_file"}}
	if err := ValidateToolName("read_file", defs); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateToolName("delete_everything", defs); err == nil {
		t.Error("expected error for unknown tool")
	}
	if err := ValidateToolName("anything", nil); err != nil {
		t.Errorf("empty defs should skip validation: %v", err)
	}
}
