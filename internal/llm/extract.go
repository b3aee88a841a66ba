package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agentichat/agentichat/internal/agenterr"
	"github.com/google/uuid"
)

// ExtractedCall is a tool invocation recovered from raw assistant text by
// ExtractToolCalls, independent of which wire format produced it.
type ExtractedCall struct {
	// ID is a freshly generated opaque identifier, assigned to every
	// extracted call regardless of format so downstream tool-result
	// messages always have something to set ToolCallID to.
	ID        string
	Name      string
	Arguments map[string]any
}

// fencedJSONBlock matches a single ```json fenced code block.
var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// sentinelCall matches the bracket-sentinel format some fine-tuned models
// emit: [TOOL_CALLS]name{"arg":"value"}
var sentinelCall = regexp.MustCompile(`(?s)\A\s*\[TOOL_CALLS\]\s*([a-zA-Z_][\w.-]*)\s*(\{.*\})\s*\z`)

// bareJSONCall matches the content being, in its entirety, a single JSON
// object with no surrounding fence.
var bareJSONCall = regexp.MustCompile(`(?s)\A\s*(\{.*\})\s*\z`)

// xmlToolCallBlock matches one <tool_call>...</tool_call> block, capturing
// the function name and its inner parameter tags.
var xmlToolCallBlock = regexp.MustCompile(`(?s)<tool_call>\s*<function=([a-zA-Z_][\w.-]*)>(.*?)</function>\s*</tool_call>`)

// xmlParameterTag matches one <parameter=K>V</parameter> pair inside a
// function block.
var xmlParameterTag = regexp.MustCompile(`(?s)<parameter=([a-zA-Z_][\w.-]*)>(.*?)</parameter>`)

type callEnvelope struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// ExtractToolCalls recovers tool invocations embedded in free-form assistant
// text, trying each wire format in order and returning the first match:
//  1. the "[TOOL_CALLS]name{...}" sentinel format
//  2. a fenced ```json code block containing a single {"name":...,
//     "arguments":...} object
//  3. a bare JSON object with the same shape, with no code fence
//  4. the XML-like "<tool_call><function=NAME><parameter=K>V</parameter>
//     ...</function></tool_call>" form, possibly repeated
//
// Every returned call carries a freshly generated opaque ID. Callers should
// treat a nil result as "no tool call present, surface content as a plain
// answer".
func ExtractToolCalls(content string) []ExtractedCall {
	if calls, ok := extractSentinel(content); ok {
		return calls
	}
	if calls, ok := extractFencedJSON(content); ok {
		return calls
	}
	if calls, ok := extractBareJSON(content); ok {
		return calls
	}
	if calls, ok := extractXMLToolCall(content); ok {
		return calls
	}
	return nil
}

// normalizeArguments turns the envelope's arguments field, which may arrive
// as a JSON string (some providers double-encode) or a map, into a map;
// any other shape becomes the empty map.
func normalizeArguments(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m
		}
	}
	return map[string]any{}
}

func extractSentinel(content string) ([]ExtractedCall, bool) {
	m := sentinelCall.FindStringSubmatch(content)
	if m == nil {
		return nil, false
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(m[2]), &args); err != nil {
		return nil, false
	}
	return []ExtractedCall{{ID: uuid.New().String(), Name: m[1], Arguments: args}}, true
}

func extractFencedJSON(content string) ([]ExtractedCall, bool) {
	m := fencedJSONBlock.FindStringSubmatch(content)
	if m == nil {
		return nil, false
	}
	return decodeCallEnvelope(strings.TrimSpace(m[1]))
}

func extractBareJSON(content string) ([]ExtractedCall, bool) {
	m := bareJSONCall.FindStringSubmatch(content)
	if m == nil {
		return nil, false
	}
	return decodeCallEnvelope(m[1])
}

func decodeCallEnvelope(body string) ([]ExtractedCall, bool) {
	var env callEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil || env.Name == "" {
		return nil, false
	}
	return []ExtractedCall{{
		ID:        uuid.New().String(),
		Name:      env.Name,
		Arguments: normalizeArguments(env.Arguments),
	}}, true
}

func extractXMLToolCall(content string) ([]ExtractedCall, bool) {
	matches := xmlToolCallBlock.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, false
	}
	calls := make([]ExtractedCall, 0, len(matches))
	for _, m := range matches {
		name, body := m[1], m[2]
		args := map[string]any{}
		for _, p := range xmlParameterTag.FindAllStringSubmatch(body, -1) {
			args[p[1]] = strings.TrimSpace(p[2])
		}
		calls = append(calls, ExtractedCall{ID: uuid.New().String(), Name: name, Arguments: args})
	}
	return calls, true
}

// ValidateToolName reports a TOOL_NOT_AVAILABLE error if name is not among
// defs; callers should run this before dispatching an extracted call so an
// unrecognized tool name surfaces as a typed error rather than a panic deep
// in the registry.
func ValidateToolName(name string, defs []ToolDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	for _, d := range defs {
		if d.Name == name {
			return nil
		}
	}
	return agenterr.Newf(agenterr.ToolNotAvailable, "model requested unknown tool %q", name)
}
