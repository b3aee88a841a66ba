package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentichat/agentichat/internal/plan"
	"github.com/agentichat/agentichat/internal/tool"
)

// TodoWriteTool maintains a persisted, per-session todo list the agent uses to
// track multi-step work. Each request gets its own instance (via
// NewTodoWriteTool) to avoid data races on the sessionID and callback fields.
type TodoWriteTool struct {
	store     *plan.PlanStore
	sessionID string
	onUpdate  func(items []plan.PlanStep)
}

// NewTodoWriteTool creates a per-request instance with session context and a
// callback fired whenever the list changes (for streaming the todo view to a UI).
func NewTodoWriteTool(store *plan.PlanStore, sessionID string, onUpdate func([]plan.PlanStep)) *TodoWriteTool {
	return &TodoWriteTool{store: store, sessionID: sessionID, onUpdate: onUpdate}
}

func (t *TodoWriteTool) Name() string { return "todo_write" }
func (t *TodoWriteTool) Description() string {
	return "Maintain a structured todo list for the current task. Use \"set\" to write the full list of items, \"update\" to change one item's status. Plan with this before multi-step work (3+ distinct steps)."
}

// InputSchema is hand-crafted because BuildSchema doesn't support array types
// with item definitions, needed here for the items parameter.
func (t *TodoWriteTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"operation": {
				"type": "string",
				"enum": ["set", "update"],
				"description": "set writes the full todo list; update changes one item's status"
			},
			"items": {
				"type": "array",
				"description": "full list of todo items (required when operation=set)",
				"items": {
					"type": "object",
					"properties": {
						"id":    {"type": "string", "description": "unique item id"},
						"title": {"type": "string", "description": "item description"}
					},
					"required": ["id", "title"]
				}
			},
			"item_id": {"type": "string", "description": "item id (required when operation=update)"},
			"status":  {"type": "string", "enum": ["pending","in_progress","done","error","skipped"], "description": "new status (required when operation=update)"},
			"detail":  {"type": "string", "description": "optional note or error message"}
		},
		"required": ["operation"]
	}`)
}

func (t *TodoWriteTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }
func (t *TodoWriteTool) Init(_ context.Context) error      { return nil }
func (t *TodoWriteTool) Close() error                      { return nil }

// validTodoStatuses mirrors the JSON Schema enum for runtime validation, since
// an LLM may hallucinate a status outside it (e.g. "completed" instead of "done").
var validTodoStatuses = map[string]bool{
	"pending": true, "in_progress": true, "done": true,
	"error": true, "skipped": true,
}

type todoWriteArgs struct {
	Operation string          `json:"operation"`
	Items     []plan.PlanStep `json:"items"`
	ItemID    string          `json:"item_id"`
	Status    string          `json:"status"`
	Detail    string          `json:"detail"`
}

func (t *TodoWriteTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a todoWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	switch a.Operation {
	case "set":
		if len(a.Items) == 0 {
			return tool.ToolResult{Error: "set requires a non-empty items list"}, nil
		}
		// If the new list is identical to the current one, return a note instead
		// of positive feedback, so the model doesn't loop re-setting the same list.
		if current := t.store.Get(t.sessionID); todoListsEqual(current, a.Items) {
			return tool.ToolResult{Output: "todo list unchanged (identical to the current list); proceed with executing the steps instead of re-setting them"}, nil
		}
		t.store.Set(t.sessionID, a.Items)
		t.notifyUpdate()
		return tool.ToolResult{Output: fmt.Sprintf("todo list set: %d item(s)", len(a.Items))}, nil

	case "update":
		if a.ItemID == "" || a.Status == "" {
			return tool.ToolResult{Error: "update requires item_id and status"}, nil
		}
		if !validTodoStatuses[a.Status] {
			return tool.ToolResult{Error: fmt.Sprintf("invalid status %q, must be one of: pending/in_progress/done/error/skipped", a.Status)}, nil
		}
		// If the item already has the requested status, return an error (not
		// Output) so the model treats it as a strong signal to stop calling
		// todo_write and move on to an action tool instead.
		if current := t.findItemStatus(a.ItemID); current == a.Status {
			return tool.ToolResult{Error: fmt.Sprintf(
				"item %s is already %s; do not call todo_write again for it — call the tool that performs the step instead",
				a.ItemID, a.Status)}, nil
		}
		if t.store.Update(t.sessionID, a.ItemID, a.Status, a.Detail) {
			t.notifyUpdate()
			return tool.ToolResult{Output: fmt.Sprintf("%s -> %s", a.ItemID, a.Status)}, nil
		}
		if corrected := t.fuzzyMatchItemID(a.ItemID); corrected != "" {
			if t.store.Update(t.sessionID, corrected, a.Status, a.Detail) {
				t.notifyUpdate()
				return tool.ToolResult{Output: fmt.Sprintf("%s -> %s (corrected from %q)", corrected, a.Status, a.ItemID)}, nil
			}
		}
		ids := t.validItemIDs()
		return tool.ToolResult{Error: fmt.Sprintf("item %q not found; current item ids: [%s]", a.ItemID, strings.Join(ids, ", "))}, nil

	default:
		return tool.ToolResult{Error: fmt.Sprintf("unknown operation %q, must be set/update", a.Operation)}, nil
	}
}

func (t *TodoWriteTool) notifyUpdate() {
	if t.onUpdate != nil {
		t.onUpdate(t.store.Get(t.sessionID))
	}
}

// fuzzyMatchItemID attempts prefix-based correction for a mistyped item id.
// Returns the corrected id if exactly one candidate matches, empty otherwise.
func (t *TodoWriteTool) fuzzyMatchItemID(input string) string {
	items := t.store.Get(t.sessionID)
	if items == nil {
		return ""
	}
	var candidates []string
	for _, it := range items {
		if strings.HasPrefix(it.ID, input) || strings.HasPrefix(input, it.ID) {
			candidates = append(candidates, it.ID)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return ""
}

func (t *TodoWriteTool) validItemIDs() []string {
	items := t.store.Get(t.sessionID)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// todoListsEqual compares ids and titles only, ignoring status/detail, which
// legitimately change across repeated set calls.
func todoListsEqual(a, b []plan.PlanStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Title != b[i].Title {
			return false
		}
	}
	return true
}

func (t *TodoWriteTool) findItemStatus(itemID string) string {
	items := t.store.Get(t.sessionID)
	for _, it := range items {
		if it.ID == itemID {
			return it.Status
		}
	}
	return ""
}
