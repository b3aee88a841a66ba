package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agentichat/agentichat/internal/plan"
)

func newTestTodoTool() (*TodoWriteTool, *plan.PlanStore, *[][]plan.PlanStep) {
	store := plan.NewPlanStore()
	var callbacks [][]plan.PlanStep
	tl := NewTodoWriteTool(store, "test-session", func(items []plan.PlanStep) {
		callbacks = append(callbacks, items)
	})
	return tl, store, &callbacks
}

func TestTodoWriteSetOperation(t *testing.T) {
	tl, store, _ := newTestTodoTool()
	args := `{"operation":"set","items":[{"id":"s1","title":"Step One"},{"id":"s2","title":"Step Two"}]}`
	result, err := tl.Execute(context.Background(), json.RawMessage(args))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	items := store.Get("test-session")
	if len(items) != 2 {
		t.Fatalf("expected 2 items stored, got %d", len(items))
	}
	if items[0].Status != "pending" {
		t.Errorf("expected default pending status, got %q", items[0].Status)
	}
}

func TestTodoWriteUpdateOperation(t *testing.T) {
	tl, store, _ := newTestTodoTool()
	tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[{"id":"s1","title":"Step"}]}`))

	result, err := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"s1","status":"done","detail":"completed"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	items := store.Get("test-session")
	if items[0].Status != "done" || items[0].Detail != "completed" {
		t.Errorf("unexpected item after update: %+v", items[0])
	}
}

func TestTodoWriteInvalidOperation(t *testing.T) {
	tl, _, _ := newTestTodoTool()
	result, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"delete"}`))
	if result.Error == "" {
		t.Error("expected error for invalid operation")
	}
}

func TestTodoWriteInvalidStatus(t *testing.T) {
	tl, _, _ := newTestTodoTool()
	tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[{"id":"s1","title":"Step"}]}`))

	result, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"s1","status":"completed"}`))
	if result.Error == "" {
		t.Error("expected error for invalid status 'completed'")
	}
}

func TestTodoWriteSetEmptyItems(t *testing.T) {
	tl, _, _ := newTestTodoTool()
	result, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[]}`))
	if result.Error == "" {
		t.Error("expected error for empty items")
	}
}

func TestTodoWriteUpdateMissingFields(t *testing.T) {
	tl, _, _ := newTestTodoTool()
	result, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"","status":"done"}`))
	if result.Error == "" {
		t.Error("expected error for empty item_id")
	}
	result, _ = tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"s1","status":""}`))
	if result.Error == "" {
		t.Error("expected error for empty status")
	}
}

func TestTodoWriteUpdateNonexistentItem(t *testing.T) {
	tl, _, _ := newTestTodoTool()
	tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[{"id":"s1","title":"Step"}]}`))

	result, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"ghost","status":"done"}`))
	if result.Error == "" {
		t.Error("expected error for non-existent item")
	}
	if !strings.Contains(result.Error, "s1") {
		t.Errorf("error should list valid item ids, got: %s", result.Error)
	}
}

func TestTodoWriteFuzzyMatchPrefix(t *testing.T) {
	tl, store, _ := newTestTodoTool()
	tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[
		{"id":"check_conflicts","title":"Check conflicts"},
		{"id":"create_server","title":"Create server"}
	]}`))

	result, err := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"check_conflict","status":"done"}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("expected fuzzy match to succeed, got error: %s", result.Error)
	}
	if !strings.Contains(result.Output, "corrected from") {
		t.Errorf("expected auto-correction note in output, got: %s", result.Output)
	}

	items := store.Get("test-session")
	for _, it := range items {
		if it.ID == "check_conflicts" && it.Status != "done" {
			t.Errorf("expected check_conflicts to be done, got %q", it.Status)
		}
	}
}

func TestTodoWriteFuzzyMatchAmbiguous(t *testing.T) {
	tl, _, _ := newTestTodoTool()
	tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[
		{"id":"create_server","title":"Create server"},
		{"id":"create_service","title":"Create service"}
	]}`))

	result, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"create_serv","status":"done"}`))
	if result.Error == "" {
		t.Error("expected error for ambiguous fuzzy match")
	}
	if !strings.Contains(result.Error, "create_server") || !strings.Contains(result.Error, "create_service") {
		t.Errorf("error should list valid item ids, got: %s", result.Error)
	}
}

func TestTodoWriteCallback(t *testing.T) {
	tl, _, callbacks := newTestTodoTool()
	tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[{"id":"s1","title":"Step"}]}`))

	if len(*callbacks) != 1 {
		t.Fatalf("expected 1 callback after set, got %d", len(*callbacks))
	}
	if len((*callbacks)[0]) != 1 || (*callbacks)[0][0].ID != "s1" {
		t.Errorf("callback received wrong data: %v", (*callbacks)[0])
	}

	tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"s1","status":"done"}`))
	if len(*callbacks) != 2 {
		t.Fatalf("expected 2 callbacks total, got %d", len(*callbacks))
	}
}

func TestTodoWriteSetDedupIdenticalList(t *testing.T) {
	tl, _, callbacks := newTestTodoTool()
	args := `{"operation":"set","items":[{"id":"s1","title":"Step One"},{"id":"s2","title":"Step Two"}]}`

	r1, _ := tl.Execute(context.Background(), json.RawMessage(args))
	if !strings.Contains(r1.Output, "set:") {
		t.Fatalf("first set should succeed, got: %s", r1.Output)
	}

	r2, _ := tl.Execute(context.Background(), json.RawMessage(args))
	if !strings.Contains(r2.Output, "unchanged") {
		t.Fatalf("duplicate set should return an unchanged note, got: %s", r2.Output)
	}

	if len(*callbacks) != 1 {
		t.Errorf("expected 1 callback (dedup should skip), got %d", len(*callbacks))
	}
}

func TestTodoWriteSetDifferentListAllowed(t *testing.T) {
	tl, store, _ := newTestTodoTool()
	args1 := `{"operation":"set","items":[{"id":"s1","title":"Step One"}]}`
	args2 := `{"operation":"set","items":[{"id":"s1","title":"Step One"},{"id":"s2","title":"Step Two"}]}`

	tl.Execute(context.Background(), json.RawMessage(args1))
	r2, _ := tl.Execute(context.Background(), json.RawMessage(args2))

	if !strings.Contains(r2.Output, "set:") {
		t.Fatalf("different list should succeed, got: %s", r2.Output)
	}
	items := store.Get("test-session")
	if len(items) != 2 {
		t.Errorf("expected 2 items after second set, got %d", len(items))
	}
}

func TestTodoWriteUpdateDedupSameStatus(t *testing.T) {
	tl, _, _ := newTestTodoTool()
	tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[{"id":"s1","title":"Step"}]}`))

	r1, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"s1","status":"in_progress"}`))
	if r1.Error != "" {
		t.Fatalf("first update should succeed, got error: %s", r1.Error)
	}

	r2, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"s1","status":"in_progress"}`))
	if r2.Error == "" {
		t.Fatalf("duplicate update should return error, got output: %s", r2.Output)
	}
	if !strings.Contains(r2.Error, "already") {
		t.Errorf("error should say the item is already in that status, got: %s", r2.Error)
	}
}

func TestTodoWriteUpdateDifferentStatusAllowed(t *testing.T) {
	tl, store, _ := newTestTodoTool()
	tl.Execute(context.Background(), json.RawMessage(`{"operation":"set","items":[{"id":"s1","title":"Step"}]}`))

	tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"s1","status":"in_progress"}`))
	r2, _ := tl.Execute(context.Background(), json.RawMessage(`{"operation":"update","item_id":"s1","status":"done"}`))

	if r2.Error != "" {
		t.Fatalf("different status update should succeed, got error: %s", r2.Error)
	}
	items := store.Get("test-session")
	if items[0].Status != "done" {
		t.Errorf("expected done, got %q", items[0].Status)
	}
}

func TestTodoWriteNeverConfirms(t *testing.T) {
	tl, _, _ := newTestTodoTool()
	if tl.ConfirmPolicy().RequiresConfirmation() {
		t.Error("todo_write should never confirm")
	}
}
