package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentichat/agentichat/internal/tool"
)

// GetTimeTool returns the current time, optionally converted to a named
// IANA timezone. Supplemental to the catalogue: not required by any
// operation, but present in the teacher's idiom of a complete CLI toolset.
type GetTimeTool struct{}

func NewGetTimeTool() *GetTimeTool { return &GetTimeTool{} }

func (t *GetTimeTool) Name() string        { return "get_time" }
func (t *GetTimeTool) Description() string { return "Get the current date and time, optionally in a given IANA timezone." }

func (t *GetTimeTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. Asia/Shanghai (optional, defaults to local time)"},
	)
}

func (t *GetTimeTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }
func (t *GetTimeTool) Init(_ context.Context) error      { return nil }
func (t *GetTimeTool) Close() error                      { return nil }

type timeArgs struct {
	Timezone string `json:"timezone"`
}

func (t *GetTimeTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a timeArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
		}
	}

	now := time.Now()

	if a.Timezone != "" {
		loc, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("invalid timezone %q: %v", a.Timezone, err)}, nil
		}
		now = now.In(loc)
	}

	output := fmt.Sprintf("%s (%s)", now.Format("2006-01-02 15:04:05 MST"), now.Weekday())

	return tool.ToolResult{Output: output}, nil
}
