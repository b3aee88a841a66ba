package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agentichat/agentichat/internal/tool"
)

const gitTimeout = 10 * time.Second

// GitStatusTool gives the agent a read-only summary of the workspace's git
// state: a short status plus a diff --stat, optionally scoped to one path.
// It never mutates the repository and never confirms.
type GitStatusTool struct {
	workspaceDir string
}

// NewGitStatusTool creates a git_status tool scoped to the given workspace.
func NewGitStatusTool(workspaceDir string) *GitStatusTool {
	return &GitStatusTool{workspaceDir: workspaceDir}
}

func (t *GitStatusTool) Name() string { return "git_status" }
func (t *GitStatusTool) Description() string {
	return "Report the workspace's git status (short form) and a diff --stat summary, optionally scoped to a path."
}

func (t *GitStatusTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "optional: limit the report to this path, e.g. internal/agent/"},
	)
}

func (t *GitStatusTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }
func (t *GitStatusTool) Init(_ context.Context) error      { return nil }
func (t *GitStatusTool) Close() error                      { return nil }

type gitStatusArgs struct {
	Path string `json:"path"`
}

func (t *GitStatusTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a gitStatusArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
		}
	}
	path := strings.TrimSpace(a.Path)

	statusArgs := []string{"status", "--short"}
	diffArgs := []string{"diff", "--stat"}
	if path != "" {
		statusArgs = append(statusArgs, "--", path)
		diffArgs = append(diffArgs, "--", path)
	}

	statusOut, err := t.runGit(ctx, statusArgs)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}
	diffOut, err := t.runGit(ctx, diffArgs)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	if statusOut == "" {
		statusOut = "(clean)"
	}
	if diffOut == "" {
		diffOut = "(no unstaged changes)"
	}

	output := fmt.Sprintf("status --short:\n%s\n\ndiff --stat:\n%s", statusOut, diffOut)
	return tool.ToolResult{Output: safeRuneTruncate(output, maxOutputChars)}, nil
}

func (t *GitStatusTool) runGit(ctx context.Context, gitArgs []string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", gitArgs...)
	cmd.Dir = t.workspaceDir
	cmd.Env = filterEnv(os.Environ())

	output, err := cmd.CombinedOutput()
	outStr := strings.TrimSpace(string(output))
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git command timed out (%v): %s", gitTimeout, outStr)
		}
		return "", fmt.Errorf("git command failed: %v: %s", err, outStr)
	}
	return outStr, nil
}
