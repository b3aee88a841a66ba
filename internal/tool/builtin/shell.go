package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentichat/agentichat/internal/sandbox"
	"github.com/agentichat/agentichat/internal/tool"
)

const (
	shellDefaultTimeout = 30 * time.Second
	shellMaxTimeout     = 120 * time.Second
	maxOutputChars      = 8000
)

// dangerousPatterns are command patterns blocked for safety, checked
// case-insensitively against the command string. This is a best-effort
// blocklist, not a security boundary: determined attackers can bypass it
// (base64-encoded payloads, find -delete). Its purpose is preventing
// accidental damage from LLM-generated commands.
var dangerousPatterns = []string{
	"rm -rf /",
	"rm -r -f /",
	"rm --recursive",
	"rm -rf ~",
	"rm -rf $home",
	"rm -rf ${home}",
	"rm -rf -- /",
	"rm -r -f -- /",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	"halt",
	"init 0",
	"init 6",
	"systemctl poweroff",
	"systemctl halt",
	"pkill -9",
	"chmod -r 000 /",
	":(){:|:&};:",
	"format c:",
	"format d:",
	"del /s /q c:\\",
	"del /s /q d:\\",
	"rd /s /q c:\\",
	"rd /s /q d:\\",
	"remove-item -recurse c:",
	"remove-item -recurse d:",
}

// ShellExecTool runs a shell command inside the sandboxed workspace, with a
// timeout, output cap, dangerous-pattern blocklist, and filtered environment.
type ShellExecTool struct {
	box     *sandbox.Sandbox
	enabled bool
}

// NewShellExecTool creates a shell tool. Set enabled=false to disable execution.
func NewShellExecTool(box *sandbox.Sandbox, enabled bool) *ShellExecTool {
	return &ShellExecTool{box: box, enabled: enabled}
}

func (t *ShellExecTool) Name() string { return "shell_exec" }
func (t *ShellExecTool) Description() string {
	return "Execute a shell command inside the workspace and return its combined stdout/stderr output and exit status."
}
func (t *ShellExecTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmOnDestructive }
func (t *ShellExecTool) Init(_ context.Context) error      { return nil }
func (t *ShellExecTool) Close() error                      { return nil }

func (t *ShellExecTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "command", Type: "string", Description: "command to execute", Required: true},
		tool.SchemaParam{Name: "cwd", Type: "string", Description: "working directory, relative to the workspace root (defaults to the root)"},
		tool.SchemaParam{Name: "timeout", Type: "integer", Description: "timeout in seconds (default 30, max 120)"},
	)
}

type shellArgs struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
	Timeout int    `json:"timeout"`
}

func (t *ShellExecTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	if !t.enabled {
		return tool.ToolResult{Error: "shell_exec is disabled"}, nil
	}

	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}
	if a.Command == "" {
		return tool.ToolResult{Error: "command must not be empty"}, nil
	}

	cmdLower := strings.ToLower(a.Command)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(cmdLower, pattern) {
			return tool.ToolResult{Error: fmt.Sprintf("refusing to run a command matching a dangerous pattern: %q", pattern)}, nil
		}
	}

	// "kill -9 1" requires a word-boundary guard: simple substring matching would
	// also block "kill -9 12345" because "kill -9 1" is a prefix of it. We block
	// only when the character after "1" is non-alphanumeric (a complete PID
	// argument targeting the init process), scanning all occurrences so that a
	// compound command cannot hide a later match behind an earlier false positive.
	const killInitPattern = "kill -9 1"
	for search := cmdLower; ; {
		idx := strings.Index(search, killInitPattern)
		if idx < 0 {
			break
		}
		end := idx + len(killInitPattern)
		if end >= len(search) || !isDigitOrAlpha(search[end]) {
			return tool.ToolResult{Error: fmt.Sprintf("refusing to run a command matching a dangerous pattern: %q", killInitPattern)}, nil
		}
		search = search[idx+1:]
	}

	workDir := t.box.Root()
	if a.Cwd != "" {
		resolved, err := t.box.Resolve(a.Cwd)
		if err != nil {
			return tool.ToolResult{Error: err.Error()}, nil
		}
		workDir = resolved
	}

	timeout := shellDefaultTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Second
		if timeout > shellMaxTimeout {
			timeout = shellMaxTimeout
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := newShellCmd(runCtx, a.Command)
	cmd.Dir = workDir
	cmd.Env = filterEnv(os.Environ())

	output, err := cmd.CombinedOutput()
	outStr := safeRuneTruncate(string(output), maxOutputChars)
	outStr = strings.TrimSpace(outStr)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return tool.ToolResult{Error: fmt.Sprintf("command timed out (%v): %s", timeout, outStr)}, nil
		}
		if runCtx.Err() == context.Canceled {
			return tool.ToolResult{Error: fmt.Sprintf("command canceled: %s", outStr)}, nil
		}
		return tool.ToolResult{Output: outStr, Error: fmt.Sprintf("command exited with an error: %v", err)}, nil
	}

	return tool.ToolResult{Output: outStr}, nil
}

// safeRuneTruncate truncates a string to maxRunes runes in a single pass,
// preserving valid UTF-8 without extra allocations for non-truncated strings.
func safeRuneTruncate(s string, maxRunes int) string {
	count := 0
	for i := range s {
		count++
		if count > maxRunes {
			totalRunes := maxRunes + utf8.RuneCountInString(s[i:])
			return s[:i] + fmt.Sprintf("\n... (output truncated, %d characters total)", totalRunes)
		}
	}
	return s
}

// sensitiveEnvSuffixes are environment variable name suffixes that indicate secrets.
var sensitiveEnvSuffixes = []string{
	"_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_PASSWD",
	"_PASSPHRASE", "_CREDENTIALS", "_AUTH", "_DSN",
}

// sensitiveEnvPrefixes are environment variable name prefixes that indicate secrets.
var sensitiveEnvPrefixes = []string{
	"DATABASE_URL", "REDIS_URL", "MONGO_URL",
}

// filterEnv returns a copy of env with sensitive variables removed.
func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) < 2 {
			continue
		}
		nameUpper := strings.ToUpper(parts[0])

		sensitive := false
		for _, suffix := range sensitiveEnvSuffixes {
			if strings.HasSuffix(nameUpper, suffix) {
				sensitive = true
				break
			}
		}
		if !sensitive {
			for _, prefix := range sensitiveEnvPrefixes {
				if strings.HasPrefix(nameUpper, prefix) {
					sensitive = true
					break
				}
			}
		}

		if !sensitive {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// isDigitOrAlpha reports whether b is an ASCII digit or lowercase letter.
// cmdLower is already lowercased, so uppercase letters never appear here.
func isDigitOrAlpha(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z')
}
