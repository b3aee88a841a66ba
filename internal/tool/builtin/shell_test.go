package builtin

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"testing"
)

func TestDangerousPatternBlocking(t *testing.T) {
	tests := []struct {
		command     string
		shouldBlock bool
	}{
		{"ls -la", false},
		{"echo hello", false},
		{"cat file.txt", false},
		{"go build ./...", false},
		{"rm file.txt", false},
		{"pkill myprocess", false},
		{"kill 12345", false},
		{"chmod 755 script.sh", false},

		{"rm -rf /", true},
		{"rm -rf /*", true},
		{"RM -RF /", true},
		{"sudo rm -rf /home", true},
		{"rm -r -f /etc", true},
		{"rm --recursive /important", true},
		{"rm -rf ~", true},
		{"rm -rf $HOME", true},
		{"rm -rf ${HOME}", true},
		{"rm -rf -- /", true},
		{"rm -r -f -- /tmp/../..", true},

		{"shutdown -h now", true},
		{"reboot", true},
		{"halt", true},
		{"init 0", true},
		{"init 6", true},
		{"systemctl poweroff", true},
		{"systemctl halt", true},

		{"pkill -9 -1", true},
		{"kill -9 12345", false},

		{"chmod -R 000 /", true},

		{"mkfs.ext4 /dev/sda1", true},
		{"dd if=/dev/zero of=/dev/sda", true},

		{":(){:|:&};:", true},

		{"format c:", true},
		{"FORMAT C:", true},
		{"format d:", true},
		{"del /s /q c:\\", true},
		{"del /s /q d:\\", true},
		{"rd /s /q c:\\", true},
		{"rd /s /q d:\\", true},
		{"Remove-Item -Recurse C:\\", true},
		{"Remove-Item -Recurse D:\\Users", true},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			cmdLower := strings.ToLower(tt.command)
			blocked := false
			for _, pattern := range dangerousPatterns {
				if strings.Contains(cmdLower, pattern) {
					blocked = true
					break
				}
			}
			if blocked != tt.shouldBlock {
				t.Errorf("command %q: blocked=%v, want %v", tt.command, blocked, tt.shouldBlock)
			}
		})
	}
}

func TestSafeRuneTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxRunes int
	}{
		{"short ASCII", "hello", 10},
		{"exact limit", "hello", 5},
		{"truncate ASCII", "hello world", 5},
		{"unicode text short", "héllo wörld", 20},
		{"unicode text truncate", "héllo wörld truncated", 4},
		{"empty string", "", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := safeRuneTruncate(tt.input, tt.maxRunes)

			if len([]rune(tt.input)) <= tt.maxRunes {
				if result != tt.input {
					t.Errorf("should not truncate: got %q, want %q", result, tt.input)
				}
			} else {
				if !strings.Contains(result, "truncated") {
					t.Errorf("truncated result should mention truncation: %q", result)
				}
				prefix := result[:strings.Index(result, "\n...")]
				if len([]rune(prefix)) != tt.maxRunes {
					t.Errorf("prefix rune count = %d, want %d", len([]rune(prefix)), tt.maxRunes)
				}
			}
		})
	}
}

func TestSafeRuneTruncateCount(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxRunes  int
		wantTotal int
	}{
		{"ASCII 11 chars, limit 5", "hello world", 5, 11},
		{"unicode 9 chars, limit 4", "héllo wörld"[:11], 4, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := safeRuneTruncate(tt.input, tt.maxRunes)
			if !strings.Contains(result, "\n...") {
				t.Fatalf("expected truncation, got %q", result)
			}
			actualTotal := len([]rune(tt.input))
			if actualTotal != tt.wantTotal {
				t.Fatalf("test setup error: input has %d runes, want %d", actualTotal, tt.wantTotal)
			}
			marker := "characters total)"
			idx := strings.Index(result, marker)
			if idx < 0 {
				t.Fatalf("truncation marker not found in %q", result)
			}
			before := result[:idx]
			spaceIdx := strings.LastIndex(strings.TrimRight(before, " "), " ")
			numStr := strings.TrimSpace(before[spaceIdx:])
			var got int
			for _, ch := range numStr {
				if ch < '0' || ch > '9' {
					t.Fatalf("unexpected char %q in number %q", ch, numStr)
				}
				got = got*10 + int(ch-'0')
			}
			if got != tt.wantTotal {
				t.Errorf("reported total = %d, want %d (input runes = %d)", got, tt.wantTotal, actualTotal)
			}
		})
	}
}

func TestExecuteDisabled(t *testing.T) {
	box, _ := newTestSandbox(t)
	st := NewShellExecTool(box, false)
	args, _ := json.Marshal(shellArgs{Command: "echo hi"})
	result, err := st.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" || !strings.Contains(result.Error, "disabled") {
		t.Errorf("expected disabled error, got: %+v", result)
	}
}

func TestExecuteEmptyCommand(t *testing.T) {
	box, _ := newTestSandbox(t)
	st := NewShellExecTool(box, true)
	args, _ := json.Marshal(shellArgs{Command: ""})
	result, err := st.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" || !strings.Contains(result.Error, "must not be empty") {
		t.Errorf("expected empty command error, got: %+v", result)
	}
}

func TestExecuteDangerousBlocked(t *testing.T) {
	box, _ := newTestSandbox(t)
	st := NewShellExecTool(box, true)
	args, _ := json.Marshal(shellArgs{Command: "rm -rf /"})
	result, err := st.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" || !strings.Contains(result.Error, "dangerous pattern") {
		t.Errorf("expected safety error, got: %+v", result)
	}
}

func TestExecuteKillInitWordBoundary(t *testing.T) {
	box, _ := newTestSandbox(t)
	st := NewShellExecTool(box, true)

	args, _ := json.Marshal(shellArgs{Command: "kill -9 1"})
	result, err := st.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" || !strings.Contains(result.Error, "dangerous pattern") {
		t.Errorf("kill -9 1 should be blocked, got: %+v", result)
	}

	args2, _ := json.Marshal(shellArgs{Command: "kill -9 12345"})
	result2, err := st.Execute(context.Background(), args2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result2.Error, "dangerous pattern") {
		t.Errorf("kill -9 12345 should NOT be blocked by the safety limit, got: %+v", result2)
	}

	args3, _ := json.Marshal(shellArgs{Command: "echo kill -9 12345; kill -9 1"})
	result3, err := st.Execute(context.Background(), args3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result3.Error == "" || !strings.Contains(result3.Error, "dangerous pattern") {
		t.Errorf("compound 'kill -9 12345; kill -9 1' should be blocked, got: %+v", result3)
	}
}

func TestExecuteSuccessfulCommand(t *testing.T) {
	box, _ := newTestSandbox(t)
	st := NewShellExecTool(box, true)
	args, _ := json.Marshal(shellArgs{Command: "echo hello_agentichat"})
	result, err := st.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Errorf("unexpected error: %s", result.Error)
	}
	if !strings.Contains(result.Output, "hello_agentichat") {
		t.Errorf("expected output to contain 'hello_agentichat', got: %q", result.Output)
	}
}

func TestExecuteRunsInRequestedCwd(t *testing.T) {
	box, root := newTestSandbox(t)
	if err := os.Mkdir(root+"/sub", 0755); err != nil {
		t.Fatal(err)
	}
	st := NewShellExecTool(box, true)
	cmd := "pwd"
	if runtime.GOOS == "windows" {
		cmd = "cd"
	}
	args, _ := json.Marshal(shellArgs{Command: cmd, Cwd: "sub"})
	result, err := st.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, "sub") {
		t.Errorf("expected output to reference the requested cwd, got: %q", result.Output)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	box, _ := newTestSandbox(t)
	st := NewShellExecTool(box, true)
	var cmd string
	if runtime.GOOS == "windows" {
		cmd = "cmd /c exit 1"
	} else {
		cmd = "exit 1"
	}
	args, _ := json.Marshal(shellArgs{Command: cmd})
	result, err := st.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" || !strings.Contains(result.Error, "exited with an error") {
		t.Errorf("expected exit error, got: %+v", result)
	}
}

func TestExecuteBadJSON(t *testing.T) {
	box, _ := newTestSandbox(t)
	st := NewShellExecTool(box, true)
	result, err := st.Execute(context.Background(), []byte(`not json`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" || !strings.Contains(result.Error, "failed to parse arguments") {
		t.Errorf("expected parse error, got: %+v", result)
	}
}

func TestShellExecRequiresConfirmation(t *testing.T) {
	box, _ := newTestSandbox(t)
	if !NewShellExecTool(box, true).ConfirmPolicy().RequiresConfirmation() {
		t.Error("shell_exec must confirm")
	}
}

func TestFilterEnv(t *testing.T) {
	input := []string{
		"PATH=/usr/bin",
		"HOME=/home/user",
		"OPENAI_API_KEY=sk-1234",
		"DATABASE_URL=postgres://...",
		"TAVILY_API_KEY=tvly-xxx",
		"MY_SECRET=hidden",
		"MY_TOKEN=abc",
		"MY_PASSWORD=xyz",
		"GOPATH=/go",
		"REDIS_URL=redis://...",
		"NORMAL_VAR=hello",
	}

	filtered := filterEnv(input)
	filteredStr := strings.Join(filtered, "\n")

	if !strings.Contains(filteredStr, "PATH=/usr/bin") {
		t.Error("PATH should be kept")
	}
	if !strings.Contains(filteredStr, "HOME=/home/user") {
		t.Error("HOME should be kept")
	}
	if !strings.Contains(filteredStr, "GOPATH=/go") {
		t.Error("GOPATH should be kept")
	}
	if !strings.Contains(filteredStr, "NORMAL_VAR=hello") {
		t.Error("NORMAL_VAR should be kept")
	}

	if strings.Contains(filteredStr, "OPENAI_API_KEY") {
		t.Error("OPENAI_API_KEY should be filtered")
	}
	if strings.Contains(filteredStr, "DATABASE_URL") {
		t.Error("DATABASE_URL should be filtered")
	}
	if strings.Contains(filteredStr, "TAVILY_API_KEY") {
		t.Error("TAVILY_API_KEY should be filtered")
	}
	if strings.Contains(filteredStr, "MY_SECRET") {
		t.Error("MY_SECRET should be filtered")
	}
	if strings.Contains(filteredStr, "MY_TOKEN") {
		t.Error("MY_TOKEN should be filtered")
	}
	if strings.Contains(filteredStr, "MY_PASSWORD") {
		t.Error("MY_PASSWORD should be filtered")
	}
	if strings.Contains(filteredStr, "REDIS_URL") {
		t.Error("REDIS_URL should be filtered")
	}
}
