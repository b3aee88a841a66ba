package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentichat/agentichat/internal/sandbox"
	"github.com/agentichat/agentichat/internal/tool"
)

const (
	maxReadSize    = 1 << 20 // 1MB — read limit per call
	maxWriteSize   = 1 << 20 // 1MB — reject oversized content before filesystem access
	maxListItems   = 200
	maxFindResults = 100
)

// ── list_files ──

type ListFilesTool struct {
	box *sandbox.Sandbox
}

func NewListFilesTool(box *sandbox.Sandbox) *ListFilesTool { return &ListFilesTool{box: box} }

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List entries in a directory within the workspace." }
func (t *ListFilesTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }
func (t *ListFilesTool) Init(_ context.Context) error      { return nil }
func (t *ListFilesTool) Close() error                      { return nil }

func (t *ListFilesTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "directory path, relative to the workspace root", Required: true},
		tool.SchemaParam{Name: "recursive", Type: "boolean", Description: "list subdirectories recursively"},
		tool.SchemaParam{Name: "pattern", Type: "string", Description: "glob pattern to filter entry names, e.g. '*.go'"},
	)
}

type listFilesArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Pattern   string `json:"pattern"`
}

func (t *ListFilesTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a listFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	path, err := t.box.Resolve(a.Path)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	var sb strings.Builder
	count := 0
	walk := func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == path {
			return nil
		}
		if a.Pattern != "" {
			matched, _ := filepath.Match(a.Pattern, d.Name())
			if !matched {
				if d.IsDir() && a.Recursive {
					return nil
				}
				if d.IsDir() && !a.Recursive {
					return nil
				}
				return nil
			}
		}
		if count >= maxListItems {
			return fmt.Errorf("limit reached")
		}
		rel, _ := filepath.Rel(path, p)
		info, _ := d.Info()
		size := ""
		if !d.IsDir() && info != nil {
			size = fmt.Sprintf(" (%d bytes)", info.Size())
		}
		kind := "file"
		if d.IsDir() {
			kind = "dir"
		}
		sb.WriteString(fmt.Sprintf("%s  %s%s\n", kind, rel, size))
		count++
		if d.IsDir() && !a.Recursive && p != path {
			return filepath.SkipDir
		}
		return nil
	}

	if a.Recursive {
		_ = filepath.WalkDir(path, walk)
	} else {
		entries, err := os.ReadDir(path)
		if err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("directory not found: %s", a.Path)}, nil
		}
		for _, e := range entries {
			_ = walk(filepath.Join(path, e.Name()), e, nil)
		}
	}

	if count == 0 {
		return tool.ToolResult{Output: "(empty directory)"}, nil
	}
	if count >= maxListItems {
		sb.WriteString(fmt.Sprintf("... (truncated at %d entries)\n", maxListItems))
	}
	return tool.ToolResult{Output: sb.String()}, nil
}

// ── read_file ──

type ReadFileTool struct {
	box *sandbox.Sandbox
}

func NewReadFileTool(box *sandbox.Sandbox) *ReadFileTool { return &ReadFileTool{box: box} }

func (t *ReadFileTool) Name() string                   { return "read_file" }
func (t *ReadFileTool) Description() string             { return "Read a slice of a file's textual content." }
func (t *ReadFileTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }
func (t *ReadFileTool) Init(_ context.Context) error     { return nil }
func (t *ReadFileTool) Close() error                     { return nil }

func (t *ReadFileTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "file path, relative to the workspace root", Required: true},
		tool.SchemaParam{Name: "start_line", Type: "integer", Description: "1-indexed first line to return (default: 1)"},
		tool.SchemaParam{Name: "end_line", Type: "integer", Description: "1-indexed last line to return (default: end of file)"},
	)
}

type readFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (t *ReadFileTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	path, err := t.box.Resolve(a.Path)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}
	if err := t.box.CheckSize(path); err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("file not found: %s", a.Path)}, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("stat failed: %v", err)}, nil
	}
	if info.IsDir() {
		return tool.ToolResult{Error: "path is a directory, use list_files instead"}, nil
	}

	data, err := io.ReadAll(io.LimitReader(f, maxReadSize))
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("read failed: %v", err)}, nil
	}

	if a.StartLine <= 0 && a.EndLine <= 0 {
		return tool.ToolResult{Output: string(data)}, nil
	}

	lines := strings.Split(string(data), "\n")
	start := a.StartLine
	if start <= 0 {
		start = 1
	}
	end := a.EndLine
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return tool.ToolResult{Output: ""}, nil
	}
	return tool.ToolResult{Output: strings.Join(lines[start-1:end], "\n")}, nil
}

// ── write_file ──

type WriteFileTool struct {
	box *sandbox.Sandbox
}

func NewWriteFileTool(box *sandbox.Sandbox) *WriteFileTool { return &WriteFileTool{box: box} }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Create, overwrite, or append to a file within the workspace."
}
func (t *WriteFileTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmOnDestructive }
func (t *WriteFileTool) Init(_ context.Context) error      { return nil }
func (t *WriteFileTool) Close() error                      { return nil }

func (t *WriteFileTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "file path, relative to the workspace root", Required: true},
		tool.SchemaParam{Name: "content", Type: "string", Description: "content to write", Required: true},
		tool.SchemaParam{Name: "mode", Type: "string", Description: "create, overwrite, or append", Enum: []string{"create", "overwrite", "append"}, Required: true},
	)
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode"`
}

func (t *WriteFileTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}
	if len(a.Content) > maxWriteSize {
		return tool.ToolResult{Error: fmt.Sprintf("content too large (%d bytes), max %d bytes", len(a.Content), maxWriteSize)}, nil
	}

	path, err := t.box.Resolve(a.Path)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to create parent directories: %v", err)}, nil
	}

	switch a.Mode {
	case "create":
		if _, err := os.Stat(path); err == nil {
			return tool.ToolResult{Error: fmt.Sprintf("%s already exists, use mode=overwrite to replace it", a.Path)}, nil
		}
		if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("write failed: %v", err)}, nil
		}
	case "overwrite", "":
		if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("write failed: %v", err)}, nil
		}
	case "append":
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("open for append failed: %v", err)}, nil
		}
		defer f.Close()
		if _, err := f.WriteString(a.Content); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("append failed: %v", err)}, nil
		}
	default:
		return tool.ToolResult{Error: fmt.Sprintf("unknown mode %q, expected create/overwrite/append", a.Mode)}, nil
	}

	return tool.ToolResult{Output: fmt.Sprintf("wrote %s (%d bytes, mode=%s)", a.Path, len(a.Content), a.Mode)}, nil
}

// ── glob_search ──

// skipDirs contains directory names to skip during recursive search.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".idea": true, ".vscode": true,
	"vendor": true, "__pycache__": true, ".cache": true,
}

type GlobSearchTool struct {
	box *sandbox.Sandbox
}

func NewGlobSearchTool(box *sandbox.Sandbox) *GlobSearchTool { return &GlobSearchTool{box: box} }

func (t *GlobSearchTool) Name() string { return "glob_search" }
func (t *GlobSearchTool) Description() string {
	return "Recursively search the workspace for paths matching a glob pattern."
}
func (t *GlobSearchTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }
func (t *GlobSearchTool) Init(_ context.Context) error      { return nil }
func (t *GlobSearchTool) Close() error                      { return nil }

func (t *GlobSearchTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "pattern", Type: "string", Description: "glob pattern, e.g. '*.go' or 'internal'", Required: true},
	)
}

func (t *GlobSearchTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}
	pattern := strings.TrimSpace(a.Pattern)
	if pattern == "" {
		return tool.ToolResult{Error: "pattern must not be empty"}, nil
	}

	root := t.box.Root()
	var results []string
	lowerPattern := strings.ToLower(pattern)
	isGlob := strings.ContainsAny(pattern, "*?[")

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		name := d.Name()
		var matched bool
		if isGlob {
			matched, _ = filepath.Match(lowerPattern, strings.ToLower(name))
		} else {
			matched = strings.Contains(strings.ToLower(name), lowerPattern)
		}
		if matched {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			results = append(results, rel)
			if len(results) >= maxFindResults {
				return fmt.Errorf("limit reached")
			}
		}
		return nil
	})

	if len(results) == 0 {
		return tool.ToolResult{Output: fmt.Sprintf("no paths matched %q", pattern)}, nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d match(es):\n", len(results)))
	for _, r := range results {
		sb.WriteString(r + "\n")
	}
	if len(results) >= maxFindResults {
		sb.WriteString(fmt.Sprintf("(truncated at %d results)\n", maxFindResults))
	}
	return tool.ToolResult{Output: sb.String()}, nil
}

// ── create_directory ──

type CreateDirectoryTool struct {
	box *sandbox.Sandbox
}

func NewCreateDirectoryTool(box *sandbox.Sandbox) *CreateDirectoryTool {
	return &CreateDirectoryTool{box: box}
}

func (t *CreateDirectoryTool) Name() string                   { return "create_directory" }
func (t *CreateDirectoryTool) Description() string             { return "Create a directory (and any missing parents) within the workspace." }
func (t *CreateDirectoryTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }
func (t *CreateDirectoryTool) Init(_ context.Context) error     { return nil }
func (t *CreateDirectoryTool) Close() error                     { return nil }

func (t *CreateDirectoryTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "directory path, relative to the workspace root", Required: true},
	)
}

func (t *CreateDirectoryTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a filePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}
	path, err := t.box.Resolve(a.Path)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("mkdir failed: %v", err)}, nil
	}
	return tool.ToolResult{Output: fmt.Sprintf("created %s", a.Path)}, nil
}

type filePathArgs struct {
	Path string `json:"path"`
}
