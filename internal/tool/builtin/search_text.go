package builtin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentichat/agentichat/internal/sandbox"
	"github.com/agentichat/agentichat/internal/tool"
)

const (
	grepTimeout         = 15 * time.Second
	grepDefaultMax      = 50
	grepHardMax         = 200
	grepMaxLineLen      = 200
	grepMaxContextLines = 3
	grepMaxFileSize     = 10 << 20
)

// SearchTextTool greps file content within the sandbox by regex or literal
// pattern, returning file, line number and the matched line with optional
// surrounding context.
type SearchTextTool struct {
	box *sandbox.Sandbox
}

func NewSearchTextTool(box *sandbox.Sandbox) *SearchTextTool { return &SearchTextTool{box: box} }

func (t *SearchTextTool) Name() string { return "search_text" }
func (t *SearchTextTool) Description() string {
	return "Search file contents within the workspace by regex or literal pattern, returning file, line number, and the matched line."
}
func (t *SearchTextTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }
func (t *SearchTextTool) Init(_ context.Context) error      { return nil }
func (t *SearchTextTool) Close() error                      { return nil }

func (t *SearchTextTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "query", Type: "string", Description: "search pattern (regex supported)", Required: true},
		tool.SchemaParam{Name: "path", Type: "string", Description: "directory or file to search, defaults to the workspace root"},
		tool.SchemaParam{Name: "regex", Type: "boolean", Description: "treat query as a regular expression (default false: literal match)"},
		tool.SchemaParam{Name: "case_sensitive", Type: "boolean", Description: "case-sensitive match (default false)"},
		tool.SchemaParam{Name: "file_glob", Type: "string", Description: "filename filter, e.g. *.go or *.{ts,tsx}"},
		tool.SchemaParam{Name: "context_lines", Type: "integer", Description: "lines of context before and after a match (default 0, max 3)"},
		tool.SchemaParam{Name: "max_results", Type: "integer", Description: "maximum number of matches returned (default 50, max 200)"},
	)
}

type searchTextArgs struct {
	Query         string `json:"query"`
	Path          string `json:"path"`
	Regex         bool   `json:"regex"`
	CaseSensitive bool   `json:"case_sensitive"`
	FileGlob      string `json:"file_glob"`
	ContextLines  int    `json:"context_lines"`
	MaxResults    int    `json:"max_results"`
}

type grepMatch struct {
	File        string
	LineNum     int
	Line        string
	BeforeStart int
	Before      []string
	After       []string
}

func (t *SearchTextTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a searchTextArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}
	if strings.TrimSpace(a.Query) == "" {
		return tool.ToolResult{Error: "query must not be empty"}, nil
	}

	contextLines := clamp(a.ContextLines, 0, grepMaxContextLines)
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = grepDefaultMax
	}
	if maxResults > grepHardMax {
		maxResults = grepHardMax
	}

	pattern := a.Query
	if !a.Regex {
		pattern = regexp.QuoteMeta(a.Query)
	}
	re, err := buildGrepRegexp(pattern, a.CaseSensitive)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("invalid pattern: %v", err)}, nil
	}

	searchRoot := t.box.Root()
	if a.Path != "" {
		resolved, err := t.box.Resolve(a.Path)
		if err != nil {
			return tool.ToolResult{Error: err.Error()}, nil
		}
		searchRoot = resolved
	}

	walkCtx, cancel := context.WithTimeout(ctx, grepTimeout)
	defer cancel()

	if _, err := os.Stat(searchRoot); err != nil {
		if os.IsNotExist(err) {
			return tool.ToolResult{Error: fmt.Sprintf("search path does not exist: %s", a.Path)}, nil
		}
		return tool.ToolResult{Error: fmt.Sprintf("cannot access search path: %v", err)}, nil
	}

	var matches []grepMatch
	limitReached := false

	_ = filepath.WalkDir(searchRoot, func(path string, d os.DirEntry, err error) error {
		select {
		case <-walkCtx.Done():
			return walkCtx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if a.FileGlob != "" {
			matched, _ := matchFileGlob(a.FileGlob, d.Name())
			if !matched {
				return nil
			}
		}
		fileMatches, err := searchInFile(walkCtx, path, re, contextLines)
		if err != nil {
			return nil
		}
		for _, m := range fileMatches {
			if len(matches) >= maxResults {
				limitReached = true
				return fmt.Errorf("limit reached")
			}
			matches = append(matches, m)
		}
		return nil
	})

	if len(matches) == 0 {
		return tool.ToolResult{Output: "no matches found"}, nil
	}

	return tool.ToolResult{Output: formatGrepResults(matches, t.box.Root(), limitReached, maxResults)}, nil
}

// buildGrepRegexp compiles the search pattern. Go's regexp package uses the
// RE2 engine, which guarantees linear-time execution.
func buildGrepRegexp(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	prefix := "(?i)"
	if caseSensitive {
		prefix = ""
	}
	return regexp.Compile(prefix + pattern)
}

// matchFileGlob supports simple glob patterns and brace expansion like *.{ts,tsx}.
func matchFileGlob(pattern, name string) (bool, error) {
	if strings.Contains(pattern, "{") && strings.Contains(pattern, "}") {
		start := strings.Index(pattern, "{")
		end := strings.Index(pattern, "}")
		if start < end {
			prefix := pattern[:start]
			suffix := pattern[end+1:]
			alternatives := strings.Split(pattern[start+1:end], ",")
			for _, alt := range alternatives {
				m, err := filepath.Match(prefix+strings.TrimSpace(alt)+suffix, name)
				if err != nil {
					return false, err
				}
				if m {
					return true, nil
				}
			}
			return false, nil
		}
	}
	return filepath.Match(pattern, name)
}

// searchInFile reads a file and returns all regex matches with optional
// context. Returns nil without error for binary or oversized files.
func searchInFile(ctx context.Context, path string, re *regexp.Regexp, contextLines int) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > grepMaxFileSize {
		return nil, nil
	}

	sample := make([]byte, 512)
	n, err := f.Read(sample)
	if err != nil && n == 0 {
		return nil, err
	}
	if isGrepBinary(sample[:n]) {
		return nil, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var matches []grepMatch
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}

		m := grepMatch{
			File:    path,
			LineNum: i + 1,
			Line:    truncateLine(line, grepMaxLineLen),
		}

		if contextLines > 0 {
			beforeStart := i - contextLines
			if beforeStart < 0 {
				beforeStart = 0
			}
			m.BeforeStart = beforeStart + 1
			for j := beforeStart; j < i; j++ {
				m.Before = append(m.Before, truncateLine(lines[j], grepMaxLineLen))
			}

			end := i + contextLines + 1
			if end > len(lines) {
				end = len(lines)
			}
			for j := i + 1; j < end; j++ {
				m.After = append(m.After, truncateLine(lines[j], grepMaxLineLen))
			}
		}

		matches = append(matches, m)
	}
	return matches, nil
}

// isGrepBinary returns true when the byte slice looks like binary content.
func isGrepBinary(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	if utf8.Valid(data) {
		return false
	}
	nonPrintable := 0
	for _, b := range data {
		if b < 0x08 || (b >= 0x0E && b < 0x20 && b != 0x1B) {
			nonPrintable++
		}
	}
	return len(data) > 0 && nonPrintable*10 > len(data)
}

// truncateLine truncates a string to maxLen runes, appending "..." if truncated.
func truncateLine(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// formatGrepResults renders matches grouped by file. Match lines are
// prefixed with "> "; context lines with "  ".
func formatGrepResults(matches []grepMatch, workspaceDir string, limitReached bool, maxResults int) string {
	var sb strings.Builder
	currentFile := ""
	fileCount := 0
	totalMatches := 0

	for _, m := range matches {
		relFile := m.File
		if rel, err := filepath.Rel(workspaceDir, m.File); err == nil {
			relFile = rel
		}

		if relFile != currentFile {
			if currentFile != "" {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("file: %s\n", relFile))
			currentFile = relFile
			fileCount++
		}

		for i, line := range m.Before {
			sb.WriteString(fmt.Sprintf("  line %d:   %s\n", m.BeforeStart+i, line))
		}
		sb.WriteString(fmt.Sprintf("  line %d: > %s\n", m.LineNum, m.Line))
		for i, line := range m.After {
			sb.WriteString(fmt.Sprintf("  line %d:   %s\n", m.LineNum+1+i, line))
		}

		totalMatches++
	}

	suffix := ""
	if limitReached {
		suffix = fmt.Sprintf(" (limit of %d reached)", maxResults)
	}
	sb.WriteString(fmt.Sprintf("---\n%d file(s), %d match(es)%s (`>` marks the matched line, others are context)", fileCount, totalMatches, suffix))

	return sb.String()
}

// clamp returns v clamped to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
