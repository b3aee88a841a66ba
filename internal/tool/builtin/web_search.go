package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentichat/agentichat/internal/tool"
	"github.com/agentichat/agentichat/internal/util"
)

const (
	webSearchAPIURL      = "https://api.tavily.com/search"
	webSearchMaxResults  = 5
	webSearchHTTPTimeout = 15 * time.Second
	webSearchMaxBody     = 5 << 20
	webSearchErrMaxBody  = 1 << 20
	webSearchErrBodyShow = 200
	webSearchDescMax     = 300
	webSearchQueryMax    = 1000
)

// WebSearchTool performs an internet search and returns an ordered list of
// (title, url, snippet) results, plus a synthesized answer when available.
type WebSearchTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewWebSearchTool creates the tool backed by the Tavily search API.
func NewWebSearchTool(apiKey string) *WebSearchTool {
	return &WebSearchTool{
		apiKey:  apiKey,
		baseURL: webSearchAPIURL,
		client:  &http.Client{},
	}
}

// String omits the API key so the tool can be logged safely.
func (t *WebSearchTool) String() string {
	return fmt.Sprintf("WebSearchTool{baseURL: %q}", t.baseURL)
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the internet for current information: news, documentation, and general facts."
}
func (t *WebSearchTool) ConfirmPolicy() tool.ConfirmPolicy { return tool.ConfirmNever }

func (t *WebSearchTool) Init(_ context.Context) error {
	if t.apiKey == "" {
		return fmt.Errorf("web search API key is not configured")
	}
	return nil
}
func (t *WebSearchTool) Close() error { return nil }

func (t *WebSearchTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "query", Type: "string", Description: "search query", Required: true},
	)
}

type webSearchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// String masks the API key so accidental logging cannot leak it.
func (r webSearchRequest) String() string {
	return fmt.Sprintf("webSearchRequest{Query: %q, MaxResults: %d}", r.Query, r.MaxResults)
}

type webSearchResponse struct {
	Results []webSearchResultEntry `json:"results"`
	Answer  string                 `json:"answer,omitempty"`
}

type webSearchResultEntry struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func parseSearchQuery(args json.RawMessage) (string, error) {
	var a struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %v", err)
	}
	q := strings.TrimSpace(a.Query)
	if q == "" {
		return "", fmt.Errorf("query must not be empty")
	}
	if len([]rune(q)) > webSearchQueryMax {
		return "", fmt.Errorf("query too long (max %d characters)", webSearchQueryMax)
	}
	return q, nil
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	query, err := parseSearchQuery(args)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	reqBody := webSearchRequest{APIKey: t.apiKey, Query: query, MaxResults: webSearchMaxResults}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to build request: %v", err)}, nil
	}

	httpCtx, cancel := context.WithTimeout(ctx, webSearchHTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(httpCtx, http.MethodPost, t.baseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to build request: %v", err)}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("search request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, webSearchErrMaxBody))
		bodyStr := util.TruncateRunes(strings.TrimSpace(string(body)), webSearchErrBodyShow)
		return tool.ToolResult{Error: fmt.Sprintf("search API error (HTTP %d): %s", resp.StatusCode, bodyStr)}, nil
	}

	var parsed webSearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, webSearchMaxBody)).Decode(&parsed); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("failed to parse response: %v", err)}, nil
	}

	var sb strings.Builder
	if parsed.Answer != "" {
		sb.WriteString(fmt.Sprintf("Summary: %s\n\n", parsed.Answer))
	}
	sb.WriteString(formatWebSearchResults(parsed.Results))

	return tool.ToolResult{Output: sb.String()}, nil
}

func formatWebSearchResults(results []webSearchResultEntry) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d result(s):\n\n", len(results)))
	for i, r := range results {
		desc := util.TruncateRunes(r.Content, webSearchDescMax)
		sb.WriteString(fmt.Sprintf("[%d] %s\n    %s\n    %s\n\n", i+1, r.Title, r.URL, desc))
	}
	return sb.String()
}
