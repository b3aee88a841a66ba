package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestWebSearchTool(t *testing.T, handler http.HandlerFunc) *WebSearchTool {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &WebSearchTool{apiKey: "test-key", baseURL: srv.URL, client: srv.Client()}
}

func TestWebSearchFormatsResultsAndAnswer(t *testing.T) {
	s := newTestWebSearchTool(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"answer":"42 is the answer","results":[{"title":"A","url":"https://a.example","content":"about a"}]}`))
	})

	args, _ := json.Marshal(map[string]string{"query": "meaning of life"})
	res, err := s.Execute(context.Background(), args)
	if err != nil || res.Error != "" {
		t.Fatalf("search failed: %v %q", err, res.Error)
	}
	if !strings.Contains(res.Output, "42 is the answer") || !strings.Contains(res.Output, "https://a.example") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestWebSearchNoResults(t *testing.T) {
	s := newTestWebSearchTool(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[]}`))
	})

	args, _ := json.Marshal(map[string]string{"query": "nothing"})
	res, err := s.Execute(context.Background(), args)
	if err != nil || res.Error != "" {
		t.Fatalf("search failed: %v %q", err, res.Error)
	}
	if !strings.Contains(res.Output, "No results found") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestWebSearchAPIError(t *testing.T) {
	s := newTestWebSearchTool(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid key"))
	})

	args, _ := json.Marshal(map[string]string{"query": "x"})
	res, _ := s.Execute(context.Background(), args)
	if res.Error == "" || !strings.Contains(res.Error, "401") {
		t.Errorf("expected a 401 error, got %+v", res)
	}
}

func TestWebSearchRejectsEmptyQuery(t *testing.T) {
	s := NewWebSearchTool("key")
	args, _ := json.Marshal(map[string]string{"query": "  "})
	res, _ := s.Execute(context.Background(), args)
	if res.Error == "" {
		t.Error("expected an error for an empty query")
	}
}

func TestWebSearchInitRequiresAPIKey(t *testing.T) {
	s := NewWebSearchTool("")
	if err := s.Init(context.Background()); err == nil {
		t.Error("expected Init to fail without an API key")
	}
}

func TestWebSearchNeverConfirms(t *testing.T) {
	if NewWebSearchTool("key").ConfirmPolicy().RequiresConfirmation() {
		t.Error("web_search should never confirm")
	}
}
