package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebFetchExtractsTitleAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Hello Page</title>
<meta name="description" content="a test page"></head>
<body><script>ignored()</script><p>Main content here.</p></body></html>`))
	}))
	defer srv.Close()

	f := NewWebFetchTool(true)
	args, _ := json.Marshal(webFetchArgs{URL: srv.URL})
	res, err := f.Execute(context.Background(), args)
	if err != nil || res.Error != "" {
		t.Fatalf("fetch failed: %v %q", err, res.Error)
	}
	if !strings.Contains(res.Output, "Hello Page") || !strings.Contains(res.Output, "Main content here") {
		t.Errorf("output = %q", res.Output)
	}
	if strings.Contains(res.Output, "ignored()") {
		t.Errorf("script content should be skipped: %q", res.Output)
	}
}

func TestWebFetchPrettyPrintsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"a":1}`))
	}))
	defer srv.Close()

	f := NewWebFetchTool(true)
	args, _ := json.Marshal(webFetchArgs{URL: srv.URL})
	res, err := f.Execute(context.Background(), args)
	if err != nil || res.Error != "" {
		t.Fatalf("fetch failed: %v %q", err, res.Error)
	}
	if !strings.Contains(res.Output, "\"a\": 1") {
		t.Errorf("expected pretty-printed JSON, got %q", res.Output)
	}
}

func TestWebFetchRejectsUnsupportedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("binary"))
	}))
	defer srv.Close()

	f := NewWebFetchTool(true)
	args, _ := json.Marshal(webFetchArgs{URL: srv.URL})
	res, _ := f.Execute(context.Background(), args)
	if res.Error == "" {
		t.Error("expected an error for an unsupported content type")
	}
}

func TestWebFetchRejectsNonHTTPScheme(t *testing.T) {
	f := NewWebFetchTool(true)
	args, _ := json.Marshal(webFetchArgs{URL: "file:///etc/passwd"})
	res, _ := f.Execute(context.Background(), args)
	if res.Error == "" {
		t.Error("expected an error for a non-http(s) scheme")
	}
}

func TestWebFetchBlocksInternalAddressesByDefault(t *testing.T) {
	f := NewWebFetchTool(false)
	args, _ := json.Marshal(webFetchArgs{URL: "http://127.0.0.1:1/"})
	res, _ := f.Execute(context.Background(), args)
	if res.Error == "" {
		t.Error("expected an SSRF guard error for a loopback address")
	}
}

func TestWebFetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewWebFetchTool(true)
	args, _ := json.Marshal(webFetchArgs{URL: srv.URL})
	res, _ := f.Execute(context.Background(), args)
	if res.Error == "" || !strings.Contains(res.Error, "404") {
		t.Errorf("expected a 404 error, got %+v", res)
	}
}

func TestWebFetchNeverConfirms(t *testing.T) {
	if NewWebFetchTool(true).ConfirmPolicy().RequiresConfirmation() {
		t.Error("web_fetch should never confirm")
	}
}
