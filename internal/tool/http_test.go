package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRequest_JSONBody(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	resp, err := DoRequest(context.Background(), RequestSpec{
		URL:    srv.URL,
		Method: http.MethodPost,
		Body:   map[string]any{"name": "weft"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]any{"name": "weft"}, gotBody)
	assert.Equal(t, float64(201), resp["status"])
	assert.Equal(t, map[string]any{"id": float64(7)}, resp["body"])
}

func TestDoRequest_TextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain response"))
	}))
	defer srv.Close()

	resp, err := DoRequest(context.Background(), RequestSpec{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, float64(200), resp["status"])
	assert.Equal(t, "plain response", resp["body"])
}

func TestHTTPTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-1", r.Header.Get("X-Auth"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	h, err := r.Get("http")
	require.NoError(t, err)

	out, err := h.Invoke(context.Background(), testContext(), map[string]any{
		"url":     srv.URL,
		"method":  "get",
		"headers": map[string]any{"X-Auth": "token-1"},
	})
	require.NoError(t, err)
	record := out.(map[string]any)
	assert.Equal(t, float64(200), record["status"])
	assert.Equal(t, map[string]any{"ok": true}, record["body"])

	_, err = h.Invoke(context.Background(), testContext(), map[string]any{"method": "GET"})
	assert.Error(t, err, "url is required")
}

func TestBrowserTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	h, err := r.Get("browser")
	require.NoError(t, err)

	out, err := h.Invoke(context.Background(), testContext(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	record := out.(map[string]any)
	assert.Equal(t, float64(200), record["status"])
	assert.Contains(t, record["body"], "hi")
}

func TestScraperTool(t *testing.T) {
	const page = `<html><head><title>Test Page</title></head>
<body><script>ignored()</script>
<h1>Heading</h1><p>Some text.</p>
<a href="/next">Next page</a></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	h, err := r.Get("scraper")
	require.NoError(t, err)

	out, err := h.Invoke(context.Background(), testContext(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	record := out.(map[string]any)
	assert.Equal(t, "Test Page", record["title"])
	assert.Contains(t, record["text"], "Heading")
	assert.Contains(t, record["text"], "Some text.")
	assert.NotContains(t, record["text"], "ignored")

	links := record["links"].([]any)
	require.Len(t, links, 1)
	link := links[0].(map[string]any)
	assert.Equal(t, srv.URL+"/next", link["href"])
	assert.Equal(t, "Next page", link["text"])
}
