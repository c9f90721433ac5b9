package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weaveline/weft/internal/workflow"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 10 << 20
)

// httpTool is the single outbound-HTTP implementation; the http node and the
// browser/scraper/github tools all funnel through DoRequest.
func httpTool() *Handle {
	return &Handle{
		ID:          "http",
		Name:        "HTTP Request",
		Description: "Send an HTTP request and return status, headers, and parsed body",
		Category:    "network",
		InputSchema: map[string]any{
			"url":     "string (required)",
			"method":  "string (default GET)",
			"headers": "object",
			"body":    "any",
			"timeout": "seconds or duration string (default 30s)",
		},
		OutputSchema: map[string]any{
			"status":  "number",
			"headers": "object",
			"body":    "parsed JSON or string",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			url, err := strArg(input, "url")
			if err != nil {
				return nil, err
			}
			method := strings.ToUpper(strArgDefault(input, "method", http.MethodGet))
			headers := map[string]string{}
			for k, v := range mapArg(input, "headers") {
				headers[k] = fmt.Sprint(v)
			}
			timeout := durationArgDefault(input, "timeout", defaultHTTPTimeout)

			ec.Log(workflow.LogInfo, "HTTP request", map[string]any{"method": method, "url": url})
			return DoRequest(ctx, RequestSpec{
				URL:     url,
				Method:  method,
				Headers: headers,
				Body:    input["body"],
				Timeout: timeout,
			})
		},
	}
}

// RequestSpec is one outbound request.
type RequestSpec struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    any
	Timeout time.Duration
}

// DoRequest performs the request and shapes the response record. JSON
// response bodies come back parsed; everything else is a string. Responses
// are capped at 10 MiB.
func DoRequest(ctx context.Context, spec RequestSpec) (map[string]any, error) {
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}
	if spec.Timeout <= 0 {
		spec.Timeout = defaultHTTPTimeout
	}

	var bodyReader io.Reader
	contentType := ""
	switch b := spec.Body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = strings.NewReader(string(raw))
		contentType = "application/json"
	}

	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", spec.Method, spec.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	headers := map[string]any{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var body any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if json.Unmarshal(raw, &parsed) == nil {
			body = parsed
		}
	}

	return map[string]any{
		"status":  float64(resp.StatusCode),
		"headers": headers,
		"body":    body,
	}, nil
}
