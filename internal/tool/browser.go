package tool

import (
	"context"
	"net/http"

	"github.com/weaveline/weft/internal/workflow"
)

// browserTool fetches a page and returns it raw; scraper is the structured
// variant.
func browserTool() *Handle {
	return &Handle{
		ID:          "browser",
		Name:        "Browser",
		Description: "Fetch a URL and return the response status and body",
		Category:    "network",
		InputSchema: map[string]any{
			"url":     "string (required)",
			"headers": "object",
		},
		OutputSchema: map[string]any{
			"status": "number",
			"body":   "string",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			url, err := strArg(input, "url")
			if err != nil {
				return nil, err
			}
			headers := map[string]string{}
			for k, v := range mapArg(input, "headers") {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}
			ec.Log(workflow.LogInfo, "Fetching page", map[string]any{"url": url})
			resp, err := DoRequest(ctx, RequestSpec{URL: url, Method: http.MethodGet, Headers: headers})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"status": resp["status"],
				"body":   resp["body"],
			}, nil
		},
	}
}
