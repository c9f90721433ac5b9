package tool

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"

	"github.com/weaveline/weft/internal/workflow"
)

const githubAPIBase = "https://api.github.com"

func githubTool() *Handle {
	return &Handle{
		ID:          "github",
		Name:        "GitHub",
		Description: "Fetch repository metadata, issues, or file contents from the GitHub REST API",
		Category:    "network",
		InputSchema: map[string]any{
			"operation": "repo | issues | file",
			"owner":     "string (required)",
			"repo":      "string (required)",
			"path":      "string (file only)",
			"state":     "open | closed | all (issues, default open)",
		},
		OutputSchema: map[string]any{
			"result": "the API response; file contents are decoded",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			op, err := strArg(input, "operation")
			if err != nil {
				return nil, err
			}
			owner, err := strArg(input, "owner")
			if err != nil {
				return nil, err
			}
			repo, err := strArg(input, "repo")
			if err != nil {
				return nil, err
			}

			var url string
			switch op {
			case "repo":
				url = fmt.Sprintf("%s/repos/%s/%s", githubAPIBase, owner, repo)
			case "issues":
				state := strArgDefault(input, "state", "open")
				url = fmt.Sprintf("%s/repos/%s/%s/issues?state=%s", githubAPIBase, owner, repo, state)
			case "file":
				path, err := strArg(input, "path")
				if err != nil {
					return nil, err
				}
				url = fmt.Sprintf("%s/repos/%s/%s/contents/%s", githubAPIBase, owner, repo, path)
			default:
				return nil, fmt.Errorf("unknown github operation %q", op)
			}

			headers := map[string]string{"Accept": "application/vnd.github+json"}
			if token := githubToken(ec); token != "" {
				headers["Authorization"] = "Bearer " + token
			}

			ec.Log(workflow.LogInfo, "GitHub API request", map[string]any{"operation": op, "owner": owner, "repo": repo})
			resp, err := DoRequest(ctx, RequestSpec{URL: url, Method: http.MethodGet, Headers: headers})
			if err != nil {
				return nil, err
			}
			if status, _ := resp["status"].(float64); status >= 400 {
				return nil, fmt.Errorf("github %s: status %d", op, int(status))
			}

			// contents responses carry the file base64-encoded
			if op == "file" {
				if record, ok := resp["body"].(map[string]any); ok {
					if encoded, ok := record["content"].(string); ok {
						decoded, err := base64.StdEncoding.DecodeString(stripNewlines(encoded))
						if err == nil {
							record["decodedContent"] = string(decoded)
						}
					}
				}
			}
			return resp["body"], nil
		},
	}
}

func githubToken(ec *ExecutionContext) string {
	if key := ec.Config.APIKey("github"); key != "" {
		return key
	}
	return os.Getenv("GITHUB_TOKEN")
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
