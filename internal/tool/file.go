package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/weaveline/weft/internal/config"
	"github.com/weaveline/weft/internal/workflow"
)

func fileTool() *Handle {
	return &Handle{
		ID:          "file",
		Name:        "File",
		Description: "Read, write, and list files inside the workspace directory",
		Category:    "system",
		InputSchema: map[string]any{
			"operation": "read | write | list | delete",
			"path":      "string, relative to the workspace root",
			"content":   "string (write only)",
		},
		OutputSchema: map[string]any{
			"content": "string (read)",
			"entries": "array (list)",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			op, err := strArg(input, "operation")
			if err != nil {
				return nil, err
			}
			rel := strArgDefault(input, "path", ".")
			root, err := workspaceRoot(&ec.Config)
			if err != nil {
				return nil, err
			}
			path, err := confine(root, rel)
			if err != nil {
				return nil, err
			}

			switch op {
			case "read":
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", rel, err)
				}
				return map[string]any{"content": string(data)}, nil
			case "write":
				content, err := strArg(input, "content")
				if err != nil {
					return nil, err
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
					return nil, fmt.Errorf("create directory for %s: %w", rel, err)
				}
				if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
					return nil, fmt.Errorf("write %s: %w", rel, err)
				}
				ec.Log(workflow.LogInfo, "Wrote file", map[string]any{"path": rel, "bytes": len(content)})
				return map[string]any{"path": rel, "bytes": float64(len(content))}, nil
			case "list":
				entries, err := os.ReadDir(path)
				if err != nil {
					return nil, fmt.Errorf("list %s: %w", rel, err)
				}
				out := []any{}
				for _, e := range entries {
					out = append(out, map[string]any{"name": e.Name(), "dir": e.IsDir()})
				}
				return map[string]any{"entries": out}, nil
			case "delete":
				if err := os.Remove(path); err != nil {
					return nil, fmt.Errorf("delete %s: %w", rel, err)
				}
				return map[string]any{"path": rel}, nil
			default:
				return nil, fmt.Errorf("unknown file operation %q", op)
			}
		},
	}
}

func workspaceRoot(cfg *config.Config) (string, error) {
	if cfg.WorkspaceDir != "" {
		return cfg.WorkspaceDir, nil
	}
	dir, err := config.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspace"), nil
}

// confine resolves rel under root and rejects escapes.
func confine(root, rel string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(root, rel))
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", rel, err)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return abs, nil
}
