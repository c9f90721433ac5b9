package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func jsonTool() *Handle {
	return &Handle{
		ID:          "json",
		Name:        "JSON",
		Description: "Parse, stringify, navigate, and merge JSON values",
		Category:    "data",
		InputSchema: map[string]any{
			"operation": "parse | stringify | get | merge",
			"data":      "any (string for parse)",
			"path":      "dotted path with numeric indices (get)",
			"other":     "object merged over data (merge)",
		},
		OutputSchema: map[string]any{
			"result": "operation dependent",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			op, err := strArg(input, "operation")
			if err != nil {
				return nil, err
			}
			switch op {
			case "parse":
				raw, err := strArg(input, "data")
				if err != nil {
					return nil, err
				}
				var out any
				if err := json.Unmarshal([]byte(raw), &out); err != nil {
					return nil, fmt.Errorf("parse json: %w", err)
				}
				return out, nil
			case "stringify":
				raw, err := json.Marshal(input["data"])
				if err != nil {
					return nil, fmt.Errorf("stringify: %w", err)
				}
				return string(raw), nil
			case "get":
				path, err := strArg(input, "path")
				if err != nil {
					return nil, err
				}
				return jsonPath(input["data"], path)
			case "merge":
				base := mapArg(input, "data")
				over := mapArg(input, "other")
				out := make(map[string]any, len(base)+len(over))
				for k, v := range base {
					out[k] = v
				}
				for k, v := range over {
					out[k] = v
				}
				return out, nil
			default:
				return nil, fmt.Errorf("unknown json operation %q", op)
			}
		},
	}
}

// jsonPath walks a dotted path like "items.0.name".
func jsonPath(value any, path string) (any, error) {
	current := value
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("path %q: key %q not found", path, part)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("path %q: %q is not an index", path, part)
			}
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("path %q: index %d out of range", path, idx)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("path %q: cannot descend into %T at %q", path, current, part)
		}
	}
	return current, nil
}
