package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

func textTool() *Handle {
	return &Handle{
		ID:          "text",
		Name:        "Text",
		Description: "String operations: case, trim, split, join, replace, and templating",
		Category:    "data",
		InputSchema: map[string]any{
			"operation": "upper | lower | trim | split | join | replace | template",
			"text":      "string",
			"separator": "string (split/join, default \\n)",
			"items":     "array (join)",
			"old":       "string (replace)",
			"new":       "string (replace)",
			"template":  "string (template)",
			"variables": "object (template)",
		},
		OutputSchema: map[string]any{
			"result": "string, or array for split",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			op, err := strArg(input, "operation")
			if err != nil {
				return nil, err
			}
			switch op {
			case "upper", "lower", "trim":
				text, err := strArg(input, "text")
				if err != nil {
					return nil, err
				}
				switch op {
				case "upper":
					return strings.ToUpper(text), nil
				case "lower":
					return strings.ToLower(text), nil
				default:
					return strings.TrimSpace(text), nil
				}
			case "split":
				text, err := strArg(input, "text")
				if err != nil {
					return nil, err
				}
				sep := strArgDefault(input, "separator", "\n")
				parts := strings.Split(text, sep)
				out := make([]any, len(parts))
				for i, p := range parts {
					out[i] = p
				}
				return out, nil
			case "join":
				items := sliceArg(input, "items")
				sep := strArgDefault(input, "separator", "\n")
				parts := make([]string, len(items))
				for i, item := range items {
					parts[i] = fmt.Sprint(item)
				}
				return strings.Join(parts, sep), nil
			case "replace":
				text, err := strArg(input, "text")
				if err != nil {
					return nil, err
				}
				oldSub, err := strArg(input, "old")
				if err != nil {
					return nil, err
				}
				newSub := strArgDefault(input, "new", "")
				return strings.ReplaceAll(text, oldSub, newSub), nil
			case "template":
				src, err := strArg(input, "template")
				if err != nil {
					return nil, err
				}
				tpl, err := pongo2.FromString(src)
				if err != nil {
					return nil, fmt.Errorf("parse template: %w", err)
				}
				out, err := tpl.Execute(pongo2.Context(mapArg(input, "variables")))
				if err != nil {
					return nil, fmt.Errorf("render template: %w", err)
				}
				return out, nil
			default:
				return nil, fmt.Errorf("unknown text operation %q", op)
			}
		},
	}
}
