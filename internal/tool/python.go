package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/weaveline/weft/internal/workflow"
)

const (
	defaultPythonTimeout = 120 * time.Second
	resultMarkerStart    = "---WEFT-RESULT-START---"
	resultMarkerEnd      = "---WEFT-RESULT-END---"
)

// pythonWrapper reads the input record from stdin as JSON, binds it to
// `input`, runs the user code, and prints whatever the code bound to
// `result` between framing markers so user print output can't corrupt it.
const pythonWrapper = `
import json, sys

input = json.load(sys.stdin)
result = None

_scope = {"input": input, "result": None, "json": json}
exec(sys.argv[1], _scope)
result = _scope.get("result")

print("` + resultMarkerStart + `")
print(json.dumps(result))
print("` + resultMarkerEnd + `")
`

func pythonTool() *Handle {
	return &Handle{
		ID:          "python",
		Name:        "Python",
		Description: "Run a Python snippet with the input record bound to `input`; the value bound to `result` becomes the output",
		Category:    "code",
		InputSchema: map[string]any{
			"code":    "string (required)",
			"input":   "any, bound to `input` in the script",
			"timeout": "seconds or duration string (default 120s)",
		},
		OutputSchema: map[string]any{
			"result": "any, the value the script bound to `result`",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			code, err := strArg(input, "code")
			if err != nil {
				return nil, err
			}
			return runPython(ctx, ec, code, input["input"], durationArgDefault(input, "timeout", defaultPythonTimeout))
		},
	}
}

func runPython(ctx context.Context, ec *ExecutionContext, code string, scriptInput any, timeout time.Duration) (any, error) {
	stdin, err := json.Marshal(scriptInput)
	if err != nil {
		return nil, fmt.Errorf("encode script input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "python3", "-c", pythonWrapper, code)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ec.Log(workflow.LogInfo, "Running python snippet", map[string]any{"bytes": len(code)})
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("python: %w", ctx.Err())
		}
		return nil, fmt.Errorf("python: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := stdout.String()
	start := strings.Index(out, resultMarkerStart)
	end := strings.Index(out, resultMarkerEnd)
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("python: result frame missing in output")
	}
	if printed := strings.TrimSpace(out[:start]); printed != "" {
		ec.Log(workflow.LogDebug, "Python stdout", map[string]any{"output": printed})
	}

	var result any
	frame := strings.TrimSpace(out[start+len(resultMarkerStart) : end])
	if err := json.Unmarshal([]byte(frame), &result); err != nil {
		return nil, fmt.Errorf("python: decode result: %w", err)
	}
	return result, nil
}
