package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/weaveline/weft/internal/workflow"
)

const defaultJSTimeout = 30 * time.Second

var errScriptInterrupted = errors.New("script interrupted")

func codeRunnerTool() *Handle {
	return &Handle{
		ID:          "code-runner",
		Name:        "Code Runner",
		Description: "Run a JavaScript or Python snippet against the input record",
		Category:    "code",
		InputSchema: map[string]any{
			"language": "javascript | js | typescript | python",
			"code":     "string (required)",
			"input":    "any, bound to `input` in the script",
		},
		OutputSchema: map[string]any{
			"result": "the script's final value",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			code, err := strArg(input, "code")
			if err != nil {
				return nil, err
			}
			lang := strArgDefault(input, "language", "javascript")
			switch lang {
			case "javascript", "js", "typescript", "ts":
				ec.Log(workflow.LogInfo, "Running javascript snippet", map[string]any{"bytes": len(code)})
				return RunJS(ctx, code, input["input"], defaultJSTimeout)
			case "python", "py":
				return runPython(ctx, ec, code, input["input"], defaultPythonTimeout)
			default:
				return nil, fmt.Errorf("unsupported language %q", lang)
			}
		},
	}
}

// RunJS evaluates user JavaScript in a fresh interpreter with `input` bound
// and no host authority. The interpreter is interrupted on timeout or
// context cancellation. The script's completion value is the result; data
// crosses the boundary through a JSON round trip so downstream code sees the
// same value shapes as every other node output.
func RunJS(ctx context.Context, code string, scriptInput any, timeout time.Duration) (any, error) {
	vm := goja.New()
	if err := vm.Set("input", scriptInput); err != nil {
		return nil, fmt.Errorf("bind input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	watchdog := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(errScriptInterrupted)
		case <-watchdog:
		}
	}()
	defer close(watchdog)

	value, err := vm.RunString(code)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("javascript: %w", ctx.Err())
		}
		return nil, fmt.Errorf("javascript: %w", err)
	}

	exported := value.Export()
	if exported == nil {
		return nil, nil
	}
	raw, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("javascript: result not serializable: %w", err)
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("javascript: decode result: %w", err)
	}
	return result, nil
}
