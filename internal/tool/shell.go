package tool

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/weaveline/weft/internal/workflow"
)

const defaultShellTimeout = 60 * time.Second

func shellTool() *Handle {
	return &Handle{
		ID:          "shell",
		Name:        "Shell",
		Description: "Run a shell command and capture stdout, stderr, and the exit code",
		Category:    "system",
		InputSchema: map[string]any{
			"command": "string (required)",
			"timeout": "seconds or duration string (default 60s)",
			"workdir": "string",
		},
		OutputSchema: map[string]any{
			"stdout":   "string",
			"stderr":   "string",
			"exitCode": "number",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			command, err := strArg(input, "command")
			if err != nil {
				return nil, err
			}
			timeout := durationArgDefault(input, "timeout", defaultShellTimeout)

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			// a grandchild holding the stdout/stderr pipes must not stall
			// Wait past the deadline
			cmd.WaitDelay = time.Second
			if dir := strArgDefault(input, "workdir", ""); dir != "" {
				cmd.Dir = dir
			}
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			ec.Log(workflow.LogInfo, "Running shell command", map[string]any{"command": command})
			runErr := cmd.Run()

			// a process killed at the deadline also surfaces as ExitError,
			// so the context verdict comes first
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			exitCode := 0
			if runErr != nil {
				var exitErr *exec.ExitError
				if errors.As(runErr, &exitErr) {
					exitCode = exitErr.ExitCode()
				} else {
					return nil, runErr
				}
			}
			return map[string]any{
				"stdout":   stdout.String(),
				"stderr":   stderr.String(),
				"exitCode": float64(exitCode),
			}, nil
		},
	}
}
