package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weaveline/weft/internal/engine"
	"github.com/weaveline/weft/internal/event"
	"github.com/weaveline/weft/internal/gateway"
	"github.com/weaveline/weft/internal/tool"
	"github.com/weaveline/weft/internal/workflow"
)

func (a *App) runCmd() *cobra.Command {
	var inputJSON, inputFile, outputPath string

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow file and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			input, err := parseInput(inputJSON, inputFile)
			if err != nil {
				return err
			}

			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.CreateWorkflow(cmd.Context(), wf); err != nil {
				return err
			}

			registry := tool.NewRegistry()
			if err := tool.RegisterBuiltins(registry); err != nil {
				return err
			}
			bus := event.NewBus(a.logger)
			gw := gateway.New(a.cfg, a.logger)
			eng := engine.New(st, bus, engine.NewDispatcher(gw, registry, a.logger), a.cfg, a.logger)
			if err := eng.Start(cmd.Context()); err != nil {
				return err
			}

			if a.verbose {
				bus.Subscribe("*", func(evt *event.Event) {
					fmt.Fprintf(os.Stderr, "[%s] %s %s\n", time.UnixMilli(evt.Timestamp).Format(time.TimeOnly), evt.Type, evt.NodeID)
				})
			}

			exec, err := eng.ExecuteWorkflow(cmd.Context(), wf.ID, input)
			if err != nil {
				return err
			}
			a.logger.Infow("Execution started", "execution_id", exec.ID)

			final, err := waitTerminal(cmd.Context(), st, exec.ID)
			if err != nil {
				return err
			}
			switch final.Status {
			case workflow.ExecutionCompleted:
				return writeOutput(final.Output, outputPath)
			case workflow.ExecutionStopped:
				return &execFailure{err: fmt.Errorf("execution %s was stopped", exec.ID)}
			default:
				return &execFailure{err: fmt.Errorf("execution failed: %s", final.Error)}
			}
		},
	}
	cmd.Flags().StringVar(&inputJSON, "input", "", "execution input as inline JSON")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "execution input read from a JSON file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the output to a file instead of stdout")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
	return cmd
}

func parseInput(inputJSON, inputFile string) (any, error) {
	raw := []byte(inputJSON)
	if inputFile != "" {
		var err error
		raw, err = os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("parse input JSON: %w", err)
	}
	return input, nil
}

func waitTerminal(ctx context.Context, st interface {
	GetExecution(ctx context.Context, id string) (*workflow.Execution, error)
}, executionID string) (*workflow.Execution, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			exec, err := st.GetExecution(ctx, executionID)
			if err != nil {
				return nil, err
			}
			if exec.Status.Terminal() {
				return exec, nil
			}
		}
	}
}

func writeOutput(output any, path string) error {
	raw, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if path == "" {
		fmt.Println(string(raw))
		return nil
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o640); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
