package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weaveline/weft/internal/gateway"
	"github.com/weaveline/weft/internal/workflow"
)

const generateSystemPrompt = `You design workflow graphs. Answer with a single JSON object and nothing else.
The object has: "id" (kebab-case slug), "name", "description", "nodes", "edges".
Each node: "id", "type" (one of input, output, agent, tool, condition, loop, parallel, merge, transform, prompt, code, http), "label", "data" (type-specific).
Each edge: "id", "source", "target".
The graph must be acyclic, start from an input node, and end in an output node.`

func (a *App) generateCmd() *cobra.Command {
	var provider, outputPath string

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a workflow from a natural-language description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			gw := gateway.New(a.cfg, a.logger)

			a.logger.Infow("Generating workflow", "provider", provider)
			completion, err := gw.Chat(cmd.Context(), gateway.Request{
				Provider:     provider,
				SystemPrompt: generateSystemPrompt,
				Prompt:       prompt,
			})
			if err != nil {
				return err
			}

			raw, err := extractJSON(completion)
			if err != nil {
				return err
			}
			// generator output is untrusted: validate before accepting
			wf, err := workflow.ParseJSON([]byte(raw))
			if err != nil {
				return fmt.Errorf("generated workflow is invalid: %w", err)
			}

			doc, err := workflowJSON(wf)
			if err != nil {
				return err
			}
			if outputPath != "" {
				if err := os.WriteFile(outputPath, doc, 0o640); err != nil {
					return fmt.Errorf("write workflow: %w", err)
				}
				fmt.Printf("Wrote workflow %q to %s\n", wf.Name, outputPath)
				return nil
			}

			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.CreateWorkflow(cmd.Context(), wf); err != nil {
				return err
			}
			fmt.Printf("Saved workflow %q (%s)\n", wf.Name, wf.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "model provider (default from config)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the workflow to a file instead of the store")
	return cmd
}

func workflowJSON(wf *workflow.Workflow) ([]byte, error) {
	raw, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	return append(raw, '\n'), nil
}

// extractJSON pulls the JSON object out of a completion that may wrap it in
// prose or a markdown fence.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return s[start : end+1], nil
}
