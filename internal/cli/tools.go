package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/weaveline/weft/internal/tool"
)

func (a *App) toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := tool.NewRegistry()
			if err := tool.RegisterBuiltins(registry); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tDESCRIPTION")
			for _, h := range registry.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.ID, h.Category, h.Description)
			}
			return w.Flush()
		},
	}
}
