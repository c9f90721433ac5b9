package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weaveline/weft/internal/config"
)

func (a *App) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data directory, configuration, and store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.HomeDir()
			if err != nil {
				return err
			}
			for _, sub := range []string{dir, filepath.Join(dir, "workspace")} {
				if err := os.MkdirAll(sub, 0o750); err != nil {
					return fmt.Errorf("create %s: %w", sub, err)
				}
			}

			// the config file was created by Load on first run; opening the
			// store initializes it on disk
			st, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			if err := st.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", dir)
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration: %s\n", a.cfg.Path())
			return nil
		},
	}
}
