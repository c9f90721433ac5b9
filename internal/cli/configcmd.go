package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *App) configCmd() *cobra.Command {
	var setKV, getKey, apiKeyKV string
	var show bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and modify the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case setKV != "":
				key, value, ok := strings.Cut(setKV, "=")
				if !ok {
					return fmt.Errorf("--set expects key=value, got %q", setKV)
				}
				if err := a.cfg.Set(key, value); err != nil {
					return err
				}
				return a.cfg.Save()

			case getKey != "":
				value, ok := a.cfg.Get(getKey)
				if !ok {
					return fmt.Errorf("unknown config key %q", getKey)
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil

			case apiKeyKV != "":
				provider, key, ok := strings.Cut(apiKeyKV, "=")
				if !ok {
					return fmt.Errorf("--api-key expects provider=key, got %q", apiKeyKV)
				}
				a.cfg.SetAPIKey(provider, key)
				return a.cfg.Save()

			case show:
				// credentials are masked in the printed view
				masked := a.cfg.Snapshot()
				for name, creds := range masked.Providers {
					if creds.APIKey != "" {
						creds.APIKey = "****"
						masked.Providers[name] = creds
					}
				}
				raw, err := json.MarshalIndent(&masked, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil

			default:
				fmt.Fprintln(cmd.OutOrStdout(), a.cfg.Path())
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&setKV, "set", "", "set a configuration value (key=value)")
	cmd.Flags().StringVar(&getKey, "get", "", "print a configuration value")
	cmd.Flags().StringVar(&apiKeyKV, "api-key", "", "store a provider credential (provider=key)")
	cmd.Flags().BoolVar(&show, "show", false, "print the configuration with credentials masked")
	cmd.MarkFlagsMutuallyExclusive("set", "get", "api-key", "show")
	return cmd
}
