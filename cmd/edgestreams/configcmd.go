package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/edgestreams/config"
)

func newConfigCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Load and validate a configuration file",
		Long: `Load a YAML configuration over the built-in defaults, apply
EDGESTREAMS_* environment overrides and validate the result.

The effective configuration is printed on success.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			_, err = fmt.Fprintf(out, "%s: ok\n%s", args[0], cfg)
			return err
		},
	})
	return cmd
}
