package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/c360/edgestreams/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Format     string // text or json
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     appName,
		Short:   "Edge streaming dataflow runtime",
		Long:    "Build, run and control streaming dataflow jobs on a single device.",
		Version: Version,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("EDGESTREAMS_CONFIG"),
		"path to a YAML configuration file (env: EDGESTREAMS_CONFIG)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")
	flags.StringVar(&opts.LogFormat, "log-format", "", "override the configured log format (json|text)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newSnapshotCommand(opts))
	cmd.AddCommand(newDemoCommand(opts))
	cmd.AddCommand(newControlCommand(opts))
	return cmd
}

// loadConfig reads the configured file, or the defaults when none is set,
// and applies the logging flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if o.ConfigPath != "" {
		loader.AddLayer(o.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return cfg.Logging.NewLogger(w).With("service", appName, "version", Version)
}
