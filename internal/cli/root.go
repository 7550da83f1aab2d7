// Package cli defines the pararun command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/utkarsh5026/pararun/internal/config"
)

var version = "dev" // set via ldflags at build time

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the pararun command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "pararun",
		Short: "Resumable parallel map over JSON lines",
		Long: `pararun runs a command once per input item on a bounded pool of workers and
records every result in a durable cache. Rerunning with the same cache skips
items that already have a result, so an interrupted run picks up where it stopped.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotenv(opts.envFile)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file path (default $PARARUN_CONFIG)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with PARARUN_* overrides")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(newExecCmd(opts))
	root.AddCommand(newInspectCmd(opts))
	return root
}

// Execute runs the root command with ctx. Called from main.
func Execute(ctx context.Context) int {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// load resolves the effective configuration: defaults, then the config file,
// then PARARUN_* variables, then the global flags.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path := config.ResolveConfigPath(o.configPath, cmd.Flags().Changed("config"))
	cfg, used, err := config.LoadEffective(path)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	logger.Debug("config_loaded", zap.String("path", path), zap.Strings("env", used))
	return cfg, logger, nil
}
