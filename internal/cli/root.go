package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	logLevel    string
	traceStdout bool
	envFile     string
}

// NewRootCmd creates the root gatekeep command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "gatekeep",
		Short: "Attempt limiting for sensitive operations",
		Long: `Gatekeep limits how often a caller may attempt a sensitive operation
(login, password reset, search) using fixed or sliding windows kept in a
shared store. Run it as a server, tune policies with time-travel scenarios,
or replay captured traffic against a policy.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadEnvFile()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.traceStdout, "trace-stdout", false, "export limiter spans to stderr")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading config (missing file is ignored)")

	root.AddCommand(
		newServerCmd(opts),
		newTestCmd(opts),
		newReplayCmd(opts),
		newConfigCmd(opts),
	)

	return root
}

// loadEnvFile exports variables from the dotenv file without overriding
// anything already set in the environment.
func (o *rootOptions) loadEnvFile() error {
	if o.envFile == "" {
		return nil
	}
	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file %s: %w", o.envFile, err)
	}
	return nil
}

// loadConfig reads --config (if any) with environment overrides and applies
// --log-level.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
