package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/contrib-harvester/internal/config"
	"github.com/Sternrassler/contrib-harvester/pkg/logging"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest contribution data from the GitHub API",
		Long: `harvester fetches contribution windows for thousands of users and
repositories, sharing a pool of API tokens without exceeding any
token's rate limit, and stores the results idempotently.

Configuration starts from defaults; a --config YAML file overrides
them and HARVEST_* environment variables override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newQuotaCmd(opts))
	return cmd
}

// load reads and validates the configuration and sets up logging.
func (o *rootOptions) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(viper.New(), o.configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.verbose {
		cfg.Log.Level = string(logging.LevelDebug)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}
