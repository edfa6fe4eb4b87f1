package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotepacer/pacer/internal/config"
	"github.com/quotepacer/pacer/internal/logging"
)

var (
	logLevel string
	devLog   bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "pacerd",
	Short: "Rate-paced caching proxy for market data APIs",
	Long: `pacerd forwards requests to market data providers one at a time per
provider, spacing calls to respect upstream rate limits and caching the
responses by data category.

Configuration is read from PACER_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides PACER_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "human-readable development logging")
}

// setup loads the configuration, applies the global flags and builds the
// logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if devLog {
		cfg.Log.Development = true
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
