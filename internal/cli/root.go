package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/me/cotask/internal/config"
	"github.com/me/cotask/internal/logging"
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X ...cli.version=...".
var version = "dev"

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagLogFile   string
	flagDB        string

	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

// NewRootCmd creates the root cobra command for the cotask CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "cotask",
		Short:   "cotask: cooperative task executor",
		Long:    "cotask drains task graphs described in YAML plans on a tick-based cooperative executor and journals every run.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			applyRootFlags(cmd, &loaded)
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded

			l, closer, err := logging.Open(logging.Options{
				Level:  logging.ParseLevel(cfg.LogLevel),
				Format: cfg.LogFormat,
				File:   cfg.LogFile,
			})
			if err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			logger, logCloser = l, closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (.yaml, .yml or .toml)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Also write JSON logs to this file")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Run journal path (default ~/.cotask/cotask.db, or COTASK_DB env)")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newHistoryCmd(),
		newServeCmd(),
		newStatusCmd(),
	)

	return root
}

// applyRootFlags lets explicitly set flags win over the config file and
// environment.
func applyRootFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	if flags.Changed("log-format") {
		c.LogFormat = flagLogFormat
	}
	if flags.Changed("log-file") {
		c.LogFile = flagLogFile
	}
	if flags.Changed("db") {
		c.DBPath = flagDB
	}
	if flagDebug {
		c.LogLevel = "debug"
	}
	if c.DBPath == "" {
		c.DBPath = config.DefaultDBPath()
	}
}
