package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cidproject/cid/internal/config"
	"github.com/cidproject/cid/internal/history"
)

var (
	// Global flags
	cfgPath   string
	dbPath    string
	logLevel  string
	logFormat string
	quiet     bool

	globalCfg *config.Settings
	logger    *slog.Logger
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cid",
		Short: "Download the latest cloud system images published on configured web sites",
		Long: `cid keeps a local directory tree synchronized with the latest cloud system
images published on a set of configured web sites. It resolves each site's
version-ordered directory structure to the newest release, downloads only
images it does not already own, and checksum-verifies every file before
recording it in its download history.`,
		Example: `  cid sync
  cid sync --site fedora --max-concurrent 8
  cid sync --verify-existing
  cid history --name ubuntu`,
		Version: "0.2.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.Default()
			}

			// The command line gets the last word on the database path.
			if dbPath != "" {
				globalCfg.DBPath = dbPath
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "sites", len(globalCfg.Sites))
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "override download history database path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newSyncCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// openStore opens the history database named by the effective configuration.
func openStore() (*history.Store, error) {
	path, err := config.ExpandPath(globalCfg.DBPath)
	if err != nil {
		return nil, err
	}
	return history.Open(path, logger)
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
