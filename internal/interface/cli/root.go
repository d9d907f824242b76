package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/api"
	"github.com/parleyhq/parley/internal/core/auth"
	"github.com/parleyhq/parley/internal/core/config"
	"github.com/parleyhq/parley/internal/core/engine"
)

var (
	serverURL   string
	tokenFlag   string
	debugFlag   bool
	versionInfo string
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Chat session manager",
	Long: `parley - browse, sync, and continue your chat sessions

Keeps a local mirror of your conversations with offline sending,
background sync, and bounded local storage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the watch TUI if no subcommand specified
		return watchCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token (overrides the token file)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
}

// loadConfig merges the config file with command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if debugFlag {
		cfg.Debug = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return zc.Build()
}

func tokenSource(cfg *config.Config) api.TokenSource {
	if tokenFlag != "" {
		return auth.StaticTokenSource(tokenFlag)
	}
	return auth.NewFileTokenSource(cfg.TokenPath)
}

// newEngine builds the engine most commands run against. The returned
// cleanup saves state and closes the local database.
func newEngine() (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(cfg, tokenSource(cfg), log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = e.Close()
		_ = log.Sync()
	}
	return e, cleanup, nil
}
