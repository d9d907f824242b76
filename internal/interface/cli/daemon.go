package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/core/auth"
	"github.com/parleyhq/parley/internal/core/daemon"
	"github.com/parleyhq/parley/internal/core/engine"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run in the foreground, syncing sessions on an interval, replaying the
offline queue when you log in, and keeping local storage bounded. Stop with
Ctrl-C.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if tokenFlag != "" {
		return fmt.Errorf("the daemon reacts to token file changes; --token is not supported here")
	}
	tokens := auth.NewFileTokenSource(cfg.TokenPath)

	e, err := engine.New(cfg, tokens, log)
	if err != nil {
		return err
	}
	defer e.Close()

	d, err := daemon.New(e, tokens, log)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
