package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile sessions with the server once",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := e.Synchronize(context.Background()); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		e.ReplayQueue(context.Background())

		status := e.Store().SyncStatus()
		fmt.Printf("Synced %d session(s)", e.Store().SessionCount())
		if !status.LastSyncTime.IsZero() {
			fmt.Printf(" (last sync %s)", humanize.Time(status.LastSyncTime))
		}
		fmt.Println()
		if n := e.Queue().Len(); n > 0 {
			fmt.Printf("%d message(s) still queued\n", n)
		}
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show messages waiting in the offline queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		status := e.Store().SyncStatus()
		if len(status.PendingSessionIDs) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}
		for id := range status.PendingSessionIDs {
			title := id
			if sess, ok := e.Store().Session(id); ok {
				title = sess.Title
			}
			pending := e.Queue().Pending(id)
			fmt.Printf("%s: %d queued\n", title, len(pending))
			for _, msg := range pending {
				fmt.Printf("    %s\n", msg.Content)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, queueCmd)
}
