package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Move old messages into bounded local storage",
	Long: `Enforce the hot-message cap: the most recent messages of each session
stay in memory-backed state, older ones move into chunked local storage.
Use 'parley older' to bring them back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		before := 0
		for _, sess := range e.Store().Sessions() {
			before += e.Store().MessageCount(sess.ID)
		}
		e.CleanupStorage()
		after := 0
		for _, sess := range e.Store().Sessions() {
			after += e.Store().MessageCount(sess.ID)
		}
		fmt.Printf("Tiered out %d message(s)\n", before-after)
		return nil
	},
}

var olderCmd = &cobra.Command{
	Use:   "older <session-id>",
	Short: "Restore a session's tiered-out message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		msgs, err := e.LoadOlderMessages(args[0])
		if err != nil {
			return fmt.Errorf("failed to restore messages: %w", err)
		}
		fmt.Printf("Session now holds %d message(s)\n", len(msgs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd, olderCmd)
}
