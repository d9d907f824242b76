package cli

import (
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/interface/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the interactive session view",
	Long: `Open a live terminal view of your sessions: browse conversations,
send messages, and watch replies stream in. This is also the default when
parley runs with no subcommand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		return tui.Run(e)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
