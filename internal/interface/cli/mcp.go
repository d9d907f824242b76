package cli

import (
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/cmd/parley/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as an MCP server over stdio",
	Long: `Expose sessions to MCP clients. Registers three tools:
  list_sessions - browse sessions with tag/category filters
  get_session   - fetch one session with its messages
  send_message  - send a message and return the reply`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		return mcp.StartServer(e)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
