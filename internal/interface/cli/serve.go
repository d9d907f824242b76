package cli

import (
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/devserver"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the in-memory development server",
	Long: `Run a local chat server implementing the same REST and SSE surface as
the real backend, with a canned echo assistant. Useful for demos and for
developing against parley without credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()
		return devserver.New(log).Run(serveAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8787", "Listen address")
}
