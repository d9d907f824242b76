package cli

import (
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

var (
	exportTemplate string
	exportOut      string
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session transcript as markdown",
	Long: `Render a session transcript with a mustache template.

Examples:
  parley export abc123
  parley export abc123 --out transcript.md
  parley export abc123 --template my-template.mustache`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var copyCmd = &cobra.Command{
	Use:   "copy <session-id>",
	Short: "Copy a session transcript to the clipboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		out, err := e.ExportSession(args[0])
		if err != nil {
			return err
		}
		if err := clipboard.WriteAll(out); err != nil {
			return fmt.Errorf("clipboard unavailable: %w", err)
		}
		fmt.Println("Transcript copied to clipboard")
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [file]",
	Short: "Export or import session metadata",
	Long: `With no arguments, print a snapshot of session metadata (no message
bodies) as JSON. With --import, merge a snapshot file into local state.`,
	RunE: runSnapshot,
}

var snapshotImport string

func init() {
	rootCmd.AddCommand(exportCmd, copyCmd, snapshotCmd)
	exportCmd.Flags().StringVar(&exportTemplate, "template", "", "Custom mustache template file")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write to file instead of stdout")
	snapshotCmd.Flags().StringVar(&snapshotImport, "import", "", "Snapshot file to import")
}

func runExport(cmd *cobra.Command, args []string) error {
	e, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	var out string
	if exportTemplate != "" {
		tmpl, err := os.ReadFile(exportTemplate)
		if err != nil {
			return fmt.Errorf("failed to read template: %w", err)
		}
		out, err = e.ExportSessionWith(args[0], string(tmpl))
		if err != nil {
			return err
		}
	} else {
		out, err = e.ExportSession(args[0])
		if err != nil {
			return err
		}
	}

	if exportOut != "" {
		return os.WriteFile(exportOut, []byte(out), 0o644)
	}
	fmt.Print(out)
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	e, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if snapshotImport != "" {
		data, err := os.ReadFile(snapshotImport)
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		if !e.ImportSnapshot(data) {
			return fmt.Errorf("snapshot rejected: malformed or invalid data")
		}
		fmt.Println("Snapshot imported")
		return nil
	}

	data, err := e.ExportSnapshot()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
