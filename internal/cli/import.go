package cli

import (
	"github.com/spf13/cobra"

	"pc-deal-watch/internal/app"
)

var importArchive bool

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Import secondhand listing files from a folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ImportOptions{Archive: importArchive}
		if len(args) == 1 {
			opts.Dir = args[0]
		}
		return getApp().Import(cmd.Context(), opts)
	},
}

func init() {
	importCmd.Flags().BoolVar(&importArchive, "archive", false, "Move processed files into a processed/ subfolder")
}
