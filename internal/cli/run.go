package cli

import (
	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runOnce {
			return getApp().RunOnce(cmd.Context())
		}
		return getApp().Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single fetch and import round, then exit")
}
