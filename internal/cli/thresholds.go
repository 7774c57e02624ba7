package cli

import (
	"github.com/spf13/cobra"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Inspect and override per-product price thresholds",
}

var thresholdsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the effective thresholds and stored overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ThresholdsList(cmd.Context())
	},
}

var thresholdsSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Store a runtime override",
	Example: "  dealwatch thresholds set gpu/nvidia/rtx-5070/12gb/deal_price 499",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ThresholdsSet(cmd.Context(), args[0], args[1])
	},
}

var thresholdsUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a runtime override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ThresholdsUnset(cmd.Context(), args[0])
	},
}

func init() {
	thresholdsCmd.AddCommand(thresholdsListCmd, thresholdsSetCmd, thresholdsUnsetCmd)
}
