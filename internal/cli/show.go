package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pc-deal-watch/internal/app"
)

var (
	showLimit  int
	showAlerts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent observations or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Alerts: showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <product>",
	Short: "Show trend statistics and the current verdict for a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stats(cmd.Context(), args[0])
	},
}

var reviewLimit int

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List items waiting for manual review",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reviewLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Review(cmd.Context(), reviewLimit)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show recent alerts instead of observations")
	reviewCmd.Flags().IntVar(&reviewLimit, "limit", 50, "Number of items to display")
}
