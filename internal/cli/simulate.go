package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"pc-deal-watch/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟一条报价并走完整个判定流程",
	Example: `  dealwatch simulate --title "RTX 5070 12GB" --price 479 --history 620,610,605
  dealwatch simulate --used --title "RTX 5070 usata" --price 380 --location Milano --text "pagamento protetto"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.Title == "" {
			return errors.New("--title 不能为空")
		}
		if simulateOpts.Price <= 0 {
			return errors.New("--price 必须大于 0")
		}
		return getApp().Simulate(cmd.Context(), simulateOpts)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simulateOpts.Title, "title", "", "Offer or listing title")
	f.Float64Var(&simulateOpts.Price, "price", 0, "Price in EUR")
	f.Float64Var(&simulateOpts.Shipping, "shipping", 0, "Shipping cost in EUR")
	f.BoolVar(&simulateOpts.Used, "used", false, "Treat the record as a secondhand listing")
	f.StringVar(&simulateOpts.Text, "text", "", "Listing description used for trust signals")
	f.StringVar(&simulateOpts.Location, "location", "", "Listing location")
	f.Float64SliceVar(&simulateOpts.History, "history", nil, "Daily new-item prices to seed, oldest first")
	f.BoolVar(&simulateOpts.Notify, "notify", false, "Deliver the alert through the configured channels")
}
