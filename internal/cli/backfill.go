package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"pc-deal-watch/internal/app"
	"pc-deal-watch/internal/domain"
)

var (
	backfillFile     string
	backfillSource   string
	backfillCurrency string
	backfillDryRun   bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Seed the price history from a CSV or JSON export",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFile == "" {
			return errors.New("--file must be provided")
		}

		source, err := domain.ParseSource(backfillSource)
		if err != nil {
			return err
		}

		opts := app.BackfillOptions{
			Path:     backfillFile,
			Source:   source,
			Currency: backfillCurrency,
			DryRun:   backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFile, "file", "", "CSV or JSON file with historical prices")
	backfillCmd.Flags().StringVar(&backfillSource, "source", string(domain.SourceIdealo), "Source assumed for rows without one")
	backfillCmd.Flags().StringVar(&backfillCurrency, "currency", "", "Currency of rows without one, e.g. EUR (such rows are rejected when unset)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
