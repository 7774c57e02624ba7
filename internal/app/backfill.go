package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pc-deal-watch/internal/ingest"
	"pc-deal-watch/internal/service"
	"pc-deal-watch/internal/storage/memory"
)

// Backfill seeds the history with new-item prices from an export file so
// that trend statistics are available from the first run. Rows go through
// validation, normalisation and the guardrail but produce no alerts.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Path == "" {
		return errors.New("回填文件未指定")
	}

	rows, err := ingest.ReadPriceFile(opts.Path, opts.Source)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Warn().Str("path", opts.Path).Msg("回填文件为空")
		return nil
	}
	if currency := strings.ToUpper(strings.TrimSpace(opts.Currency)); currency != "" {
		for i := range rows {
			if rows[i].Currency == "" {
				rows[i].Currency = currency
			}
		}
	}

	var st stores
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
		st = memory.NewStore(memory.WithDailyDedupe(a.Config.History.DedupeDaily), memory.WithClock(a.now))
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		st = store
	}

	comps, err := a.build(st, nil)
	if err != nil {
		return err
	}

	report, err := comps.pipeline.Process(ctx, service.Batch{Prices: rows, HistoryOnly: true})
	if report != nil {
		a.Logger.Info().
			Int("rows", len(rows)).
			Int("stored", report.Stored).
			Int("duplicates", report.Duplicates).
			Int("rejected", report.Rejected).
			Int("unmatched", report.Unmatched).
			Int("invalid", report.Invalid).
			Msg("回填完成")
		fmt.Fprintf(a.Out, "backfill: %d rows, %d stored, %d duplicates, %d rejected, %d unmatched, %d invalid\n",
			len(rows), report.Stored, report.Duplicates, report.Rejected, report.Unmatched, report.Invalid)
	}
	return err
}
