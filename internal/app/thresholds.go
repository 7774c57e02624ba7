package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"pc-deal-watch/internal/control"
)

// ThresholdsList prints the effective thresholds and the stored overrides.
func (a *App) ThresholdsList(ctx context.Context) error {
	return a.withControl(ctx, func(h *control.Handler) error {
		rows, err := h.List(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out, control.RenderRows(rows))

		settings, err := h.Overrides(ctx)
		if err != nil {
			return err
		}
		if len(settings) == 0 {
			return nil
		}
		fmt.Fprintln(a.Out)
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Override\tValue\tActor\tUpdated (UTC)")
		for _, s := range settings {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", s.Key, s.Value, s.Actor, s.UpdatedAt.UTC().Format(time.RFC3339))
		}
		return writer.Flush()
	})
}

// ThresholdsSet stores a runtime override such as gpu/nvidia/rtx-5070/12gb/deal_price.
func (a *App) ThresholdsSet(ctx context.Context, name, value string) error {
	return a.withControl(ctx, func(h *control.Handler) error {
		res, err := h.Set(ctx, name, value, "cli")
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "saved %s = %s\n", res.Key, value)
		if res.Incomplete != nil {
			fmt.Fprintf(a.Out, "warning: product still incomplete: %v\n", res.Incomplete)
		}
		return nil
	})
}

// ThresholdsUnset removes a runtime override.
func (a *App) ThresholdsUnset(ctx context.Context, name string) error {
	return a.withControl(ctx, func(h *control.Handler) error {
		if err := h.Unset(ctx, name, "cli"); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "removed %s\n", name)
		return nil
	})
}

func (a *App) withControl(ctx context.Context, fn func(h *control.Handler) error) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	comps, err := a.build(store, nil)
	if err != nil {
		return err
	}
	return fn(comps.control)
}
