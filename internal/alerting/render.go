package alerting

import (
	"fmt"
	"strings"

	"pc-deal-watch/internal/domain"
)

// RenderText formats an alert for chat and console channels.
func RenderText(a domain.Alert) string {
	d := a.Decision
	obs := d.Observation

	mark := "ℹ️"
	switch d.Verdict {
	case domain.VerdictAffare:
		mark = "🔥"
	case domain.VerdictBuono:
		mark = "🟢"
	}
	kind := "🆕"
	if a.IsUsed() {
		kind = "♻️"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s  %s\n", mark, d.Verdict, kind, obs.Title)
	fmt.Fprintf(&b, "💶 Totale: %s€\n", obs.Price.StringFixed(2))
	fmt.Fprintf(&b, "📦 %s\n", d.Key.Slug())

	agg := d.Aggregate
	if !a.IsUsed() {
		if agg.Min30d.Valid {
			fmt.Fprintf(&b, "📉 30g: min %s€ | media %s€ | n=%d\n",
				agg.Min30d.Decimal.StringFixed(2), agg.Mean30d.Decimal.StringFixed(2), agg.SampleCount30d)
		}
		if agg.Min48h.Valid {
			fmt.Fprintf(&b, "⏱️ 48h: min %s€\n", agg.Min48h.Decimal.StringFixed(2))
		}
	} else if a.Trust != nil {
		fmt.Fprintf(&b, "🛡️ Trust: %s", a.Trust.Score.StringFixed(2))
		if a.Trust.ManualReview {
			b.WriteString(" (revisione manuale)")
		}
		b.WriteString("\n")
		for _, r := range a.Trust.Reasons {
			line := fmt.Sprintf("  • %s %s", r.Signal, r.Weight.StringFixed(2))
			if r.Detail != "" {
				line += ": " + r.Detail
			}
			b.WriteString(line + "\n")
		}
	}

	if a.Reason != "" {
		reason := a.Reason
		if len(reason) > 260 {
			reason = reason[:257] + "..."
		}
		fmt.Fprintf(&b, "🧠 %s\n", reason)
	}
	fmt.Fprintf(&b, "🔗 %s\n", obs.URL)
	fmt.Fprintf(&b, "🏷️ Fonte: %s", obs.Source)
	return b.String()
}

// RenderLine is the single-line, tab separated form used by the file log.
func RenderLine(a domain.Alert) string {
	obs := a.Decision.Observation
	return strings.Join([]string{
		a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		string(a.Decision.Verdict),
		string(a.Route),
		string(obs.Source),
		obs.Price.StringFixed(2),
		a.Decision.Key.Slug(),
		strings.ReplaceAll(obs.Title, "\t", " "),
		obs.URL,
		a.Reason,
	}, "\t")
}
