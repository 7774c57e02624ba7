// Package control lets the owner inspect and edit price thresholds at
// runtime, from Telegram (/prices, /setprice) or from the CLI. Edits are
// stored as audited settings and picked up by the next batch snapshot.
package control

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/normalize"
	"pc-deal-watch/internal/storage"
	"pc-deal-watch/internal/thresholds"
)

// Handler applies threshold commands.
type Handler struct {
	catalogue *normalize.Normalizer
	resolver  *thresholds.Resolver
	settings  storage.SettingsStore
	logger    zerolog.Logger
}

// NewHandler wires the catalogue, resolver and settings store together.
// The resolver must read its runtime overrides from the same settings store.
func NewHandler(catalogue *normalize.Normalizer, resolver *thresholds.Resolver, settings storage.SettingsStore, logger zerolog.Logger) *Handler {
	return &Handler{
		catalogue: catalogue,
		resolver:  resolver,
		settings:  settings,
		logger:    logger.With().Str("component", "control").Logger(),
	}
}

// Row is the effective rule set of one product.
type Row struct {
	Key        domain.ProductKey
	Thresholds domain.Thresholds
	Err        error
}

// List resolves the thresholds of every catalogued product.
func (h *Handler) List(ctx context.Context) ([]Row, error) {
	set, err := h.resolver.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	keys := h.catalogue.Keys()
	rows := make([]Row, 0, len(keys))
	for _, key := range keys {
		th, err := set.For(key)
		rows = append(rows, Row{Key: key, Thresholds: th, Err: err})
	}
	return rows, nil
}

// SetResult reports the rule set after an edit. Incomplete is non-nil when
// the product still fails validation and will be skipped by the pipeline.
type SetResult struct {
	Key        string
	Thresholds domain.Thresholds
	Incomplete error
}

// Set stores a "<slug>/<field>" override. An edit that turns a valid rule
// set into an invalid one is rejected, for the edited product and for every
// other catalogued product; a product that is not yet fully configured
// accepts any single value so that it can be completed in steps.
func (h *Handler) Set(ctx context.Context, name, raw, actor string) (SetResult, error) {
	key, field, err := thresholds.ValidKey(h.catalogue, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return SetResult{}, err
	}
	value, err := parseValue(raw)
	if err != nil {
		return SetResult{}, fmt.Errorf("%s: %w", field, err)
	}
	name = key.Slug() + "/" + field

	set, err := h.resolver.Snapshot(ctx)
	if err != nil {
		return SetResult{}, err
	}
	preview := set.WithOverride(name, value)
	for _, other := range h.catalogue.Keys() {
		if other == key {
			continue
		}
		if _, err := set.For(other); err != nil {
			continue
		}
		if _, err := preview.For(other); err != nil {
			return SetResult{}, err
		}
	}
	_, beforeErr := set.For(key)
	after, afterErr := preview.For(key)
	if beforeErr == nil && afterErr != nil {
		return SetResult{}, afterErr
	}

	if err := h.settings.SetSetting(ctx, name, value.String(), actor); err != nil {
		return SetResult{}, &domain.StorageFailure{Op: "set setting", Err: err}
	}
	h.logger.Info().Str("key", name).Str("value", value.String()).Str("actor", actor).Msg("threshold override saved")
	return SetResult{Key: name, Thresholds: after, Incomplete: afterErr}, nil
}

// Unset removes a runtime override.
func (h *Handler) Unset(ctx context.Context, name, actor string) error {
	key, field, err := thresholds.ValidKey(h.catalogue, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return err
	}
	name = key.Slug() + "/" + field
	if err := h.settings.DeleteSetting(ctx, name); err != nil {
		return err
	}
	h.logger.Info().Str("key", name).Str("actor", actor).Msg("threshold override removed")
	return nil
}

// Overrides lists stored settings sorted by key.
func (h *Handler) Overrides(ctx context.Context) ([]storage.Setting, error) {
	settings, err := h.settings.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

// Execute runs one chat command and returns the reply text.
func (h *Handler) Execute(ctx context.Context, text, actor string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return helpText
	}
	// "/prices@MyBot" in group chats
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])

	switch cmd {
	case "/prices", "/prezzi":
		rows, err := h.List(ctx)
		if err != nil {
			return "Errore: " + err.Error()
		}
		if len(fields) > 1 {
			return renderOne(rows, fields[1])
		}
		return RenderRows(rows)
	case "/setprice":
		if len(fields) != 3 {
			return "Uso: /setprice <prodotto>/<campo> <valore>"
		}
		res, err := h.Set(ctx, fields[1], fields[2], actor)
		if err != nil {
			return "Errore: " + err.Error()
		}
		reply := fmt.Sprintf("Salvato %s = %s", res.Key, fields[2])
		if res.Incomplete != nil {
			reply += "\nAttenzione, configurazione ancora incompleta: " + res.Incomplete.Error()
		}
		return reply
	case "/unsetprice":
		if len(fields) != 2 {
			return "Uso: /unsetprice <prodotto>/<campo>"
		}
		if err := h.Unset(ctx, fields[1], actor); err != nil {
			return "Errore: " + err.Error()
		}
		return "Rimosso " + fields[1]
	case "/start", "/help":
		return helpText
	}
	return "Comando sconosciuto.\n" + helpText
}

const helpText = `Comandi:
/prices [prodotto] - soglie attuali
/setprice <prodotto>/<campo> <valore> - modifica una soglia
/unsetprice <prodotto>/<campo> - torna al valore di configurazione
Campi: deal_price, good_price, glitch_ratio, drop_ratio, near_low_ratio, outlier_ratio, min_samples`

func parseValue(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "€"))
	value, err := decimal.NewFromString(strings.Replace(raw, ",", ".", 1))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid number %q", raw)
	}
	if value.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("value cannot be negative")
	}
	return value, nil
}

// RenderRows formats the threshold table for chat and terminal output.
func RenderRows(rows []Row) string {
	var b strings.Builder
	for _, row := range rows {
		if row.Err != nil {
			fmt.Fprintf(&b, "%s: non configurato (%v)\n", row.Key.Slug(), row.Err)
			continue
		}
		fmt.Fprintf(&b, "%s: affare ≤ %s €, buono ≤ %s €\n",
			row.Key.Slug(), row.Thresholds.DealPrice.StringFixed(0), row.Thresholds.GoodPrice.StringFixed(0))
	}
	if b.Len() == 0 {
		return "Nessun prodotto in catalogo."
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderOne(rows []Row, slug string) string {
	slug = strings.Trim(strings.ToLower(slug), "/")
	for _, row := range rows {
		if row.Key.Slug() != slug {
			continue
		}
		if row.Err != nil {
			return fmt.Sprintf("%s: non configurato (%v)", slug, row.Err)
		}
		var b strings.Builder
		b.WriteString(slug)
		for _, field := range domain.ThresholdFields {
			v, _ := row.Thresholds.Get(field)
			fmt.Fprintf(&b, "\n%s = %s", field, v.String())
		}
		return b.String()
	}
	return "Prodotto sconosciuto: " + slug
}
