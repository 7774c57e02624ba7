// Package thresholds resolves the effective rule set for each product.
//
// Precedence, lowest first: global defaults, category overrides, catalogue
// entry overrides, runtime overrides from the settings table. A batch takes
// one Snapshot and uses it for every observation it processes.
package thresholds

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/normalize"
)

// OverrideReader lists runtime overrides keyed "<product-slug>/<field>".
type OverrideReader interface {
	ListThresholdOverrides(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Resolver builds immutable threshold snapshots.
type Resolver struct {
	base       domain.Thresholds
	categories map[domain.Category]normalize.ThresholdOverrides
	catalogue  *normalize.Normalizer
	overrides  OverrideReader
}

// NewResolver validates category labels up front.
func NewResolver(base domain.Thresholds, categories map[string]normalize.ThresholdOverrides, catalogue *normalize.Normalizer, overrides OverrideReader) (*Resolver, error) {
	cats := make(map[domain.Category]normalize.ThresholdOverrides, len(categories))
	for label, ov := range categories {
		cat, err := domain.ParseCategory(label)
		if err != nil {
			return nil, fmt.Errorf("thresholds.categories: %w", err)
		}
		cats[cat] = ov
	}
	return &Resolver{base: base, categories: cats, catalogue: catalogue, overrides: overrides}, nil
}

// Snapshot reads runtime overrides once and freezes them.
func (r *Resolver) Snapshot(ctx context.Context) (*Set, error) {
	runtime := map[string]decimal.Decimal{}
	if r.overrides != nil {
		loaded, err := r.overrides.ListThresholdOverrides(ctx)
		if err != nil {
			return nil, fmt.Errorf("load threshold overrides: %w", err)
		}
		runtime = loaded
	}
	return &Set{resolver: r, runtime: runtime}, nil
}

// Set is a frozen view of thresholds for one batch.
type Set struct {
	resolver *Resolver
	runtime  map[string]decimal.Decimal
}

// For returns the validated thresholds of key.
func (s *Set) For(key domain.ProductKey) (domain.Thresholds, error) {
	r := s.resolver
	th := apply(r.base, r.categories[key.Category])
	if r.catalogue != nil {
		if entry, ok := r.catalogue.Entry(key); ok {
			th = apply(th, entry.Thresholds)
		}
	}

	slug := key.Slug()
	for name, value := range s.runtime {
		// a variant-less slug is a prefix of its variants' slugs
		idx := strings.LastIndex(name, "/")
		if idx <= 0 || name[:idx] != slug {
			continue
		}
		var err error
		th, err = th.With(name[idx+1:], value)
		if err != nil {
			return domain.Thresholds{}, fmt.Errorf("override %s: %w", name, err)
		}
	}

	if err := th.Validate(); err != nil {
		return domain.Thresholds{}, fmt.Errorf("thresholds for %s: %w", key.Slug(), err)
	}
	return th, nil
}

// WithOverride returns a copy of the set with one extra runtime override,
// used to preview an edit before it is stored.
func (s *Set) WithOverride(name string, value decimal.Decimal) *Set {
	runtime := make(map[string]decimal.Decimal, len(s.runtime)+1)
	for k, v := range s.runtime {
		runtime[k] = v
	}
	runtime[name] = value
	return &Set{resolver: s.resolver, runtime: runtime}
}

// Keys lists the catalogued products in catalogue order.
func (r *Resolver) Keys() []domain.ProductKey {
	if r.catalogue == nil {
		return nil
	}
	return r.catalogue.Keys()
}

func apply(th domain.Thresholds, ov normalize.ThresholdOverrides) domain.Thresholds {
	if ov.DealPrice != nil {
		th.DealPrice = decimal.NewFromFloat(*ov.DealPrice)
	}
	if ov.GoodPrice != nil {
		th.GoodPrice = decimal.NewFromFloat(*ov.GoodPrice)
	}
	if ov.GlitchRatio != nil {
		th.GlitchRatio = decimal.NewFromFloat(*ov.GlitchRatio)
	}
	if ov.DropRatio != nil {
		th.DropRatio = decimal.NewFromFloat(*ov.DropRatio)
	}
	if ov.NearLowRatio != nil {
		th.NearLowRatio = decimal.NewFromFloat(*ov.NearLowRatio)
	}
	if ov.OutlierRatio != nil {
		th.OutlierRatio = decimal.NewFromFloat(*ov.OutlierRatio)
	}
	if ov.MinSamples != nil {
		th.MinSamples = *ov.MinSamples
	}
	return th
}

// ValidKey reports whether name is a "<slug>/<field>" override key for a
// catalogued product.
func ValidKey(catalogue *normalize.Normalizer, name string) (domain.ProductKey, string, error) {
	idx := strings.LastIndex(name, "/")
	if idx <= 0 || idx == len(name)-1 {
		return domain.ProductKey{}, "", fmt.Errorf("override key %q must look like <product-slug>/<field>", name)
	}
	slug, field := name[:idx], name[idx+1:]
	if _, err := domain.DefaultThresholds().Get(field); err != nil {
		return domain.ProductKey{}, "", err
	}
	key, ok := catalogue.Lookup(slug)
	if !ok {
		return domain.ProductKey{}, "", fmt.Errorf("unknown product %q", slug)
	}
	return key, field, nil
}
