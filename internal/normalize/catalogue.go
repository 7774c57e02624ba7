package normalize

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pc-deal-watch/internal/domain"
)

// Catalogue is the watchlist of known products.
type Catalogue struct {
	Products []Entry `yaml:"products"`
}

// Entry describes one watched SKU and the title patterns that identify it.
type Entry struct {
	Category string   `yaml:"category"`
	Brand    string   `yaml:"brand"`
	Model    string   `yaml:"model"`
	Variant  string   `yaml:"variant"`
	Keywords []string `yaml:"keywords"`
	Exclude  []string `yaml:"exclude"`

	Thresholds ThresholdOverrides `yaml:"thresholds"`
}

// ThresholdOverrides are optional per-product values; nil means inherit.
type ThresholdOverrides struct {
	DealPrice    *float64 `yaml:"deal_price" mapstructure:"deal_price"`
	GoodPrice    *float64 `yaml:"good_price" mapstructure:"good_price"`
	GlitchRatio  *float64 `yaml:"glitch_ratio" mapstructure:"glitch_ratio"`
	DropRatio    *float64 `yaml:"drop_ratio" mapstructure:"drop_ratio"`
	NearLowRatio *float64 `yaml:"near_low_ratio" mapstructure:"near_low_ratio"`
	OutlierRatio *float64 `yaml:"outlier_ratio" mapstructure:"outlier_ratio"`
	MinSamples   *int     `yaml:"min_samples" mapstructure:"min_samples"`
}

// Key returns the canonical key of the entry.
func (e Entry) Key() (domain.ProductKey, error) {
	cat, err := domain.ParseCategory(e.Category)
	if err != nil {
		return domain.ProductKey{}, err
	}
	if e.Brand == "" || e.Model == "" {
		return domain.ProductKey{}, fmt.Errorf("catalogue entry %q: brand and model are required", e.Model)
	}
	return domain.ProductKey{Category: cat, Brand: e.Brand, Model: e.Model, Variant: e.Variant}, nil
}

// LoadCatalogue reads a YAML catalogue file. Unknown fields are rejected so
// that typos in thresholds do not silently fall back to defaults.
func LoadCatalogue(path string) (Catalogue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalogue{}, fmt.Errorf("read catalogue: %w", err)
	}
	return ParseCatalogue(raw)
}

// ParseCatalogue decodes catalogue YAML.
func ParseCatalogue(raw []byte) (Catalogue, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var cat Catalogue
	if err := dec.Decode(&cat); err != nil {
		return Catalogue{}, fmt.Errorf("decode catalogue: %w", err)
	}
	if len(cat.Products) == 0 {
		return Catalogue{}, fmt.Errorf("catalogue has no products")
	}
	return cat, nil
}
