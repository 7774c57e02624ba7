package domain

import (
	"fmt"
	"strings"
)

// Category groups watchlist products by hardware family.
type Category string

const (
	CategoryGPU  Category = "GPU"
	CategoryCPU  Category = "CPU"
	CategoryRAM  Category = "RAM"
	CategorySSD  Category = "SSD"
	CategoryMOBO Category = "MOBO"
	CategoryPSU  Category = "PSU"
)

// ParseCategory maps a free-form category label onto a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CategoryGPU, CategoryCPU, CategoryRAM, CategorySSD, CategoryMOBO, CategoryPSU:
		return c, nil
	case "MOTHERBOARD", "SCHEDA MADRE":
		return CategoryMOBO, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ProductKey is the canonical identity of a watched SKU. Two keys are equal
// when all four fields are equal.
type ProductKey struct {
	Category Category
	Brand    string
	Model    string
	Variant  string
}

// Slug renders the key as a stable lower-case path, e.g. gpu/nvidia/rtx-5090/32gb.
// It is the storage identifier and the prefix of threshold override keys.
func (k ProductKey) Slug() string {
	parts := []string{
		slugPart(string(k.Category)),
		slugPart(k.Brand),
		slugPart(k.Model),
	}
	if v := slugPart(k.Variant); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, "/")
}

func (k ProductKey) String() string {
	s := fmt.Sprintf("%s %s %s", k.Category, k.Brand, k.Model)
	if k.Variant != "" {
		s += " " + k.Variant
	}
	return s
}

// IsZero reports whether the key was never set.
func (k ProductKey) IsZero() bool {
	return k == ProductKey{}
}

// ParseSlug is the inverse of Slug for keys whose parts contain no slash.
// Brand, model and variant come back in slug form.
func ParseSlug(slug string) (ProductKey, error) {
	parts := strings.Split(strings.Trim(slug, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 {
		return ProductKey{}, fmt.Errorf("invalid product slug %q", slug)
	}
	cat, err := ParseCategory(parts[0])
	if err != nil {
		return ProductKey{}, err
	}
	key := ProductKey{Category: cat, Brand: parts[1], Model: parts[2]}
	if len(parts) == 4 {
		key.Variant = parts[3]
	}
	return key, nil
}

func slugPart(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
