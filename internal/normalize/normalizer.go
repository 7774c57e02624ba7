// Package normalize maps free-text listing titles onto canonical product keys.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"pc-deal-watch/internal/domain"
)

type compiledEntry struct {
	entry    Entry
	key      domain.ProductKey
	keywords [][]string
	exclude  [][]string
	variant  specs
}

// Normalizer matches titles against a fixed catalogue. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	entries []compiledEntry
	bySlug  map[string]int
}

// New compiles a catalogue. Duplicate product keys are rejected.
func New(cat Catalogue) (*Normalizer, error) {
	n := &Normalizer{bySlug: make(map[string]int, len(cat.Products))}
	for _, e := range cat.Products {
		key, err := e.Key()
		if err != nil {
			return nil, err
		}
		if _, dup := n.bySlug[key.Slug()]; dup {
			return nil, fmt.Errorf("duplicate catalogue entry %s", key.Slug())
		}

		ce := compiledEntry{entry: e, key: key, variant: extractSpecs(Tokenize(e.Variant), true)}
		keywords := e.Keywords
		if len(keywords) == 0 {
			keywords = []string{e.Model}
		}
		for _, kw := range keywords {
			if toks := Tokenize(kw); len(toks) > 0 {
				ce.keywords = append(ce.keywords, toks)
			}
		}
		if len(ce.keywords) == 0 {
			return nil, fmt.Errorf("catalogue entry %s has no usable keywords", key.Slug())
		}
		for _, ex := range e.Exclude {
			if toks := Tokenize(ex); len(toks) > 0 {
				ce.exclude = append(ce.exclude, toks)
			}
		}

		n.bySlug[key.Slug()] = len(n.entries)
		n.entries = append(n.entries, ce)
	}
	return n, nil
}

// Normalize resolves a title to a product key. The source hint (usually the
// SKU query a fetcher ran) only breaks ties between equally strong matches;
// it never produces a key on its own. A title naming a capacity, speed or
// wattage other than the entry's variant does not match that entry.
func (n *Normalizer) Normalize(title, sourceHint string) (domain.ProductKey, error) {
	tokens := Tokenize(title)
	if len(tokens) == 0 {
		return domain.ProductKey{}, &domain.NormalizationFailure{Title: title, SourceHint: sourceHint, Err: domain.ErrNoCatalogueMatch}
	}

	titleSpecs := extractSpecs(tokens, false)
	best := 0
	mismatch := false
	var candidates []int
	for i, ce := range n.entries {
		if ce.excluded(tokens) {
			continue
		}
		score := ce.score(tokens)
		if score > 0 && ce.variant.conflicts(titleSpecs) {
			mismatch = true
			continue
		}
		switch {
		case score == 0:
		case score > best:
			best = score
			candidates = []int{i}
		case score == best:
			candidates = append(candidates, i)
		}
	}

	switch len(candidates) {
	case 0:
		err := domain.ErrNoCatalogueMatch
		if mismatch {
			err = domain.ErrVariantMismatch
		}
		return domain.ProductKey{}, &domain.NormalizationFailure{Title: title, SourceHint: sourceHint, Err: err}
	case 1:
		return n.entries[candidates[0]].key, nil
	}

	if hint := Tokenize(sourceHint); len(hint) > 0 {
		var narrowed []int
		for _, idx := range candidates {
			if n.entries[idx].score(hint) > 0 {
				narrowed = append(narrowed, idx)
			}
		}
		if len(narrowed) == 1 {
			return n.entries[narrowed[0]].key, nil
		}
	}

	names := make([]string, 0, len(candidates))
	for _, idx := range candidates {
		names = append(names, n.entries[idx].key.Slug())
	}
	sort.Strings(names)
	return domain.ProductKey{}, &domain.NormalizationFailure{Title: title, SourceHint: sourceHint, Candidates: names, Err: domain.ErrAmbiguousMatch}
}

// Entry returns the catalogue entry for a key.
func (n *Normalizer) Entry(key domain.ProductKey) (Entry, bool) {
	idx, ok := n.bySlug[key.Slug()]
	if !ok {
		return Entry{}, false
	}
	return n.entries[idx].entry, true
}

// Keys lists every catalogued product key in catalogue order.
func (n *Normalizer) Keys() []domain.ProductKey {
	keys := make([]domain.ProductKey, 0, len(n.entries))
	for _, ce := range n.entries {
		keys = append(keys, ce.key)
	}
	return keys
}

// Lookup finds a catalogued key by slug.
func (n *Normalizer) Lookup(slug string) (domain.ProductKey, bool) {
	idx, ok := n.bySlug[strings.Trim(strings.ToLower(slug), "/")]
	if !ok {
		return domain.ProductKey{}, false
	}
	return n.entries[idx].key, true
}

func (ce compiledEntry) score(tokens []string) int {
	best := 0
	for _, kw := range ce.keywords {
		if len(kw) > best && containsSeq(tokens, kw) {
			best = len(kw)
		}
	}
	return best
}

func (ce compiledEntry) excluded(tokens []string) bool {
	for _, ex := range ce.exclude {
		if containsSeq(tokens, ex) {
			return true
		}
	}
	return false
}

// Tokenize lower-cases s, drops punctuation and splits at letter/digit
// boundaries, so "RTX5090", "rtx-5090" and "RTX 5090" all yield [rtx 5090].
func Tokenize(s string) []string {
	var (
		tokens []string
		cur    []rune
		last   rune
	)
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if len(cur) > 0 && unicode.IsDigit(r) != unicode.IsDigit(last) {
				flush()
			}
			cur = append(cur, r)
			last = r
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func containsSeq(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return true
	}
	return false
}
