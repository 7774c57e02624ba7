package normalize

import "strconv"

// specKind groups units that describe the same attribute.
type specKind string

const (
	specCapacity specKind = "capacity"
	specSpeed    specKind = "speed"
	specPower    specKind = "power"
)

// specs maps a kind to the values seen for it. Capacities are in GB.
type specs map[specKind][]int

var units = map[string]struct {
	kind specKind
	mul  int
}{
	"gb":  {specCapacity, 1},
	"tb":  {specCapacity, 1000},
	"mhz": {specSpeed, 1},
	"mt":  {specSpeed, 1},
	"w":   {specPower, 1},
}

// extractSpecs reads "<n> <unit>" pairs from tokens. Kits written as
// "2x16GB" count as their total. In a catalogue variant a bare number of
// four digits or more ("32GB 6000") is a speed.
func extractSpecs(tokens []string, variant bool) specs {
	out := specs{}
	for i, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if i+1 < len(tokens) {
			if u, ok := units[tokens[i+1]]; ok {
				if i >= 2 && tokens[i-1] == "x" {
					if k, err := strconv.Atoi(tokens[i-2]); err == nil {
						n *= k
					}
				}
				out[u.kind] = append(out[u.kind], n*u.mul)
				continue
			}
		}
		if variant && len(tok) >= 4 && (i+1 == len(tokens) || tokens[i+1] != "x") {
			out[specSpeed] = append(out[specSpeed], n)
		}
	}
	return out
}

// conflicts reports whether the title names a size of some kind the entry's
// variant also fixes, without naming the variant's own value.
func (s specs) conflicts(title specs) bool {
	for kind, want := range s {
		got := title[kind]
		if len(got) == 0 {
			continue
		}
		if !overlap(want, got) {
			return true
		}
	}
	return false
}

func overlap(a, b []int) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
