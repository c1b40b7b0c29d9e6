package textkit

import (
	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// Ratio returns the Levenshtein-based similarity of the two normalized
// strings as a percentage in [0, 100].
func Ratio(a, b string) int {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" {
		return 0
	}
	return fuzzy.Ratio(a, b)
}

// PartialRatio returns the best similarity between the shorter normalized
// string and any equal-length substring of the longer one, in [0, 100].
// A short phrase fully contained in a longer transcript scores 100.
func PartialRatio(a, b string) int {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" {
		return 0
	}
	return fuzzy.PartialRatio(a, b)
}
