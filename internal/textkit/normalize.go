// Package textkit holds the text-matching primitives shared by the wake,
// exit-phrase and barge-in paths: transcript normalization, fuzzy similarity
// scoring, and phonetic correction of near-miss command words.
package textkit

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics decomposes to NFD, drops combining marks, and recomposes.
// Handles both Latin accents ("привет" stays intact, "café" becomes "cafe")
// and the Cyrillic "ё", which decomposes to "е" plus a combining diaeresis.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases s, folds diacritics, deletes punctuation and collapses
// runs of whitespace to single spaces. Deleting rather than spacing out
// punctuation keeps contractions as one token ("that's" becomes "thats"),
// which is how recognizer output is usually written anyway.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if folded, _, err := transform.String(foldDiacritics, s); err == nil {
		s = folded
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
