package textkit

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticFloor = 0.70
	defaultSpellingFloor = 0.85
)

// CorrectorOption configures a [Corrector].
type CorrectorOption func(*Corrector)

// WithPhoneticFloor sets the minimum Jaro-Winkler score a phonetically
// aligned command needs to be accepted. Default: 0.70.
func WithPhoneticFloor(floor float64) CorrectorOption {
	return func(c *Corrector) { c.phoneticFloor = floor }
}

// WithSpellingFloor sets the minimum Jaro-Winkler score for the fallback
// pass when no command aligns phonetically. Default: 0.85.
func WithSpellingFloor(floor float64) CorrectorOption {
	return func(c *Corrector) { c.spellingFloor = floor }
}

// Corrector maps a misheard word or phrase onto the closest entry of a known
// command vocabulary. Speech recognizers routinely mangle short command words
// ("pause" heard as "paws", "resume" as "resoom"); the corrector recovers the
// intended command without ever inventing one that is not in the vocabulary.
//
// Matching runs in two stages. Double Metaphone codes are computed per token
// for the heard text and for every vocabulary entry; entries sharing at least
// one code are phonetic candidates and are ranked by Jaro-Winkler similarity
// against the phonetic floor. If nothing aligns phonetically, a stricter pure
// Jaro-Winkler pass runs against the spelling floor.
//
// A Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	phoneticFloor float64
	spellingFloor float64
}

// NewCorrector returns a [Corrector] with the supplied options applied.
func NewCorrector(opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		phoneticFloor: defaultPhoneticFloor,
		spellingFloor: defaultSpellingFloor,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns the vocabulary entry closest to heard, its similarity
// score, and whether any entry cleared its floor. When ok is false, corrected
// is heard unchanged and score is 0.
func (c *Corrector) Correct(heard string, vocabulary []string) (corrected string, score float64, ok bool) {
	heardNorm := Normalize(heard)
	if heardNorm == "" || len(vocabulary) == 0 {
		return heard, 0, false
	}
	heardTokens := strings.Fields(heardNorm)
	heardCodes := metaphoneSet(heardTokens)

	var (
		bestEntry    string
		bestScore    float64
		bestPhonetic bool
	)

	for _, entry := range vocabulary {
		entryNorm := Normalize(entry)
		if entryNorm == "" {
			continue
		}
		entryTokens := strings.Fields(entryNorm)

		phonetic := sharesCode(heardCodes, metaphoneSet(entryTokens))
		jw := similarity(heardTokens, entryTokens, heardNorm, entryNorm)

		switch {
		case phonetic && jw >= c.phoneticFloor:
			if !bestPhonetic || jw > bestScore {
				bestEntry, bestScore, bestPhonetic = entry, jw, true
			}
		case !phonetic && !bestPhonetic:
			if jw >= c.spellingFloor && jw > bestScore {
				bestEntry, bestScore = entry, jw
			}
		}
	}

	if bestEntry == "" {
		return heard, 0, false
	}
	return bestEntry, bestScore, true
}

// metaphoneSet returns the union of Double Metaphone codes across tokens,
// excluding empty codes.
func metaphoneSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			set[primary] = struct{}{}
		}
		if secondary != "" {
			set[secondary] = struct{}{}
		}
	}
	return set
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score across full strings, the
// space-stripped concatenations, and every token pair. The token-pair pass
// covers the common case of one mangled word inside an otherwise clean
// phrase.
func similarity(heardTokens, entryTokens []string, heardFull, entryFull string) float64 {
	score := matchr.JaroWinkler(heardFull, entryFull, false)

	if len(heardTokens) > 1 || len(entryTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(heardTokens, ""), strings.Join(entryTokens, ""), false)
		if joined > score {
			score = joined
		}
	}

	for _, ht := range heardTokens {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(ht, et, false); s > score {
				score = s
			}
		}
	}
	return score
}
