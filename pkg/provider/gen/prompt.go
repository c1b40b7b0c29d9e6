package gen

import (
	"strings"
	"time"
)

// Fallback sentence keys understood by Fallbacks.Lookup.
const (
	FallbackUnknown = "unknown"
	FallbackError   = "error"
	FallbackEmpty   = "empty"
	FallbackTimeout = "timeout"
)

var fallbackDefaults = map[string]string{
	FallbackUnknown: "I don't know.",
	FallbackError:   "Technical error. Try again.",
	FallbackTimeout: "Taking too long. Try again.",
}

// Fallbacks maps localized sentence keys ("error_ro", "unknown_en") to the
// canned reply spoken when a backend cannot produce one.
type Fallbacks map[string]string

// Lookup resolves key for lang: "error" with a Romanian hint reads
// "error_ro". Unconfigured keys fall back to a built-in English default;
// an unconfigured "empty" borrows the "unknown" sentence.
func (f Fallbacks) Lookup(key, lang string) string {
	suffix := "_en"
	if strings.HasPrefix(strings.ToLower(lang), "ro") {
		suffix = "_ro"
	}
	if s := f[key+suffix]; s != "" {
		return s
	}
	if key == FallbackEmpty {
		return f.Lookup(FallbackUnknown, lang)
	}
	return fallbackDefaults[key]
}

// SystemPrompt composes the system instruction for one reply: today's
// date, the configured base prompt, and the mode's guardrail. unknown is
// the localized sentence precise mode tells the model to answer with when
// it is not sure.
func SystemPrompt(base string, mode Mode, unknown string) string {
	if base == "" {
		base = "You are a helpful assistant."
	}
	var b strings.Builder
	b.WriteString("Today is ")
	b.WriteString(time.Now().Format("Monday, January 02, 2006"))
	b.WriteString(".\n\n")
	b.WriteString(strings.TrimSpace(base))
	b.WriteString("\n")
	if mode == ModePrecise || mode == "" {
		b.WriteString("IMPORTANT: Answer only with verified facts. ")
		b.WriteString("If uncertain or outdated, reply exactly with: '")
		b.WriteString(unknown)
		b.WriteString("' Keep answers concise.")
	} else {
		b.WriteString("Be helpful and friendly.")
	}
	return b.String()
}

// TrimHistory returns the suffix of history covering at most maxTurns
// exchanges (two entries per turn). A non-positive maxTurns disables
// history entirely.
func TrimHistory(history []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 {
		return nil
	}
	if keep := maxTurns * 2; len(history) > keep {
		return history[len(history)-keep:]
	}
	return history
}
