// Package shape turns a raw token stream into speakable chunks.
//
// Generators emit tokens a few characters at a time; feeding those straight
// to synthesis produces choppy, mid-word audio. The shaper buffers tokens
// into stable phrases: a prebuffer smooths the start, then chunks are cut
// at sentence punctuation, at a soft length limit, or after an idle gap.
// The concatenation of the emitted chunks always equals the concatenation
// of the input tokens.
package shape

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Config tunes the chunking heuristics. Character counts are in bytes;
// cuts never split a UTF-8 sequence.
type Config struct {
	// PrebufferChars is how much text to hold before the first chunk.
	// Defaults to 120.
	PrebufferChars int

	// MinChunkChars is the smallest chunk worth emitting at a sentence
	// boundary. Defaults to 60.
	MinChunkChars int

	// SoftMaxChars forces a cut when the buffer grows this long without
	// punctuation. Defaults to 140.
	SoftMaxChars int

	// MinCutChars rejects whitespace cut points closer than this to the
	// chunk start; the cut then lands on the limit itself. Defaults
	// to 40.
	MinCutChars int

	// MaxIdle flushes the buffer when no token arrives for this long.
	// Defaults to 250ms.
	MaxIdle time.Duration

	// Boundaries is the sentence punctuation set. Defaults to ".!?…:;".
	Boundaries string
}

func (c Config) withDefaults() Config {
	if c.PrebufferChars <= 0 {
		c.PrebufferChars = 120
	}
	if c.MinChunkChars <= 0 {
		c.MinChunkChars = 60
	}
	if c.SoftMaxChars <= 0 {
		c.SoftMaxChars = 140
	}
	if c.MinCutChars <= 0 {
		c.MinCutChars = 40
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 250 * time.Millisecond
	}
	if c.Boundaries == "" {
		c.Boundaries = ".!?…:;"
	}
	return c
}

// Shape consumes tokens and emits speakable chunks. One call shapes one
// stream: the returned channel closes when tokens closes or ctx is
// cancelled. The shaper never drops text on a clean close; cancellation
// abandons whatever is buffered.
func Shape(ctx context.Context, tokens <-chan string, cfg Config) <-chan string {
	cfg = cfg.withDefaults()
	out := make(chan string)
	go run(ctx, tokens, out, cfg)
	return out
}

func run(ctx context.Context, tokens <-chan string, out chan<- string, cfg Config) {
	defer close(out)

	emit := func(s string) bool {
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Hold the start of the reply until there is enough text for a smooth
	// opening, then release it as one chunk.
	var carry string
	for len(carry) < cfg.PrebufferChars {
		select {
		case <-ctx.Done():
			return
		case tok, ok := <-tokens:
			if !ok {
				if carry != "" {
					emit(carry)
				}
				return
			}
			carry += tok
		}
	}
	if !emit(carry) {
		return
	}
	carry = ""

	idle := time.NewTimer(cfg.MaxIdle)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			if carry != "" {
				if !emit(carry) {
					return
				}
				carry = ""
			}
			idle.Reset(cfg.MaxIdle)
		case tok, ok := <-tokens:
			if !ok {
				if carry != "" {
					emit(carry)
				}
				return
			}
			carry += tok
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.MaxIdle)

			if strings.ContainsAny(carry, cfg.Boundaries) && len(carry) >= cfg.MinChunkChars {
				if !emit(carry) {
					return
				}
				carry = ""
				continue
			}
			if len(carry) >= cfg.SoftMaxChars {
				head, tail := cut(carry, cfg.SoftMaxChars, cfg.MinCutChars)
				if !emit(head) {
					return
				}
				carry = tail
			}
		}
	}
}

// cut splits s near the soft limit, preferring the last whitespace before
// it. A cut point too close to the start falls back to the limit itself,
// snapped onto a rune boundary. head+tail always equals s.
func cut(s string, softMax, minCut int) (head, tail string) {
	if len(s) <= softMax {
		return s, ""
	}
	at := strings.LastIndex(s[:softMax], " ")
	if at < minCut {
		at = softMax
		for at > 0 && !utf8.RuneStart(s[at]) {
			at--
		}
	}
	return s[:at], s[at:]
}
