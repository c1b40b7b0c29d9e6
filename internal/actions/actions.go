// Package actions lifts control directives out of generated replies.
//
// The language model is prompted to embed bracketed directives such as
// [INTENT:lights_on], [MOTOR:head_turn] or [ACTION:wave] inline with its
// text. They are machine instructions, not speech: the stripper removes
// them before synthesis and publishes each one as an [Event]. Dispatchers
// consume the events; logging is always wired, forwarding to an MCP tool
// server is optional.
//
// Directives can be split across streaming chunks, so [Stripper] holds
// back text from a possible directive start until the tag completes or
// turns out not to be one. Ordinary bracketed text such as "[laughs]"
// passes through untouched.
package actions

import (
	"regexp"
	"strings"
)

// Kind is the directive class.
type Kind string

// Directive classes the generator may emit.
const (
	KindIntent Kind = "INTENT"
	KindMotor  Kind = "MOTOR"
	KindAction Kind = "ACTION"
)

// Event is one directive lifted out of the reply text.
type Event struct {
	Kind  Kind
	Value string
}

var tagRe = regexp.MustCompile(`\[(INTENT|MOTOR|ACTION):([^\]]+)\]`)

// kindPrefixes drives the hold-back decision for partial tags.
var kindPrefixes = []string{"INTENT:", "MOTOR:", "ACTION:"}

// Extract strips every complete directive from text and returns the
// cleaned text plus the directives in order of appearance. Whitespace
// around a stripped tag is left as-is.
func Extract(text string) (string, []Event) {
	matches := tagRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	var sb strings.Builder
	events := make([]Event, 0, len(matches))
	last := 0
	for _, m := range matches {
		sb.WriteString(text[last:m[0]])
		last = m[1]
		events = append(events, Event{
			Kind:  Kind(text[m[2]:m[3]]),
			Value: strings.TrimSpace(text[m[4]:m[5]]),
		})
	}
	sb.WriteString(text[last:])
	return sb.String(), events
}

// Stripper strips directives from a chunked stream where a tag may be
// split across chunk boundaries.
//
// Not safe for concurrent use; the speaking producer owns it for the
// duration of one reply.
type Stripper struct {
	carry string
}

// Feed consumes the next chunk and returns as much cleaned text as is
// safe to speak, plus any directives that completed. Text before a
// possible directive start is never delayed; text from it onward is held
// until the next chunk resolves it.
func (s *Stripper) Feed(chunk string) (string, []Event) {
	text := s.carry + chunk
	s.carry = ""
	if text == "" {
		return "", nil
	}
	clean, events := Extract(text)
	if i := pendingTagStart(clean); i >= 0 {
		s.carry = clean[i:]
		clean = clean[:i]
	}
	return clean, events
}

// Flush returns whatever is still held back. Called once the stream is
// done; an unterminated directive comes out verbatim rather than being
// silently dropped.
func (s *Stripper) Flush() string {
	out := s.carry
	s.carry = ""
	return out
}

// pendingTagStart returns the index of the earliest '[' that could still
// grow into a directive once more text arrives, or -1. A bracket stays
// pending while its closing ']' has not appeared and the text after it is
// a viable directive prefix.
func pendingTagStart(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		rest := s[i+1:]
		if strings.ContainsRune(rest, ']') {
			continue
		}
		for _, p := range kindPrefixes {
			if strings.HasPrefix(rest, p) || strings.HasPrefix(p, rest) {
				return i
			}
		}
	}
	return -1
}
