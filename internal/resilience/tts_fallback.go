package resilience

import (
	"context"

	"github.com/urecho/urecho/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback
// speaks instead.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, synth tts.Synthesizer) {
	f.group.AddFallback(name, synth)
}

// Say speaks text through the first healthy backend.
func (f *TTSFallback) Say(ctx context.Context, text, lang string) error {
	return f.group.Execute(func(s tts.Synthesizer) error {
		return s.Say(ctx, text, lang)
	})
}

// SayStream hands the chunk channel to the first healthy backend. Only
// stream setup is covered by failover; once a backend starts consuming
// chunks, mid-stream errors stay with that backend.
func (f *TTSFallback) SayStream(ctx context.Context, chunks <-chan string, lang string, onFirstSpeak, onDone func()) error {
	return f.group.Execute(func(s tts.Synthesizer) error {
		return s.SayStream(ctx, chunks, lang, onFirstSpeak, onDone)
	})
}

// SayCached consults only the primary backend. Cached prompts are
// synthesized per voice, so a miss must not cascade into another backend's
// cache; the caller falls back to Say, which does fail over.
func (f *TTSFallback) SayCached(ctx context.Context, key, lang string) bool {
	return f.group.entries[0].value.SayCached(ctx, key, lang)
}

// IsSpeaking reports whether any backend is currently audible.
func (f *TTSFallback) IsSpeaking() bool {
	for i := range f.group.entries {
		if f.group.entries[i].value.IsSpeaking() {
			return true
		}
	}
	return false
}

// Stop interrupts playback on every backend, not just the primary; a turn
// may have failed over mid-session.
func (f *TTSFallback) Stop() {
	for i := range f.group.entries {
		f.group.entries[i].value.Stop()
	}
}

// Healthy returns nil while at least one backend's circuit is not open, for
// readiness checks.
func (f *TTSFallback) Healthy() error {
	return f.group.Healthy()
}
