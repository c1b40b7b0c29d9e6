// Package tts defines the contract for speech synthesis backends.
//
// A Synthesizer owns its playback path end to end: callers hand over text
// and a language, the backend produces audio and plays it. Blocking and
// streaming entry points coexist because the interaction loop needs both:
// short acknowledgements are spoken synchronously while generated replies
// are streamed chunk by chunk. Implementations live in subpackages (piper
// for local synthesis, mock for tests).
package tts

import "context"

// Synthesizer turns text into played-back speech.
//
// Stop must be safe to call from any goroutine at any time; the other
// methods are called from the interaction loop only.
type Synthesizer interface {
	// Say synthesizes and plays text, blocking until playback finishes,
	// Stop is called, or ctx is cancelled. Empty text is a no-op.
	Say(ctx context.Context, text, lang string) error

	// SayStream speaks chunks as they arrive and returns without
	// blocking. onFirstSpeak fires when the first audio starts, onDone
	// when the stream is fully played or aborted; either may be nil.
	SayStream(ctx context.Context, chunks <-chan string, lang string, onFirstSpeak, onDone func()) error

	// SayCached plays a pre-synthesized utterance by cache key. It
	// reports false when the key is not cached; the caller falls back
	// to Say.
	SayCached(ctx context.Context, key, lang string) bool

	// IsSpeaking reports whether playback is currently audible.
	IsSpeaking() bool

	// Stop interrupts synthesis and playback immediately.
	Stop()
}
