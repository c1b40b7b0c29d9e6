// Package asr defines the contract for batch speech-to-text backends.
//
// Unlike a streaming transcriber, a batch Transcriber receives one complete
// utterance worth of PCM and returns a single result. The interaction loop
// records until silence, hands the buffer over, and waits; there are no
// partial hypotheses at this layer. Implementations live in subpackages
// (whisper for the HTTP server, native for in-process inference, mock for
// tests) so the orchestration code never links against a specific backend.
package asr

import "context"

// Result is one finished transcription.
type Result struct {
	// Text is the recognized utterance, trimmed. Empty means the backend
	// heard nothing usable; callers treat that as silence, not an error.
	Text string

	// Lang is the BCP-47-ish language code the backend settled on ("en",
	// "ro"). For single-language calls it echoes the hint.
	Lang string

	// Confidence scores the hypothesis. Backends that expose average log
	// probability report it here; 0 means the backend has no opinion.
	Confidence float64
}

// Transcriber converts one utterance of 16 kHz mono PCM into text.
//
// Implementations must be safe for sequential reuse: the interaction loop
// calls Transcribe once per turn for the lifetime of the process. Calls may
// be slow (network or model inference); honor ctx cancellation.
type Transcriber interface {
	// Transcribe recognizes pcm in the hinted language. An empty langHint
	// lets the backend auto-detect. Degenerate audio yields an empty
	// Result, not an error; errors mean the backend itself failed.
	Transcribe(ctx context.Context, pcm []int16, langHint string) (Result, error)

	// TranscribeBilingual recognizes pcm against both supported languages
	// and returns the stronger hypothesis. Backends without native
	// language identification run two passes and score them.
	TranscribeBilingual(ctx context.Context, pcm []int16) (Result, error)
}
