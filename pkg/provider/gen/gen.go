// Package gen defines the contract for streaming reply generators.
//
// A Generator turns one user utterance plus recent conversation history
// into an ordered stream of text fragments for downstream shaping and
// synthesis. An error from GenerateStream means the backend never started
// and the caller may fail over to another Generator; once the channel is
// open, backend failures surface as a localized fallback sentence on the
// channel itself, so the pipeline always has something to say.
// Implementations live in subpackages (openai for OpenAI-compatible
// endpoints, anyllm for the multi-provider gateway, mock for tests).
package gen

import "context"

// Mode selects the generation temperament.
type Mode string

const (
	// ModePrecise answers strictly from verified knowledge at zero
	// temperature and admits ignorance instead of guessing.
	ModePrecise Mode = "precise"

	// ModeCreative allows looser, friendlier phrasing at the backend's
	// configured temperature.
	ModeCreative Mode = "creative"
)

// Turn roles as they appear in Request.History.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one half of a prior exchange.
type Turn struct {
	Role string
	Text string
}

// Request describes one reply to generate.
type Request struct {
	// Prompt is the user's utterance, already corrected and trimmed.
	Prompt string

	// Lang hints the reply language ("en", "ro") and selects the
	// localized fallback sentence spoken when the backend fails.
	Lang string

	// Mode selects the temperament; empty means ModePrecise.
	Mode Mode

	// History holds recent turns, oldest first. Backends trim it to
	// their configured window before sending.
	History []Turn
}

// Generator produces streamed replies.
type Generator interface {
	// GenerateStream starts one reply and returns a channel of text
	// fragments in reply order. The channel closes when the reply
	// completes, ctx is cancelled, or Stop is called.
	GenerateStream(ctx context.Context, req Request) (<-chan string, error)

	// Stop cancels every in-flight stream. Safe from any goroutine.
	Stop()
}
