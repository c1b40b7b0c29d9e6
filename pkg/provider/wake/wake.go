// Package wake defines the contract for wake keyword detection backends.
//
// A wake engine owns its own microphone stream and model state; the standby
// loop merely polls it. Backends differ wildly in mechanism (compiled
// keyword models, embedding classifiers, transcribe-then-match), so the
// interface is deliberately small: block until a keyword fires or a timeout
// passes. Implementations live in subpackages (porcupine, oww, textwake,
// mock); the arbiter in internal/arbiter multiplexes several of them.
package wake

import (
	"context"
	"time"
)

// Hit is one detected wake keyword.
type Hit struct {
	// Keyword is the identifier of the phrase that fired, as configured on
	// the backend ("hey robot", "jarvis").
	Keyword string

	// Lang is the language the session should start in, taken from the
	// keyword's configuration.
	Lang string

	// Engine names the backend that produced the hit ("porcupine",
	// "openwakeword", "textwake").
	Engine string

	// Score is the backend's confidence when it has one: a sigmoid output
	// for classifier backends, a match ratio for text matching. Binary
	// detectors leave it zero.
	Score float64
}

// Engine is one wake keyword detection backend.
//
// Engines are not safe for concurrent WaitForAny calls; the standby loop is
// the sole caller. Close releases the microphone and model resources and
// must be safe to call more than once.
type Engine interface {
	// WaitForAny blocks until any configured keyword is detected, timeout
	// elapses, or ctx is cancelled. A (nil, nil) return means the timeout
	// passed without a detection; the caller polls again. Errors are
	// reserved for backend failure, not for silence.
	WaitForAny(ctx context.Context, timeout time.Duration) (*Hit, error)

	// Close stops the capture stream and frees backend resources.
	Close() error
}
