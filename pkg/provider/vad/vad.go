// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level speech detector (a Silero ONNX model, or a
// plain adaptive energy detector) and surfaces it as a stateful per-stream
// session. Each session keeps its own state (buffers, smoothing history) so
// concurrent audio streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with the
// detection state after consuming the frame, which makes it suitable for the
// low-latency stages that gate barge-in and stop-phrase listening.
//
// Engines must be safe for concurrent use. A single SessionHandle is not,
// unless its implementation documents otherwise.
package vad

import "fmt"

// Event is the detection result after one audio frame.
type Event struct {
	// Type is the detection state transition.
	Type EventType

	// Probability is the speech probability in [0, 1]. Backends that only
	// expose a binary decision report 1 for voiced frames and 0 otherwise.
	Probability float64
}

// Voiced reports whether the event represents active speech.
func (e Event) Voiced() bool {
	return e.Type == SpeechStart || e.Type == SpeechContinue
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// Silence indicates no speech detected.
	Silence EventType = iota

	// SpeechStart indicates speech has just begun.
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended.
	SpeechEnd
)

// String implements fmt.Stringer for log output.
func (t EventType) String() string {
	switch t {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the PCM frames
	// passed to ProcessFrame. Typical: 16000.
	SampleRate int

	// SpeechThreshold is the probability above which a frame counts as
	// speech. Range [0, 1]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech
	// segment is considered ended. Must be <= SpeechThreshold. Backends that
	// have no native hysteresis may ignore it. Typical: 0.35.
	SilenceThreshold float64
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		return fmt.Errorf("vad: speech threshold out of range [0,1]: %f", c.SpeechThreshold)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		return fmt.Errorf("vad: silence threshold must be in [0, speech threshold]: %f", c.SilenceThreshold)
	}
	return nil
}

// SessionHandle is an active VAD session for a single audio stream.
//
// Frame sizes need not match the backend's native window: sessions buffer
// internally, so a backend needing 512-sample windows still accepts 20 ms
// frames. The returned event reflects the state after the most recently
// completed native window.
type SessionHandle interface {
	// ProcessFrame consumes one frame of mono PCM at the configured sample
	// rate and returns the detection state. It must not block.
	ProcessFrame(samples []int16) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	// Use it when the audio stream restarts so stale state from the previous
	// segment cannot leak into the next one.
	Reset()

	// Close releases session resources. ProcessFrame and Reset become no-ops
	// afterwards; calling Close again returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
type Engine interface {
	// NewSession creates a session ready to accept audio. Returns an error
	// for invalid configuration or if backend resources cannot be allocated.
	NewSession(cfg Config) (SessionHandle, error)
}

// Tracker converts a per-frame voiced decision into Event transitions. It is
// a helper for backends whose underlying detector yields only a boolean.
type Tracker struct {
	voiced bool
}

// Observe consumes one voiced decision and returns the transition event.
func (t *Tracker) Observe(voiced bool, probability float64) Event {
	var typ EventType
	switch {
	case voiced && !t.voiced:
		typ = SpeechStart
	case voiced && t.voiced:
		typ = SpeechContinue
	case !voiced && t.voiced:
		typ = SpeechEnd
	default:
		typ = Silence
	}
	t.voiced = voiced
	return Event{Type: typ, Probability: probability}
}

// Reset returns the tracker to the silent state.
func (t *Tracker) Reset() { t.voiced = false }
