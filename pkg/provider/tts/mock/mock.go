// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to script playback behaviour and to verify which texts,
// cache keys and languages the code under test speaks.
//
// Example:
//
//	syn := &mock.Synthesizer{Cached: true, SayDelay: 20 * time.Millisecond}
//	coord := speak.New(syn, ...)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/urecho/urecho/pkg/provider/tts"
)

// SayCall records a single invocation of Say or SayCached.
type SayCall struct {
	// Text is the spoken text, or the cache key for SayCached.
	Text string
	// Lang is the language passed to the call.
	Lang string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SayErr, if non-nil, is returned by every Say call.
	SayErr error

	// SayDelay makes each Say block this long, simulating playback.
	// Stop and context cancellation cut the wait short.
	SayDelay time.Duration

	// Cached is the result returned by SayCached.
	Cached bool

	// --- Call records ---

	// SayCalls records every call to Say in order.
	SayCalls []SayCall

	// CachedCalls records every call to SayCached in order.
	CachedCalls []SayCall

	// StreamCalls counts calls to SayStream.
	StreamCalls int

	// StopCalls counts calls to Stop.
	StopCalls int

	speaking bool
	abort    chan struct{}
}

// Say records the call and blocks for SayDelay. IsSpeaking reports true
// for the duration.
func (s *Synthesizer) Say(ctx context.Context, text, lang string) error {
	s.mu.Lock()
	s.SayCalls = append(s.SayCalls, SayCall{Text: text, Lang: lang})
	s.speaking = true
	s.abort = make(chan struct{})
	abort := s.abort
	delay := s.SayDelay
	err := s.SayErr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.speaking = false
		s.mu.Unlock()
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-abort:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// SayStream consumes the chunk channel in a goroutine, speaking each chunk
// through Say. onFirstSpeak fires before the first chunk, onDone after the
// channel closes or a Say fails.
func (s *Synthesizer) SayStream(ctx context.Context, chunks <-chan string, lang string, onFirstSpeak, onDone func()) error {
	s.mu.Lock()
	s.StreamCalls++
	s.mu.Unlock()

	go func() {
		first := true
		for chunk := range chunks {
			if first && onFirstSpeak != nil {
				onFirstSpeak()
			}
			first = false
			if err := s.Say(ctx, chunk, lang); err != nil {
				break
			}
		}
		if onDone != nil {
			onDone()
		}
	}()
	return nil
}

// SayCached records the call and returns Cached.
func (s *Synthesizer) SayCached(ctx context.Context, key, lang string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CachedCalls = append(s.CachedCalls, SayCall{Text: key, Lang: lang})
	return s.Cached
}

// IsSpeaking reports whether a Say is currently in flight.
func (s *Synthesizer) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Stop records the call and interrupts the Say in flight, if any.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	if s.abort != nil {
		close(s.abort)
		s.abort = nil
	}
}

// CachedKeys returns the keys passed to SayCached so far, in order. Safe
// to poll while the code under test is still speaking.
func (s *Synthesizer) CachedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.CachedCalls))
	for i, c := range s.CachedCalls {
		out[i] = c.Text
	}
	return out
}

// Spoken returns the texts passed to Say so far, in order.
func (s *Synthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SayCalls))
	for i, c := range s.SayCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SayCalls = nil
	s.CachedCalls = nil
	s.StreamCalls = 0
	s.StopCalls = 0
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
