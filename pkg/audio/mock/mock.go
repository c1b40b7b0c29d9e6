// Package mock provides test doubles for the audio package interfaces.
//
// Use Capture to feed scripted frames into listeners under test, and Player
// to inspect what a coordinator asked the speakers to play.
//
// Example:
//
//	cap := mock.NewCapture(16000, 20)
//	stream, _ := cap.Open(ctx, cfg)
//	cap.Feed(samples)
//	cap.CloseFeed()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/urecho/urecho/pkg/audio"
)

// Capture is a mock implementation of audio.Capture. Frames fed via Feed are
// delivered to every stream opened from it.
type Capture struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records the StreamConfig of every call to Open.
	OpenCalls []audio.StreamConfig

	sampleRate int
	blockMs    int
	streams    []*Stream
	elapsed    time.Duration
}

// NewCapture creates a Capture that stamps fed frames with the given sample
// rate and advances timestamps by blockMs per frame.
func NewCapture(sampleRate, blockMs int) *Capture {
	return &Capture{sampleRate: sampleRate, blockMs: blockMs}
}

// Open records the call and returns a new scripted stream.
func (c *Capture) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenCalls = append(c.OpenCalls, cfg)
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	st := &Stream{frames: make(chan audio.Frame, depth)}
	c.streams = append(c.streams, st)
	return st, nil
}

// Feed delivers one frame of samples to all open streams. It blocks if a
// stream's channel is full, which keeps scripted tests deterministic.
func (c *Capture) Feed(samples []int16) {
	c.mu.Lock()
	frame := audio.Frame{
		Samples:    append([]int16(nil), samples...),
		SampleRate: c.sampleRate,
		Timestamp:  c.elapsed,
	}
	c.elapsed += time.Duration(c.blockMs) * time.Millisecond
	streams := append([]*Stream(nil), c.streams...)
	c.mu.Unlock()

	for _, st := range streams {
		st.deliver(frame)
	}
}

// FeedSilence delivers n frames of zeroed samples of the given length.
func (c *Capture) FeedSilence(n, samplesPerFrame int) {
	buf := make([]int16, samplesPerFrame)
	for i := 0; i < n; i++ {
		c.Feed(buf)
	}
}

// CloseFeed closes the frame channels of all open streams, signalling end of
// capture to readers.
func (c *Capture) CloseFeed() {
	c.mu.Lock()
	streams := append([]*Stream(nil), c.streams...)
	c.mu.Unlock()
	for _, st := range streams {
		_ = st.Close()
	}
}

// Ensure Capture implements audio.Capture at compile time.
var _ audio.Capture = (*Capture)(nil)

// Stream is the scripted stream returned by Capture.Open.
type Stream struct {
	frames chan audio.Frame

	mu     sync.Mutex
	closed bool
}

// Frames returns the scripted frame channel.
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Close closes the frame channel. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

func (s *Stream) deliver(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

// Ensure Stream implements audio.Stream at compile time.
var _ audio.Stream = (*Stream)(nil)

// PlayCall records a single invocation of Player.Play.
type PlayCall struct {
	// PCM is a copy of the samples passed to Play.
	PCM []int16
	// SampleRate is the rate passed to Play.
	SampleRate int
}

// Player is a mock implementation of audio.Player.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned as the error from Play.
	PlayErr error

	// PlayDelay makes Play block for the given duration (or until Stop or
	// context cancellation) before returning.
	PlayDelay time.Duration

	// PlayCalls records every call to Play.
	PlayCalls []PlayCall

	// StopCalls counts invocations of Stop.
	StopCalls int

	stop chan struct{}
}

// Play records the call and simulates playback.
func (p *Player) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{
		PCM:        append([]int16(nil), pcm...),
		SampleRate: sampleRate,
	})
	err := p.PlayErr
	delay := p.PlayDelay
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop records the call and unblocks an in-flight Play.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCalls++
	if p.stop != nil {
		select {
		case <-p.stop:
		default:
			close(p.stop)
		}
		p.stop = nil
	}
}

// Close is a no-op for the mock.
func (p *Player) Close() error { return nil }

// Plays returns the number of Play calls so far. Safe to poll while the
// code under test is still playing.
func (p *Player) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.PlayCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = nil
	p.StopCalls = 0
}

// Ensure Player implements audio.Player at compile time.
var _ audio.Player = (*Player)(nil)
