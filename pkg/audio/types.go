// Package audio defines the frame type and the capture/playback contracts used
// by every listener in the pipeline (wake engines, barge-in listener, keyword
// spotters). Frames are fixed-duration blocks of mono 16-bit PCM; capture
// backends push them onto a bounded channel and drop the oldest frame under
// backpressure so a stalled consumer can never wedge the capture callback.
package audio

import (
	"context"
	"time"
)

// Frame is a single fixed-duration block of mono PCM samples. The sample
// count is SampleRate×BlockMs/1000; all listeners assume this invariant.
// A Frame is immutable once captured: ownership passes from the capture
// goroutine to exactly one consumer and the frame is dropped after
// classification.
type Frame struct {
	// Samples holds signed 16-bit PCM at SampleRate Hz, mono.
	Samples []int16

	// SampleRate in Hz (16000 for every built-in listener).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// StreamConfig describes the format a capture stream must deliver.
type StreamConfig struct {
	// SampleRate in Hz. All built-in DSP assumes 16000.
	SampleRate int

	// BlockMs is the frame duration in milliseconds (e.g. 20).
	BlockMs int

	// QueueDepth is the capacity of the frame channel. Zero means a
	// backend-chosen default. When the queue is full the oldest frame is
	// dropped, never the newest.
	QueueDepth int
}

// BlockSamples returns the number of samples per frame for this config.
func (c StreamConfig) BlockSamples() int {
	return c.SampleRate * c.BlockMs / 1000
}

// Stream is an open capture stream. Close releases the underlying device;
// after Close returns the Frames channel is closed. Implementations must be
// safe for a single consumer goroutine plus a concurrent Close.
type Stream interface {
	// Frames returns the bounded channel of captured frames. The channel is
	// closed when the stream ends or Close is called.
	Frames() <-chan Frame

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Capture opens microphone streams. Each listener opens its own stream (or
// shares one, per configuration); implementations must support several
// concurrent streams where the backend allows it.
type Capture interface {
	// Open starts capturing with the given format. The returned Stream is
	// delivering frames before Open returns.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Player drives raw PCM playback for the speech synthesizer.
//
// Implementations must be safe for concurrent use: Stop may be called from a
// different goroutine while Play is blocked.
type Player interface {
	// Play writes mono 16-bit PCM at the given rate and blocks until playback
	// completes, ctx is cancelled, or Stop is called.
	Play(ctx context.Context, pcm []int16, sampleRate int) error

	// Stop aborts in-flight playback. Safe to call at any time.
	Stop()

	// Close releases the output device.
	Close() error
}
