// Package malgo provides microphone capture and PCM playback backed by the
// miniaudio library (via github.com/gen2brain/malgo). It is the default audio
// backend: one shared miniaudio context, one device per open stream, so the
// wake engines, the barge-in listener and the stop spotters can each hold
// their own capture stream concurrently.
package malgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/urecho/urecho/pkg/audio"
)

// defaultQueueDepth bounds the frame channel of a capture stream. At 20 ms
// frames this is about 1.3 s of audio headroom before drop-oldest kicks in.
const defaultQueueDepth = 64

// Compile-time interface assertions.
var (
	_ audio.Capture = (*Backend)(nil)
	_ audio.Player  = (*Backend)(nil)
	_ audio.Stream  = (*captureStream)(nil)
)

// Backend wraps one miniaudio context. It implements both [audio.Capture] and
// [audio.Player]; all open devices share the context and must be closed
// before Close is called on the backend itself.
type Backend struct {
	ctx *malgo.AllocatedContext

	mu       sync.Mutex
	playStop chan struct{}
	closed   bool
}

// New initializes the miniaudio context.
func New() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Backend{ctx: ctx}, nil
}

// Open starts a capture device delivering mono 16-bit frames of
// cfg.BlockSamples() samples each. Short device callbacks are accumulated
// until a full frame is available; under backpressure the oldest frame is
// dropped.
func (b *Backend) Open(ctx context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if cfg.SampleRate <= 0 || cfg.BlockMs <= 0 {
		return nil, fmt.Errorf("malgo: invalid stream config: rate=%d blockMs=%d", cfg.SampleRate, cfg.BlockMs)
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	st := &captureStream{
		frames:      make(chan audio.Frame, depth),
		blockSize:   cfg.BlockSamples(),
		sampleRate:  cfg.SampleRate,
		frameLength: time.Duration(cfg.BlockMs) * time.Millisecond,
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			if frameCount == 0 {
				return
			}
			st.push(audio.BytesToInt16(input))
		},
	}

	dev, err := malgo.InitDevice(b.ctx.Context, devCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	st.device = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}

	// Release the device if the caller's context ends before Close.
	go func() {
		select {
		case <-ctx.Done():
			_ = st.Close()
		case <-st.done():
		}
	}()

	return st, nil
}

// Play opens a playback device, writes pcm to it, and blocks until all
// samples have been consumed, ctx is cancelled, or Stop is called.
func (b *Backend) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}

	stop := make(chan struct{})
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("malgo: backend closed")
	}
	b.playStop = stop
	b.mu.Unlock()

	data := audio.Int16ToBytes(pcm)
	done := make(chan struct{})
	var closeDone sync.Once
	var cursor int

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = 1
	devCfg.SampleRate = uint32(sampleRate)
	devCfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			n := copy(output, data[cursor:])
			cursor += n
			if cursor >= len(data) {
				closeDone.Do(func() { close(done) })
			}
		},
	}

	dev, err := malgo.InitDevice(b.ctx.Context, devCfg, callbacks)
	if err != nil {
		return fmt.Errorf("malgo: init playback device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgo: start playback device: %w", err)
	}

	select {
	case <-done:
		// Give the device time to drain its last buffer before Uninit cuts it off.
		time.Sleep(50 * time.Millisecond)
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop aborts in-flight playback, if any.
func (b *Backend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.playStop != nil {
		select {
		case <-b.playStop:
		default:
			close(b.playStop)
		}
		b.playStop = nil
	}
}

// Close releases the miniaudio context. All streams must be closed first.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.Stop()
	if err := b.ctx.Uninit(); err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	b.ctx.Free()
	return nil
}

// captureStream adapts a miniaudio capture device to [audio.Stream].
type captureStream struct {
	device      *malgo.Device
	frames      chan audio.Frame
	blockSize   int
	sampleRate  int
	frameLength time.Duration

	mu      sync.Mutex
	pending []int16
	elapsed time.Duration
	stopped bool
	closeCh chan struct{}
}

func (s *captureStream) Frames() <-chan audio.Frame { return s.frames }

// push accumulates callback samples and emits full frames with drop-oldest
// semantics. Runs on the device callback goroutine only.
func (s *captureStream) push(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.pending = append(s.pending, samples...)
	for len(s.pending) >= s.blockSize {
		frame := audio.Frame{
			Samples:    append([]int16(nil), s.pending[:s.blockSize]...),
			SampleRate: s.sampleRate,
			Timestamp:  s.elapsed,
		}
		s.pending = s.pending[s.blockSize:]
		s.elapsed += s.frameLength
		audio.OfferLatest(s.frames, frame)
	}
}

func (s *captureStream) done() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCh == nil {
		s.closeCh = make(chan struct{})
	}
	return s.closeCh
}

// Close stops the device and closes the frame channel exactly once.
func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.closeCh != nil {
		close(s.closeCh)
	} else {
		s.closeCh = make(chan struct{})
		close(s.closeCh)
	}
	s.mu.Unlock()

	// Uninit stops the callback; safe to close the channel afterwards.
	s.device.Uninit()

	close(s.frames)
	return nil
}
