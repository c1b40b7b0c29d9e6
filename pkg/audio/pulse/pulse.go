// Package pulse provides microphone capture over the native PulseAudio
// protocol (github.com/jfreymuth/pulse). Unlike the miniaudio backend it
// needs no cgo, which makes it the right choice for containerized
// deployments that mount a PulseAudio or PipeWire socket.
package pulse

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/urecho/urecho/pkg/audio"
)

const defaultQueueDepth = 64

var (
	_ audio.Capture = (*Backend)(nil)
	_ audio.Stream  = (*captureStream)(nil)
)

// Backend holds one PulseAudio client connection. Streams opened from it
// share the connection; Close tears the connection down.
type Backend struct {
	client   *pulse.Client
	sourceID string

	mu     sync.Mutex
	closed bool
}

// Options configure the PulseAudio connection.
type Options struct {
	// AppName is reported to the sound server and shows up in mixer UIs.
	AppName string
	// SourceID selects a specific capture source. Empty means the server
	// default.
	SourceID string
}

// New connects to the PulseAudio server.
func New(opts Options) (*Backend, error) {
	name := opts.AppName
	if name == "" {
		name = "urecho"
	}
	client, err := pulse.NewClient(pulse.ClientApplicationName(name))
	if err != nil {
		return nil, fmt.Errorf("pulse: connect: %w", err)
	}
	b := &Backend{client: client}
	if opts.SourceID != "" {
		if _, err := client.SourceByID(opts.SourceID); err != nil {
			client.Close()
			return nil, fmt.Errorf("pulse: source %q: %w", opts.SourceID, err)
		}
	}
	b.sourceID = opts.SourceID
	return b, nil
}

// Open starts a record stream delivering mono 16-bit frames of
// cfg.BlockSamples() samples each.
func (b *Backend) Open(ctx context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if cfg.SampleRate <= 0 || cfg.BlockMs <= 0 {
		return nil, fmt.Errorf("pulse: invalid stream config: rate=%d blockMs=%d", cfg.SampleRate, cfg.BlockMs)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("pulse: backend closed")
	}
	b.mu.Unlock()

	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	var src *pulse.Source
	var err error
	if b.sourceID != "" {
		src, err = b.client.SourceByID(b.sourceID)
	} else {
		src, err = b.client.DefaultSource()
	}
	if err != nil {
		return nil, fmt.Errorf("pulse: resolve source: %w", err)
	}

	st := &captureStream{
		frames:      make(chan audio.Frame, depth),
		blockSize:   cfg.BlockSamples(),
		sampleRate:  cfg.SampleRate,
		frameLength: time.Duration(cfg.BlockMs) * time.Millisecond,
		stopCh:      make(chan struct{}),
	}

	// Two samples per int16; fragment size steers the server toward
	// block-sized deliveries, though onPCM still handles arbitrary splits.
	fragmentBytes := st.blockSize * 2

	stream, err := b.client.NewRecord(
		pulse.NewWriter(writerFunc(st.onPCM), pulseproto.FormatInt16LE),
		pulse.RecordSource(src),
		pulse.RecordMono,
		pulse.RecordSampleRate(cfg.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(fragmentBytes)),
		pulse.RecordMediaName("urecho capture"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse: create record stream: %w", err)
	}
	st.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = st.Close()
		case <-st.stopCh:
		}
	}()

	return st, nil
}

// Close disconnects from the PulseAudio server. All streams must be closed
// first.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.client.Close()
	return nil
}

// captureStream adapts a PulseAudio record stream to [audio.Stream].
type captureStream struct {
	stream      *pulse.RecordStream
	frames      chan audio.Frame
	blockSize   int
	sampleRate  int
	frameLength time.Duration
	stopCh      chan struct{}

	mu      sync.Mutex
	pending []int16
	elapsed time.Duration
	stopped bool

	inflight sync.WaitGroup
}

func (s *captureStream) Frames() <-chan audio.Frame { return s.frames }

// onPCM receives raw little-endian int16 bytes from the record stream. It
// runs on the pulse client's reader goroutine; returning io.EOF after Close
// tells the stream to stop delivering.
func (s *captureStream) onPCM(p []byte) (int, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	samples := audio.BytesToInt16(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return len(p), nil
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
	return len(p), nil
}

// Close stops the record stream and closes the frame channel exactly once.
func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.stream.Stop()
	s.stream.Close()

	// Wait for an in-flight onPCM before closing the channel under it.
	s.inflight.Wait()
	close(s.frames)
	return nil
}

// writerFunc adapts a function to the io.Writer the pulse client expects.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
