// Package silero implements the vad.Engine interface on top of the Silero
// VAD ONNX model via github.com/streamer45/silero-vad-go.
//
// The Silero detector consumes fixed 512-sample windows at 16 kHz and keeps
// recurrent state across calls, so each session buffers incoming frames and
// runs the detector whenever a full window is available. The detection state
// returned for a frame therefore reflects the most recently completed window,
// lagging the newest samples by at most 32 ms.
package silero

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/vad"
)

// windowSamples is the model's native window at 16 kHz.
const windowSamples = 512

// Engine creates Silero VAD sessions. Each session owns its own detector
// instance because the model state is per-stream.
type Engine struct {
	modelPath            string
	minSilenceDurationMs int
}

// Option configures the engine.
type Option func(*Engine)

// WithMinSilenceDuration sets how long the model must observe silence before
// closing a speech segment, in milliseconds. Zero keeps the library default.
func WithMinSilenceDuration(ms int) Option {
	return func(e *Engine) { e.minSilenceDurationMs = ms }
}

// New returns a Silero engine loading the ONNX model at modelPath.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero: model path is empty")
	}
	e := &Engine{modelPath: modelPath}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d, model requires 16000", cfg.SampleRate)
	}
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            float32(cfg.SpeechThreshold),
		MinSilenceDurationMs: e.minSilenceDurationMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &session{det: det, sampleRate: cfg.SampleRate}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu sync.Mutex

	det        *speech.Detector
	sampleRate int

	pending  []int16
	inSpeech bool
	tracker  vad.Tracker
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle]. Frames are buffered until a
// full model window is available; the detector's segment output is folded
// into a voiced/silent state.
func (s *session) ProcessFrame(samples []int16) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{Type: vad.Silence}, fmt.Errorf("silero: session closed")
	}

	s.pending = append(s.pending, samples...)
	for len(s.pending) >= windowSamples {
		window := audio.Int16ToFloat32(s.pending[:windowSamples])
		s.pending = s.pending[windowSamples:]

		segments, err := s.det.Detect(window)
		if err != nil {
			return vad.Event{Type: vad.Silence}, fmt.Errorf("silero: detect: %w", err)
		}
		s.fold(segments)
	}

	prob := 0.0
	if s.inSpeech {
		prob = 1.0
	}
	return s.tracker.Observe(s.inSpeech, prob), nil
}

// fold updates the voiced state from the detector's segment list. A segment
// whose end is still unset means speech is ongoing at the stream head.
func (s *session) fold(segments []speech.Segment) {
	for _, seg := range segments {
		if seg.SpeechStartAt <= 0 && seg.SpeechEndAt <= 0 {
			continue
		}
		s.inSpeech = seg.SpeechEndAt <= 0 || seg.SpeechEndAt < seg.SpeechStartAt
	}
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.det.Reset()
	s.pending = s.pending[:0]
	s.inSpeech = false
	s.tracker.Reset()
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.det.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}
