// Package barge detects the user talking over the system's own speech.
//
// A Listener opens its own capture stream for the duration of one playback
// turn and runs every frame through a gate (energy, spectral shape, voice
// activity, adaptive echo-leak baseline) and an accumulator (debounced
// sustained-voice credit). Keyword spotters ride the same frame stream; a
// spotter hit raises an immediate stop event, overriding the slower
// sustained-voice path. Either way the speaking loop consumes the event and
// cuts playback.
//
// The gate, accumulator and spotters are deliberately separate from the
// listener so they can be driven frame-by-frame in tests without audio
// hardware.
package barge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/urecho/urecho/internal/spot"
	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/vad"
)

// Event is one trigger raised by the listener.
type Event struct {
	// At is the stream time of the triggering frame.
	At time.Duration

	// Keyword is set when a spotter fired; empty for sustained voice.
	Keyword string

	// Score is the spotter confidence, zero for sustained voice.
	Score float64
}

// Stop reports whether the event came from a keyword spotter rather than
// sustained voice.
func (e Event) Stop() bool { return e.Keyword != "" }

// Listener owns the capture stream, gate and accumulator for one playback
// turn. Construct one right before playback starts and close it when the
// turn's audio ends; the arm-up window assumes stream time zero coincides
// with playback onset.
type Listener struct {
	cfg      Config
	gate     *Gate
	acc      *Accumulator
	stream   audio.Stream
	sess     vad.SessionHandle
	spotters []spot.Spotter
	log      *slog.Logger

	events chan Event
	done   chan struct{}

	mu        sync.Mutex
	lastVoice time.Time
	haveVoice bool

	closeOnce sync.Once
	closeErr  error
}

// Option adjusts a Listener before its capture loop starts.
type Option func(*Listener)

// WithSpotters attaches keyword spotters to the listener. The listener resets
// them at start of turn and feeds them every armed frame, but does not close
// them; spotters are expensive to construct and live across turns.
func WithSpotters(spotters ...spot.Spotter) Option {
	return func(l *Listener) {
		l.spotters = append(l.spotters, spotters...)
	}
}

// NewListener opens a capture stream and starts classifying frames. vadEng
// may be nil to run without a voice-activity stage. The listener owns the
// stream and the VAD session it creates and releases both on Close.
func NewListener(ctx context.Context, capture audio.Capture, vadEng vad.Engine, cfg Config, log *slog.Logger, opts ...Option) (*Listener, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	var sess vad.SessionHandle
	if vadEng != nil {
		var err error
		sess, err = vadEng.NewSession(vad.Config{
			SampleRate:       cfg.SampleRate,
			SpeechThreshold:  0.5,
			SilenceThreshold: 0.35,
		})
		if err != nil {
			return nil, fmt.Errorf("barge: vad session: %w", err)
		}
	}

	l := &Listener{
		cfg:    cfg,
		sess:   sess,
		log:    log,
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.gate = NewGate(cfg, sess, log)
	l.acc = NewAccumulator(cfg)
	for _, sp := range l.spotters {
		sp.Reset()
	}

	stream, err := capture.Open(ctx, audio.StreamConfig{
		SampleRate: cfg.SampleRate,
		BlockMs:    cfg.BlockMs,
		QueueDepth: cfg.QueueDepth,
	})
	if err != nil {
		if sess != nil {
			_ = sess.Close()
		}
		return nil, fmt.Errorf("barge: open capture: %w", err)
	}
	l.stream = stream

	go l.run()
	return l, nil
}

// Events returns the trigger channel. It holds at most one pending event;
// triggers raised while one is pending are coalesced into it.
func (l *Listener) Events() <-chan Event { return l.events }

// UserIsSpeaking reports whether a voiced frame was classified within the
// voice-hold window. The exit-phrase detector consults this before matching
// transcript text, so the system's own echoed speech cannot trip an exit.
func (l *Listener) UserIsSpeaking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.haveVoice && time.Since(l.lastVoice) <= l.cfg.VoiceHold
}

// Close stops the listener and releases the capture stream and VAD session.
// Safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.stream.Close()
		<-l.done
	})
	return l.closeErr
}

// run consumes frames in capture order until the stream closes. Frames
// inside the arm-up window only feed the leak baseline; afterwards every
// frame goes first to the spotters, then through the gate and accumulator.
// Frames inside the debounce window after a trigger are skipped entirely.
func (l *Listener) run() {
	defer close(l.done)
	defer func() {
		if l.sess != nil {
			_ = l.sess.Close()
		}
	}()

	for frame := range l.stream.Frames() {
		if frame.Timestamp < l.cfg.ArmAfter {
			l.gate.AbsorbLeak(frame)
			continue
		}
		if l.acc.InDebounce(frame.Timestamp) {
			continue
		}
		if hit, ok := l.spotFrame(frame); ok {
			l.noteVoice()
			l.acc.NoteExternalTrigger(frame.Timestamp)
			l.emit(Event{At: frame.Timestamp, Keyword: hit.Keyword, Score: hit.Score})
			continue
		}
		d := l.gate.Classify(frame)
		if d.IsVoice {
			l.noteVoice()
		}
		if l.acc.Offer(d) {
			l.log.Debug("barge-in detected",
				"at", d.At,
				"rms_dbfs", d.RMSDBFS,
				"leak_threshold_dbfs", d.LeakThresholdDBFS,
			)
			l.emit(Event{At: d.At})
		}
	}
}

// spotFrame offers the frame to every spotter in order and returns the first
// hit.
func (l *Listener) spotFrame(frame audio.Frame) (spot.Hit, bool) {
	for _, sp := range l.spotters {
		hit, ok := sp.ProcessBlock(frame.Samples)
		if !ok {
			continue
		}
		l.log.Info("stop keyword spotted",
			"keyword", hit.Keyword,
			"score", hit.Score,
			"at", frame.Timestamp,
		)
		return hit, true
	}
	return spot.Hit{}, false
}

func (l *Listener) noteVoice() {
	l.mu.Lock()
	l.lastVoice = time.Now()
	l.haveVoice = true
	l.mu.Unlock()
}

func (l *Listener) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
	}
}
