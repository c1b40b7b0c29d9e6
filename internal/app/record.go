package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/vad"
)

// RecorderConfig tunes utterance segmentation on the in-session stream.
type RecorderConfig struct {
	// SampleRate of the capture stream. Defaults to 16000.
	SampleRate int

	// BlockMs is the capture block size. Defaults to 20.
	BlockMs int

	// QueueDepth is the capture queue depth, passed through to the backend.
	QueueDepth int

	// SilenceEnd is how much continuous silence ends an utterance.
	// Defaults to 500 ms.
	SilenceEnd time.Duration

	// MaxUtterance caps a single recording; it is also the poll window
	// when nobody speaks. Defaults to 6 s.
	MaxUtterance time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.BlockMs == 0 {
		c.BlockMs = 20
	}
	if c.SilenceEnd == 0 {
		c.SilenceEnd = 500 * time.Millisecond
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = 6 * time.Second
	}
	return c
}

// Recorder owns the persistent in-session capture stream and cuts it into
// single utterances. It is not safe for concurrent Record calls; the session
// loop is its only caller.
type Recorder struct {
	cfg    RecorderConfig
	stream audio.Stream
	sess   vad.SessionHandle
	log    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewRecorder opens a voice-activity session and the capture stream. The
// stream stays open across utterances so turn-taking never waits on device
// setup.
func NewRecorder(ctx context.Context, cap audio.Capture, eng vad.Engine, cfg RecorderConfig, log *slog.Logger) (*Recorder, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	sess, err := eng.NewSession(vad.Config{SampleRate: cfg.SampleRate})
	if err != nil {
		return nil, err
	}
	stream, err := cap.Open(ctx, audio.StreamConfig{
		SampleRate: cfg.SampleRate,
		BlockMs:    cfg.BlockMs,
		QueueDepth: cfg.QueueDepth,
	})
	if err != nil {
		sess.Close()
		return nil, err
	}
	return &Recorder{cfg: cfg, stream: stream, sess: sess, log: log}, nil
}

// Record captures one utterance: it waits for voice onset, accumulates until
// the configured silence hold or the utterance cap, and returns the samples
// together with the voiced duration. A short pre-roll from just before onset
// is included so clipped first syllables survive.
//
// Returns nil samples without error when the window elapses silently.
func (r *Recorder) Record(ctx context.Context) ([]int16, time.Duration, error) {
	r.drain()
	r.sess.Reset()

	blockDur := time.Duration(r.cfg.BlockMs) * time.Millisecond
	prerollMax := int(240/r.cfg.BlockMs) + 1

	deadline := time.NewTimer(r.cfg.MaxUtterance)
	defer deadline.Stop()

	var (
		pcm     []int16
		preroll [][]int16
		voiced  time.Duration
		silence time.Duration
		heard   bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()

		case <-deadline.C:
			if heard {
				return pcm, voiced, nil
			}
			return nil, 0, nil

		case fr, ok := <-r.stream.Frames():
			if !ok {
				return nil, 0, errors.New("capture stream closed")
			}
			ev, err := r.sess.ProcessFrame(fr.Samples)
			if err != nil {
				r.log.Debug("vad frame error", "error", err)
				continue
			}
			d := fr.Duration()
			if d == 0 {
				d = blockDur
			}

			if !heard {
				if !ev.Voiced() {
					preroll = append(preroll, fr.Samples)
					if len(preroll) > prerollMax {
						preroll = preroll[1:]
					}
					continue
				}
				heard = true
				for _, p := range preroll {
					pcm = append(pcm, p...)
				}
				preroll = nil
				// The cap applies to the utterance, not the wait.
				if !deadline.Stop() {
					select {
					case <-deadline.C:
					default:
					}
				}
				deadline.Reset(r.cfg.MaxUtterance)
			}

			pcm = append(pcm, fr.Samples...)
			if ev.Voiced() {
				voiced += d
				silence = 0
				continue
			}
			silence += d
			if silence >= r.cfg.SilenceEnd {
				return pcm, voiced, nil
			}
		}
	}
}

// drain discards frames queued while the pipeline was busy speaking, so a
// recording never starts on stale audio.
func (r *Recorder) drain() {
	for {
		select {
		case _, ok := <-r.stream.Frames():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close releases the capture stream and the voice-activity session.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.stream.Close()
		r.sess.Close()
	})
	return r.closeErr
}
