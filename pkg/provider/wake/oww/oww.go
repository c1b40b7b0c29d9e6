// Package oww detects wake keywords with openWakeWord-style ONNX models: a
// shared mel and embedding pipeline feeding one classifier head per
// keyword. Callers must initialize the ONNX runtime with spot.EnsureRuntime
// before constructing an engine.
package oww

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/urecho/urecho/internal/spot"
	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/wake"
)

const engineName = "openwakeword"

// errLogWindow rate-limits inference error logs.
const errLogWindow = 5 * time.Second

// Keyword is one classifier head to watch.
type Keyword struct {
	// ID names the keyword in logs and hits. Defaults to the model file
	// name without extension.
	ID string

	// ModelPath points at the head's .onnx file. Unlike porcupine, a
	// missing file fails construction: these models ship with the
	// deployment, so absence is a packaging bug.
	ModelPath string

	// Lang is the session language a hit on this keyword selects.
	// Defaults to "en".
	Lang string

	// Threshold is the minimum classifier score, 0..1. Defaults to 0.5.
	Threshold float64

	// Cooldown swallows repeat hits on this keyword. Defaults to 1200ms.
	Cooldown time.Duration
}

func (k Keyword) withDefaults() Keyword {
	if k.ID == "" {
		base := filepath.Base(k.ModelPath)
		k.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if k.Lang == "" {
		k.Lang = "en"
	}
	if k.Threshold <= 0 {
		k.Threshold = 0.5
	}
	if k.Cooldown <= 0 {
		k.Cooldown = 1200 * time.Millisecond
	}
	return k
}

// Config configures the engine.
type Config struct {
	// MelModelPath and EmbedModelPath point at the shared feature models.
	MelModelPath   string
	EmbedModelPath string

	// Keywords lists the classifier heads, checked in order on every
	// inference step.
	Keywords []Keyword

	// SampleRate must be 16000; the feature models are fixed-rate.
	SampleRate int

	// BlockMs sizes capture blocks. Defaults to 80ms, one inference chunk.
	BlockMs int

	// QueueDepth bounds the capture queue so stale audio is dropped
	// rather than piling up. Defaults to 8 frames.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.BlockMs <= 0 {
		c.BlockMs = 80
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
	kws := make([]Keyword, len(c.Keywords))
	for i, k := range c.Keywords {
		kws[i] = k.withDefaults()
	}
	c.Keywords = kws
	return c
}

func (c Config) validate() error {
	var errs []error
	if c.MelModelPath == "" {
		errs = append(errs, errors.New("mel model path is required"))
	}
	if c.EmbedModelPath == "" {
		errs = append(errs, errors.New("embedding model path is required"))
	}
	if len(c.Keywords) == 0 {
		errs = append(errs, errors.New("at least one keyword is required"))
	}
	if c.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("sample rate must be 16000, got %d", c.SampleRate))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("oww: invalid config: %w", err)
	}
	return nil
}

type kwState struct {
	cfg     Keyword
	lastHit time.Time
	hasHit  bool
}

// Engine scans a capture stream for openWakeWord keyword hits.
type Engine struct {
	pipe   *spot.Pipeline
	stream audio.Stream
	log    *slog.Logger

	// states follows the configured keyword order, which breaks score
	// ties on a single inference step.
	states []*kwState

	lastErrAt time.Time
	loggedErr bool

	closeOnce sync.Once
	closeErr  error
}

// Ensure Engine implements wake.Engine at compile time.
var _ wake.Engine = (*Engine)(nil)

// New builds the engine and opens its capture stream.
func New(ctx context.Context, capture audio.Capture, cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if capture == nil {
		return nil, errors.New("oww: capture is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	heads := make([]spot.PipelineHead, len(cfg.Keywords))
	states := make([]*kwState, len(cfg.Keywords))
	names := make([]string, len(cfg.Keywords))
	for i, kw := range cfg.Keywords {
		heads[i] = spot.PipelineHead{Name: kw.ID, ModelPath: kw.ModelPath}
		states[i] = &kwState{cfg: kw}
		names[i] = kw.ID
	}

	pipe, err := spot.NewPipeline(cfg.MelModelPath, cfg.EmbedModelPath, heads)
	if err != nil {
		return nil, fmt.Errorf("oww: %w", err)
	}

	stream, err := capture.Open(ctx, audio.StreamConfig{
		SampleRate: cfg.SampleRate,
		BlockMs:    cfg.BlockMs,
		QueueDepth: cfg.QueueDepth,
	})
	if err != nil {
		pipe.Close()
		return nil, fmt.Errorf("oww: open capture: %w", err)
	}

	e := &Engine{pipe: pipe, stream: stream, log: log, states: states}
	log.Info("openwakeword engine ready", "keywords", names, "block_ms", cfg.BlockMs)
	return e, nil
}

// WaitForAny blocks until a keyword fires, timeout passes, or ctx is done.
// A (nil, nil) return means the timeout elapsed quietly.
func (e *Engine) WaitForAny(ctx context.Context, timeout time.Duration) (*wake.Hit, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case frame, ok := <-e.stream.Frames():
			if !ok {
				return nil, errors.New("oww: capture stream closed")
			}
			steps, err := e.pipe.Push(frame.Samples)
			if err != nil {
				e.noteError(err)
			}
			for _, scores := range steps {
				if hit := e.latch(scores); hit != nil {
					return hit, nil
				}
			}
		}
	}
}

// latch applies thresholds and cooldowns to one step of head scores. On a
// hit the feature pipeline is reset so the same audio cannot fire twice.
func (e *Engine) latch(scores map[string]float64) *wake.Hit {
	for _, st := range e.states {
		score, ok := scores[st.cfg.ID]
		if !ok || score < st.cfg.Threshold {
			continue
		}
		now := time.Now()
		if st.hasHit && now.Sub(st.lastHit) < st.cfg.Cooldown {
			e.log.Debug("keyword hit inside cooldown, ignoring",
				"keyword", st.cfg.ID, "score", score)
			continue
		}
		st.hasHit = true
		st.lastHit = now
		e.pipe.Reset()
		e.log.Info("wake keyword detected",
			"engine", engineName, "keyword", st.cfg.ID, "score", score)
		return &wake.Hit{Keyword: st.cfg.ID, Lang: st.cfg.Lang, Engine: engineName, Score: score}
	}
	return nil
}

func (e *Engine) noteError(err error) {
	now := time.Now()
	if e.loggedErr && now.Sub(e.lastErrAt) < errLogWindow {
		return
	}
	e.loggedErr = true
	e.lastErrAt = now
	e.log.Warn("wake inference failed", "error", err)
}

// Close stops the capture stream and releases the models. Safe to call
// more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = errors.Join(e.stream.Close(), e.pipe.Close())
	})
	return e.closeErr
}
