// Package porcupine detects wake keywords with the Picovoice Porcupine
// engine. One engine instance scans all configured keyword models over a
// single capture stream.
package porcupine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	pv "github.com/Picovoice/porcupine/binding/go/v3"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/wake"
)

const engineName = "porcupine"

// errLogWindow rate-limits per-frame processing error logs.
const errLogWindow = 5 * time.Second

// Keyword is one compiled keyword model to scan for.
type Keyword struct {
	// ID names the keyword in logs and hits ("jarvis", "hey robot").
	ID string

	// ModelPath points at the .ppn file. Missing files are skipped at
	// construction with a warning rather than failing the engine.
	ModelPath string

	// Lang is the session language a hit on this keyword selects.
	// Defaults to "en"; the stock Picovoice models are English.
	Lang string

	// Sensitivity trades misses for false alarms, 0..1. Defaults to 0.5.
	Sensitivity float64

	// Cooldown swallows repeat hits on this keyword. Defaults to 2s.
	Cooldown time.Duration
}

func (k Keyword) withDefaults() Keyword {
	if k.Lang == "" {
		k.Lang = "en"
	}
	if k.Sensitivity <= 0 {
		k.Sensitivity = 0.5
	}
	if k.Cooldown <= 0 {
		k.Cooldown = 2 * time.Second
	}
	return k
}

// Config configures the engine.
type Config struct {
	// AccessKey is the Picovoice access key. When empty the engine reads
	// the PICOVOICE_ACCESS_KEY environment variable.
	AccessKey string

	// Keywords lists the models to scan. At least one must resolve to an
	// existing file.
	Keywords []Keyword

	// QueueDepth bounds the capture queue. Defaults to 8 frames.
	QueueDepth int
}

func (c Config) withDefaults() Config {
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

type kwState struct {
	cfg     Keyword
	lastHit time.Time
	hasHit  bool
}

// Engine scans a capture stream for compiled wake keywords.
type Engine struct {
	pv     pv.Porcupine
	stream audio.Stream
	log    *slog.Logger

	// states is indexed by the keyword index Porcupine reports.
	states  []*kwState
	pending []int16

	lastErrAt time.Time
	loggedErr bool

	closeOnce sync.Once
	closeErr  error
}

// Ensure Engine implements wake.Engine at compile time.
var _ wake.Engine = (*Engine)(nil)

// New builds the engine and opens its capture stream. Keyword models that
// do not exist on disk are skipped with a warning; construction fails only
// when no usable model remains, the access key is missing, or the Porcupine
// runtime rejects the setup.
func New(ctx context.Context, capture audio.Capture, cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if capture == nil {
		return nil, errors.New("porcupine: capture is required")
	}
	cfg = cfg.withDefaults()

	key := strings.TrimSpace(cfg.AccessKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("PICOVOICE_ACCESS_KEY"))
	}
	if key == "" {
		return nil, errors.New("porcupine: access key missing: set PICOVOICE_ACCESS_KEY or config")
	}
	if len(cfg.Keywords) == 0 {
		return nil, errors.New("porcupine: no keywords configured")
	}

	var (
		states []*kwState
		paths  []string
		sens   []float32
		names  []string
	)
	for _, kw := range cfg.Keywords {
		if _, err := os.Stat(kw.ModelPath); err != nil {
			log.Warn("keyword model missing, skipping", "keyword", kw.ID, "path", kw.ModelPath)
			continue
		}
		states = append(states, &kwState{cfg: kw})
		paths = append(paths, kw.ModelPath)
		sens = append(sens, float32(kw.Sensitivity))
		names = append(names, kw.ID)
	}
	if len(states) == 0 {
		return nil, errors.New("porcupine: no usable keyword models found")
	}

	e := &Engine{log: log, states: states}
	e.pv = pv.Porcupine{
		AccessKey:     key,
		KeywordPaths:  paths,
		Sensitivities: sens,
	}
	if err := e.pv.Init(); err != nil {
		return nil, fmt.Errorf("porcupine: init: %w", err)
	}

	// Porcupine consumes fixed frames; size the capture blocks to match.
	blockMs := pv.FrameLength * 1000 / pv.SampleRate
	stream, err := capture.Open(ctx, audio.StreamConfig{
		SampleRate: pv.SampleRate,
		BlockMs:    blockMs,
		QueueDepth: cfg.QueueDepth,
	})
	if err != nil {
		e.pv.Delete()
		return nil, fmt.Errorf("porcupine: open capture: %w", err)
	}
	e.stream = stream

	log.Info("porcupine wake engine ready",
		"keywords", names,
		"frame_length", pv.FrameLength,
		"sample_rate", pv.SampleRate)
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
				return nil, errors.New("porcupine: capture stream closed")
			}
			if hit := e.scan(frame.Samples); hit != nil {
				return hit, nil
			}
		}
	}
}

// scan feeds samples through Porcupine in FrameLength steps and applies the
// per-keyword cooldown. Processing errors are logged once per burst window
// and treated as no detection.
func (e *Engine) scan(samples []int16) *wake.Hit {
	e.pending = append(e.pending, samples...)
	for len(e.pending) >= pv.FrameLength {
		frame := e.pending[:pv.FrameLength]
		idx, err := e.pv.Process(frame)
		e.pending = append(e.pending[:0], e.pending[pv.FrameLength:]...)
		if err != nil {
			e.noteError(err)
			continue
		}
		if idx < 0 || idx >= len(e.states) {
			continue
		}
		st := e.states[idx]
		now := time.Now()
		if st.hasHit && now.Sub(st.lastHit) < st.cfg.Cooldown {
			e.log.Debug("keyword hit inside cooldown, ignoring", "keyword", st.cfg.ID)
			continue
		}
		st.hasHit = true
		st.lastHit = now
		e.log.Info("wake keyword detected", "engine", engineName, "keyword", st.cfg.ID)
		return &wake.Hit{Keyword: st.cfg.ID, Lang: st.cfg.Lang, Engine: engineName}
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
	e.log.Warn("porcupine processing failed", "error", err)
}

// Close stops the capture stream and releases the Porcupine handle. Safe to
// call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.stream.Close()
		e.pv.Delete()
	})
	return e.closeErr
}
