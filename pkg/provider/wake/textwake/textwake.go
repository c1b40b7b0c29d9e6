// Package textwake is the wake fallback for machines without a keyword
// model: record a short window, transcribe it, and fuzzy-match the text
// against the configured wake phrases. Slower and chattier than a real
// keyword engine, but it needs nothing beyond the transcriber.
package textwake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/urecho/urecho/internal/textkit"
	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/asr"
	"github.com/urecho/urecho/pkg/provider/wake"
)

const engineName = "textwake"

// Phrase is one wake phrase to match against.
type Phrase struct {
	// Text is the phrase as spoken ("hello robot"). Matching normalizes
	// it, but hits report this raw form.
	Text string

	// Lang is the session language a hit on this phrase selects.
	// Defaults to "en".
	Lang string
}

// Config configures the engine.
type Config struct {
	// Phrases lists the wake phrases, checked in order. On a score tie
	// the earlier phrase wins.
	Phrases []Phrase

	// Threshold is the minimum partial-ratio score, 0..100. Defaults
	// to 72.
	Threshold int

	// LangHint is passed to the transcriber. Defaults to "en", which
	// keeps standby transcription cheap; "auto" scores both languages.
	LangHint string

	// SampleRate and BlockMs shape the capture stream. Default to
	// 16000 and 20.
	SampleRate int
	BlockMs    int

	// MaxUtterance caps one listening window. Defaults to 4s.
	MaxUtterance time.Duration

	// MinUtterance is the shortest capture worth transcribing. Defaults
	// to 700ms.
	MinUtterance time.Duration

	// QueueDepth bounds the capture queue. Defaults to 8 frames.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 72
	}
	if c.LangHint == "" {
		c.LangHint = "en"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.BlockMs <= 0 {
		c.BlockMs = 20
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 4 * time.Second
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = 700 * time.Millisecond
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
	phrases := make([]Phrase, len(c.Phrases))
	for i, p := range c.Phrases {
		if p.Lang == "" {
			p.Lang = "en"
		}
		phrases[i] = p
	}
	c.Phrases = phrases
	return c
}

// Engine matches transcribed standby audio against wake phrases.
type Engine struct {
	cfg    Config
	stream audio.Stream
	asr    asr.Transcriber
	log    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Ensure Engine implements wake.Engine at compile time.
var _ wake.Engine = (*Engine)(nil)

// New builds the engine and opens its capture stream.
func New(ctx context.Context, capture audio.Capture, tr asr.Transcriber, cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if capture == nil {
		return nil, errors.New("textwake: capture is required")
	}
	if tr == nil {
		return nil, errors.New("textwake: transcriber is required")
	}
	cfg = cfg.withDefaults()
	if len(cfg.Phrases) == 0 {
		return nil, errors.New("textwake: no wake phrases configured")
	}

	names := make([]string, len(cfg.Phrases))
	for i, p := range cfg.Phrases {
		names[i] = p.Text
	}

	stream, err := capture.Open(ctx, audio.StreamConfig{
		SampleRate: cfg.SampleRate,
		BlockMs:    cfg.BlockMs,
		QueueDepth: cfg.QueueDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("textwake: open capture: %w", err)
	}

	e := &Engine{cfg: cfg, stream: stream, asr: tr, log: log}
	log.Info("text wake fallback ready", "phrases", names, "threshold", cfg.Threshold)
	return e, nil
}

// WaitForAny records one listening window, transcribes it, and matches the
// text. A (nil, nil) return means nothing matched within the timeout.
// Transcription failures are logged and reported as no detection.
func (e *Engine) WaitForAny(ctx context.Context, timeout time.Duration) (*wake.Hit, error) {
	if err := e.drain(); err != nil {
		return nil, err
	}

	window := e.cfg.MaxUtterance
	if timeout < window {
		window = timeout
	}
	need := int(window/time.Millisecond) * e.cfg.SampleRate / 1000

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var pcm []int16
collect:
	for len(pcm) < need {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			break collect
		case frame, ok := <-e.stream.Frames():
			if !ok {
				return nil, errors.New("textwake: capture stream closed")
			}
			pcm = append(pcm, frame.Samples...)
		}
	}

	minSamples := int(e.cfg.MinUtterance/time.Millisecond) * e.cfg.SampleRate / 1000
	if len(pcm) < minSamples {
		e.log.Debug("standby capture too short", "samples", len(pcm))
		return nil, nil
	}

	var (
		res asr.Result
		err error
	)
	if e.cfg.LangHint == "auto" {
		res, err = e.asr.TranscribeBilingual(ctx, pcm)
	} else {
		res, err = e.asr.Transcribe(ctx, pcm, e.cfg.LangHint)
	}
	if err != nil {
		e.log.Warn("standby transcription failed", "error", err)
		return nil, nil
	}
	if res.Text == "" {
		return nil, nil
	}

	e.log.Info("standby heard", "text", res.Text, "scores", e.Scores(res.Text))
	hit := e.Match(res.Text)
	if hit == nil {
		return nil, nil
	}
	e.log.Info("wake phrase matched",
		"engine", engineName, "keyword", hit.Keyword, "score", hit.Score)
	return hit, nil
}

// Match scores text against every phrase and returns a hit when the best
// score reaches the threshold. The best score is tracked with a strict
// comparison, so ties keep the first phrase in configuration order.
func (e *Engine) Match(text string) *wake.Hit {
	if textkit.Normalize(text) == "" {
		return nil
	}
	var (
		best      *Phrase
		bestScore int
	)
	for i := range e.cfg.Phrases {
		p := &e.cfg.Phrases[i]
		score := textkit.PartialRatio(text, p.Text)
		if score > bestScore {
			best = p
			bestScore = score
		}
	}
	if best == nil || bestScore < e.cfg.Threshold {
		return nil
	}
	return &wake.Hit{
		Keyword: best.Text,
		Lang:    best.Lang,
		Engine:  engineName,
		Score:   float64(bestScore) / 100,
	}
}

// Scores reports the per-phrase match scores for text, keyed by the raw
// phrase. Used for standby diagnostics.
func (e *Engine) Scores(text string) map[string]int {
	scores := make(map[string]int, len(e.cfg.Phrases))
	for _, p := range e.cfg.Phrases {
		scores[p.Text] = textkit.PartialRatio(text, p.Text)
	}
	return scores
}

// drain drops audio queued between polls so the window starts fresh.
func (e *Engine) drain() error {
	for {
		select {
		case _, ok := <-e.stream.Frames():
			if !ok {
				return errors.New("textwake: capture stream closed")
			}
		default:
			return nil
		}
	}
}

// Close stops the capture stream. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.stream.Close()
	})
	return e.closeErr
}
