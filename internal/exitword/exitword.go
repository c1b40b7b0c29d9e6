// Package exitword ends a session the moment the user says goodbye.
//
// The detector rides the transcription callbacks: every partial and final
// hypothesis is matched against the configured exit phrases, and the first
// match aborts synthesis and generation, speaks a short confirmation, and
// drops the session to standby. Matching on partials is what makes the
// exit feel instant; the final transcript is only a fallback.
package exitword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/urecho/urecho/internal/textkit"
)

// Speaker is the slice of the synthesizer the detector needs: stop current
// playback and speak the confirmation.
type Speaker interface {
	Say(ctx context.Context, text, lang string) error
	SayCached(ctx context.Context, key, lang string) bool
	Stop()
}

// Stopper cancels in-flight work. The generator attaches through this.
type Stopper interface {
	Stop()
}

// Phrase is one exit phrase.
type Phrase struct {
	// Text is the phrase as spoken ("ok bye", "pa"). Matched after
	// normalization, in configuration order, first match wins.
	Text string

	// Lang selects the confirmation voice. Defaults to "en".
	Lang string

	// Confirm is the optional confirmation utterance. Empty skips the
	// confirmation for this phrase.
	Confirm string
}

// Config configures the detector.
type Config struct {
	// Disabled turns the detector into a no-op.
	Disabled bool

	// Phrases lists the exit phrases.
	Phrases []Phrase

	// Threshold is the minimum fuzzy ratio, 0..100. Defaults to 90.
	// Exact matches always pass.
	Threshold int

	// Debounce suppresses match attempts right after a hit. Defaults
	// to 120ms.
	Debounce time.Duration

	// MinChars skips hypotheses shorter than this after normalization.
	// Defaults to 2.
	MinChars int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 90
	}
	if c.Debounce <= 0 {
		c.Debounce = 120 * time.Millisecond
	}
	if c.MinChars <= 0 {
		c.MinChars = 2
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

// Option customizes a Detector.
type Option func(*Detector)

// WithSpeaker attaches the synthesizer. Its Stop runs on exit and it
// speaks the confirmation.
func WithSpeaker(s Speaker) Option {
	return func(d *Detector) { d.speaker = s }
}

// WithStoppers attaches extra components to stop on exit, typically the
// text generator.
func WithStoppers(stoppers ...Stopper) Option {
	return func(d *Detector) { d.stoppers = append(d.stoppers, stoppers...) }
}

// WithSpeakingGate attaches the anti-echo gate. When set, hypotheses are
// only matched while the gate reports the user actually speaking, so the
// detector cannot trigger on the assistant's own voice leaking back in.
func WithSpeakingGate(gate func() bool) Option {
	return func(d *Detector) { d.speaking = gate }
}

// WithStandby attaches the session machine's standby setter, called with
// the matched phrase once per exit.
func WithStandby(fn func(reason string)) Option {
	return func(d *Detector) { d.standby = fn }
}

// Detector matches transcription hypotheses against exit phrases.
//
// Safe for concurrent use: transcription callbacks and the speaking
// pipeline observe it from different goroutines.
type Detector struct {
	cfg Config
	log *slog.Logger

	speaker  Speaker
	stoppers []Stopper
	speaking func() bool
	standby  func(reason string)

	mu      sync.Mutex
	lastHit time.Time
	aborted bool
}

// New builds a detector.
func New(cfg Config, log *slog.Logger, opts ...Option) (*Detector, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	if !cfg.Disabled && len(cfg.Phrases) == 0 {
		return nil, errors.New("exitword: no exit phrases configured")
	}
	d := &Detector{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// OnText matches one transcription hypothesis. It reports true when the
// hypothesis is an exit phrase and the caller should stop propagating it.
// After the first hit further matches are consumed without side effects
// until Reset.
func (d *Detector) OnText(ctx context.Context, text string, isPartial bool) bool {
	if d.cfg.Disabled || text == "" {
		return false
	}

	d.mu.Lock()
	inDebounce := time.Since(d.lastHit) < d.cfg.Debounce
	d.mu.Unlock()
	if inDebounce {
		return false
	}

	norm := textkit.Normalize(text)
	if len(norm) < d.cfg.MinChars {
		return false
	}
	if d.speaking != nil && !d.speaking() {
		return false
	}

	for i := range d.cfg.Phrases {
		p := &d.cfg.Phrases[i]
		if norm == textkit.Normalize(p.Text) || textkit.Ratio(text, p.Text) >= d.cfg.Threshold {
			d.mu.Lock()
			d.lastHit = time.Now()
			d.mu.Unlock()
			d.trigger(ctx, p, isPartial)
			return true
		}
	}
	return false
}

// Trigger forces the exit path without a matched phrase. No confirmation
// is spoken. Used operationally and in tests.
func (d *Detector) Trigger(ctx context.Context, reason string) {
	d.trigger(ctx, &Phrase{Text: reason, Lang: "en"}, false)
}

// Pending reports whether an exit fired since the last Reset. The speaking
// pipeline polls this to stop streams early.
func (d *Detector) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborted
}

// Reset re-arms the detector at the start of a session turn.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.aborted = false
	d.mu.Unlock()
}

// trigger runs the exit sequence once: stop synthesis and generation,
// speak the confirmation, drop to standby. Repeat hits are no-ops until
// Reset.
func (d *Detector) trigger(ctx context.Context, p *Phrase, isPartial bool) {
	d.mu.Lock()
	if d.aborted {
		d.mu.Unlock()
		return
	}
	d.aborted = true
	d.mu.Unlock()

	d.log.Info("fast exit triggered", "phrase", p.Text, "partial", isPartial)

	if d.speaker != nil {
		d.speaker.Stop()
	}
	for _, s := range d.stoppers {
		s.Stop()
	}

	if p.Confirm != "" && d.speaker != nil {
		if !d.speaker.SayCached(ctx, confirmKey(p.Lang), p.Lang) {
			if err := d.speaker.Say(ctx, p.Confirm, p.Lang); err != nil {
				d.log.Warn("exit confirmation failed", "error", err)
			}
		}
	}

	if d.standby != nil {
		d.standby(p.Text)
	}
}

func confirmKey(lang string) string {
	return fmt.Sprintf("exit_%s", lang)
}
