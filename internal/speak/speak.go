// Package speak coordinates one spoken reply end to end.
//
// The coordinator sits between the shaped chunk stream and the
// synthesizer: it strips control directives, feeds speakable text into a
// bounded queue the synthesizer drains in order, measures the time to
// the first chunk, and covers slow replies with a short cached filler so
// the user knows they were heard. Stop interrupts the whole turn: the
// producer stops feeding, the synthesizer goes quiet and attached
// stoppers cancel the generator upstream.
package speak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/urecho/urecho/internal/actions"
	"github.com/urecho/urecho/pkg/provider/tts"
)

// Config tunes the coordinator.
type Config struct {
	// QueueDepth bounds how many shaped chunks may wait for synthesis.
	// Defaults to 2.
	QueueDepth int

	// BackchannelDelay is how long a reply may stay silent before the
	// filler plays. Defaults to 2s; negative disables the filler.
	BackchannelDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 2
	}
	if c.BackchannelDelay == 0 {
		c.BackchannelDelay = 2 * time.Second
	}
	return c
}

// ActionSink receives the control directives lifted out of the reply.
type ActionSink interface {
	PostAll(evs []actions.Event)
}

// Stopper cancels upstream work, typically the token generator feeding
// the stream.
type Stopper interface {
	Stop()
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithActions attaches the directive sink.
func WithActions(sink ActionSink) Option {
	return func(c *Coordinator) { c.sink = sink }
}

// WithAbort attaches the abort poll. The producer checks it on every
// chunk and stops feeding once it reports true.
func WithAbort(poll func() bool) Option {
	return func(c *Coordinator) { c.abort = poll }
}

// WithStoppers attaches components to stop alongside the synthesizer,
// typically the text generator.
func WithStoppers(stoppers ...Stopper) Option {
	return func(c *Coordinator) { c.stoppers = append(c.stoppers, stoppers...) }
}

// WithOnFirstSpeak attaches the first-chunk hook. It fires exactly once
// per reply, when the first speakable chunk is queued, with the time
// since Speak was entered.
func WithOnFirstSpeak(fn func(ttft time.Duration)) Option {
	return func(c *Coordinator) { c.onFirst = fn }
}

// WithOnAudioStart attaches a hook that fires when the first chunk
// becomes audible, which trails the first-chunk hook by one synthesis.
func WithOnAudioStart(fn func()) Option {
	return func(c *Coordinator) { c.onAudio = fn }
}

// Coordinator drives the speaking half of a turn.
//
// One Speak runs at a time; the interaction loop owns it. Stop is safe
// from any goroutine.
type Coordinator struct {
	synth tts.Synthesizer
	cfg   Config
	log   *slog.Logger

	sink     ActionSink
	abort    func() bool
	stoppers []Stopper
	onFirst  func(ttft time.Duration)
	onAudio  func()

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a coordinator.
func New(synth tts.Synthesizer, cfg Config, log *slog.Logger, opts ...Option) (*Coordinator, error) {
	if synth == nil {
		return nil, errors.New("speak: synthesizer is required")
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{synth: synth, cfg: cfg.withDefaults(), log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Speak drives one reply: shaped chunks in, audio out. It blocks until
// the reply has fully played, the turn is stopped or aborted, or ctx is
// cancelled. Interrupted speech is not an error.
func (c *Coordinator) Speak(ctx context.Context, chunks <-chan string, lang string) error {
	start := time.Now()
	tctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	queue := make(chan string, c.cfg.QueueDepth)
	synthDone := make(chan struct{})
	if err := c.synth.SayStream(tctx, queue, lang, c.onAudio, func() { close(synthDone) }); err != nil {
		return fmt.Errorf("speak: start synthesis: %w", err)
	}

	// First-chunk signal: releases the backchannel timer and carries the
	// TTFT measurement.
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.backchannel(tctx, lang, started)
	}()

	var (
		strip   actions.Stripper
		queued  int
		aborted bool
	)
	send := func(text string) bool {
		select {
		case queue <- text:
		case <-tctx.Done():
			return false
		}
		queued++
		if queued == 1 {
			close(started)
			ttft := time.Since(start)
			c.log.Info("first chunk queued", "ttft", ttft, "lang", lang)
			if c.onFirst != nil {
				c.onFirst(ttft)
			}
		}
		return true
	}

producing:
	for {
		select {
		case <-tctx.Done():
			aborted = true
			break producing
		case chunk, ok := <-chunks:
			if !ok {
				break producing
			}
			if c.abort != nil && c.abort() {
				aborted = true
				break producing
			}
			clean, events := strip.Feed(chunk)
			if c.sink != nil && len(events) > 0 {
				c.sink.PostAll(events)
			}
			if strings.TrimSpace(clean) == "" {
				continue
			}
			if !send(clean) {
				aborted = true
				break producing
			}
		}
	}
	if !aborted {
		if tail := strip.Flush(); strings.TrimSpace(tail) != "" {
			if !send(tail) {
				aborted = true
			}
		}
	}
	close(queue)

	// The synthesizer always fires its done hook once the queue closes,
	// stopped or not, so this wait is bounded.
	<-synthDone
	cancel()
	wg.Wait()

	if aborted {
		c.log.Info("reply interrupted", "chunks", queued, "took", time.Since(start))
	} else {
		c.log.Info("reply drained", "chunks", queued, "took", time.Since(start))
	}
	return ctx.Err()
}

// Stop interrupts the turn in flight: the producer stops feeding, the
// synthesizer goes quiet and the attached stoppers cancel the generator.
// Idempotent and safe from any goroutine.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.synth.Stop()
	for _, s := range c.stoppers {
		s.Stop()
	}
}

// backchannel plays a short cached filler when the reply is slow to
// arrive. The filler goes straight to the synthesizer's cache path, so
// the chunk queue is not disturbed.
func (c *Coordinator) backchannel(ctx context.Context, lang string, started <-chan struct{}) {
	if c.cfg.BackchannelDelay < 0 {
		return
	}
	t := time.NewTimer(c.cfg.BackchannelDelay)
	defer t.Stop()
	select {
	case <-started:
	case <-ctx.Done():
	case <-t.C:
		if c.abort != nil && c.abort() {
			return
		}
		key := fmt.Sprintf("filler_%s", lang)
		if !c.synth.SayCached(ctx, key, lang) {
			c.log.Debug("no filler cached", "key", key)
			return
		}
		c.log.Info("backchannel filler played", "lang", lang)
	}
}
