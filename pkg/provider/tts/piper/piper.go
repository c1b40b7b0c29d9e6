// Package piper synthesizes speech with the piper CLI. Every utterance runs
// one subprocess: text goes in on stdin, raw 16-bit PCM comes out on stdout
// and is written straight to the playback device. Streamed replies are
// double-buffered, synthesizing the next chunk while the current one plays.
// Common phrases are pre-rendered into a WAV cache at construction so
// acknowledgements play without a synthesis round-trip.
package piper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/tts"
)

// synthAhead bounds how many synthesized chunks may wait for playback.
const synthAhead = 2

// Config configures the synthesizer.
type Config struct {
	// Exe is the piper binary. Looked up on PATH when empty.
	Exe string

	// Voices lists one voice per language. The first entry is the
	// fallback for languages with no voice of their own. Model files
	// must exist; a missing one fails construction.
	Voices []tts.Voice

	// SampleRate is the PCM rate the voice models emit. Must match the
	// models' native rate. Defaults to 22050.
	SampleRate int

	// SentenceGap is the pause between streamed chunks. Defaults to
	// 80ms; negative disables the gap.
	SentenceGap time.Duration

	// WarmupText is synthesized and discarded in the background at
	// startup so the first real utterance does not pay the model load
	// cost. Empty skips the warmup.
	WarmupText string

	// WarmupLang selects the warmup voice. Defaults to "en".
	WarmupLang string

	// CacheDir holds pre-rendered WAVs for SayCached. Empty disables
	// the cache.
	CacheDir string

	// CachePhrases maps cache keys to the text rendered for them. The
	// key's "_<lang>" suffix picks the voice ("ack_ro" renders
	// Romanian); keys without a known suffix use the fallback voice.
	CachePhrases map[string]string
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 22050
	}
	if c.SentenceGap == 0 {
		c.SentenceGap = 80 * time.Millisecond
	}
	if c.WarmupLang == "" {
		c.WarmupLang = "en"
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if len(c.Voices) == 0 {
		errs = append(errs, errors.New("at least one voice is required"))
	}
	for _, v := range c.Voices {
		if v.Lang == "" {
			errs = append(errs, errors.New("voice lang is required"))
		}
		if v.ModelPath == "" {
			errs = append(errs, fmt.Errorf("voice %q: model path is required", v.Lang))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("piper: invalid config: %w", err)
	}
	return nil
}

// turn tracks one utterance so Stop can cancel exactly the one in flight.
type turn struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Engine drives the piper CLI and the playback device.
type Engine struct {
	exe      string
	cfg      Config
	voices   map[string]tts.Voice
	fallback tts.Voice
	player   audio.Player
	log      *slog.Logger

	mu       sync.Mutex
	speaking bool
	turn     *turn
	cache    map[string]string

	// playMu serializes the playback device across blocking, cached and
	// streamed utterances.
	playMu sync.Mutex

	warmOnce sync.Once
}

// Ensure Engine implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Engine)(nil)

// New builds the synthesizer, renders missing cache phrases and starts the
// background warmup.
func New(cfg Config, player audio.Player, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if player == nil {
		return nil, errors.New("piper: player is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	exe := cfg.Exe
	if exe == "" {
		p, err := exec.LookPath("piper")
		if err != nil {
			return nil, errors.New("piper: executable not found: install piper-tts or set the exe path")
		}
		exe = p
	} else if _, err := os.Stat(exe); err != nil {
		return nil, fmt.Errorf("piper: executable: %w", err)
	}

	voices := make(map[string]tts.Voice, len(cfg.Voices))
	langs := make([]string, 0, len(cfg.Voices))
	for _, v := range cfg.Voices {
		if _, err := os.Stat(v.ModelPath); err != nil {
			return nil, fmt.Errorf("piper: voice model for %q: %w", v.Lang, err)
		}
		lang := strings.ToLower(v.Lang)
		voices[lang] = v
		langs = append(langs, lang)
	}

	e := &Engine{
		exe:      exe,
		cfg:      cfg,
		voices:   voices,
		fallback: cfg.Voices[0],
		player:   player,
		log:      log,
		cache:    make(map[string]string),
	}
	if err := e.precache(context.Background()); err != nil {
		return nil, err
	}
	go e.warm()

	log.Info("piper synthesizer ready", "voices", langs, "exe", exe)
	return e, nil
}

// voice picks the configured voice for a language, falling back to the
// first configured one.
func (e *Engine) voice(lang string) tts.Voice {
	lang = strings.ToLower(lang)
	if len(lang) > 2 {
		lang = lang[:2]
	}
	if v, ok := e.voices[lang]; ok {
		return v
	}
	return e.fallback
}

// synth runs one piper subprocess and returns the raw PCM it produced.
func (e *Engine) synth(ctx context.Context, text, lang string) ([]int16, error) {
	v := e.voice(lang)
	args := []string{"--model", v.ModelPath, "--output-raw"}
	if v.ConfigPath != "" {
		args = append(args, "--config", v.ConfigPath)
	}
	if v.Speaker > 0 {
		args = append(args, "--speaker", strconv.Itoa(v.Speaker))
	}
	if v.LengthScale > 0 {
		args = append(args, "--length_scale", strconv.FormatFloat(v.LengthScale, 'f', -1, 64))
	}

	cmd := exec.CommandContext(ctx, e.exe, args...)
	cmd.Stdin = strings.NewReader(text)
	raw, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			line, _, _ := strings.Cut(strings.TrimSpace(string(ee.Stderr)), "\n")
			return nil, fmt.Errorf("piper: synthesis failed: %s: %w", line, err)
		}
		return nil, fmt.Errorf("piper: synthesis failed: %w", err)
	}
	return audio.BytesToInt16(raw), nil
}

// begin marks the engine speaking and arms the cancel hook Stop uses. The
// returned func must be called when the utterance ends.
func (e *Engine) begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	t := &turn{ctx: ctx, cancel: cancel}
	e.mu.Lock()
	e.speaking = true
	e.turn = t
	e.mu.Unlock()
	return ctx, func() {
		cancel()
		e.mu.Lock()
		if e.turn == t {
			e.turn = nil
			e.speaking = false
		}
		e.mu.Unlock()
	}
}

// mapStop turns a cancellation caused by Stop, rather than by the caller's
// context, into a clean return. Interrupted speech is not an error.
func mapStop(parent, ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && parent.Err() == nil {
		return nil
	}
	return err
}

// Say synthesizes text and blocks until playback finishes or is stopped.
func (e *Engine) Say(ctx context.Context, text, lang string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tctx, done := e.begin(ctx)
	defer done()

	pcm, err := e.synth(tctx, text, lang)
	if err != nil {
		return mapStop(ctx, tctx, err)
	}

	e.playMu.Lock()
	defer e.playMu.Unlock()
	e.log.Info("speaking", "chars", len(text), "lang", lang)
	return mapStop(ctx, tctx, e.player.Play(tctx, pcm, e.cfg.SampleRate))
}

// SayStream double-buffers a chunk stream: a producer synthesizes ahead
// into a bounded queue while the consumer plays strictly in order. The
// call returns immediately; onFirstSpeak fires before the first chunk is
// audible and onDone after the stream drains or is stopped.
func (e *Engine) SayStream(ctx context.Context, chunks <-chan string, lang string, onFirstSpeak, onDone func()) error {
	// A new stream supersedes whatever is still in flight.
	e.Stop()
	tctx, done := e.begin(ctx)

	pcmQ := make(chan []int16, synthAhead)

	go func() {
		defer close(pcmQ)
		for chunk := range chunks {
			if tctx.Err() != nil {
				return
			}
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			pcm, err := e.synth(tctx, chunk, lang)
			if err != nil {
				if tctx.Err() == nil {
					e.log.Warn("chunk synthesis failed", "error", err)
				}
				continue
			}
			e.log.Info("chunk synthesized", "chars", len(chunk), "lang", lang)
			select {
			case pcmQ <- pcm:
			case <-tctx.Done():
				return
			}
		}
	}()

	go func() {
		defer func() {
			done()
			if onDone != nil {
				onDone()
			}
		}()
		first := true
		n := 0
		for pcm := range pcmQ {
			if tctx.Err() != nil {
				continue
			}
			n++
			if first {
				first = false
				if onFirstSpeak != nil {
					onFirstSpeak()
				}
			}
			e.playMu.Lock()
			e.log.Info("chunk playback start", "chunk", n)
			err := e.player.Play(tctx, pcm, e.cfg.SampleRate)
			e.playMu.Unlock()
			if err != nil {
				if tctx.Err() == nil {
					e.log.Warn("chunk playback failed", "error", err)
				}
				continue
			}
			if gap := e.cfg.SentenceGap; gap > 0 {
				select {
				case <-time.After(gap):
				case <-tctx.Done():
				}
			}
		}
	}()

	return nil
}

// SayCached plays a pre-rendered WAV by cache key. The language is already
// baked into the key, so lang only matters to callers that fall back to
// Say on a miss.
func (e *Engine) SayCached(ctx context.Context, key, lang string) bool {
	e.mu.Lock()
	path, ok := e.cache[key]
	e.mu.Unlock()
	if !ok {
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		e.log.Warn("cached utterance unreadable", "key", key, "error", err)
		return false
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		e.log.Warn("cached utterance corrupt", "key", key, "error", err)
		return false
	}

	// A cached utterance played while a stream is in flight joins the
	// stream's turn, so one Stop silences both and the stream's own
	// cancel hook stays armed.
	tctx, done := ctx, func() {}
	e.mu.Lock()
	if t := e.turn; t != nil {
		tctx = t.ctx
		e.mu.Unlock()
	} else {
		e.mu.Unlock()
		tctx, done = e.begin(ctx)
	}
	defer done()

	e.playMu.Lock()
	defer e.playMu.Unlock()
	e.log.Info("speaking cached utterance", "key", key)
	if err := e.player.Play(tctx, pcm, rate); err != nil && tctx.Err() == nil {
		e.log.Warn("cached playback failed", "key", key, "error", err)
	}
	return true
}

// IsSpeaking reports whether an utterance is in flight.
func (e *Engine) IsSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

// Stop cancels the utterance in flight and silences the playback device.
func (e *Engine) Stop() {
	e.mu.Lock()
	t := e.turn
	e.mu.Unlock()
	if t != nil {
		t.cancel()
	}
	e.player.Stop()
}

// warm synthesizes a throwaway utterance once so the model is resident
// before the first real request.
func (e *Engine) warm() {
	e.warmOnce.Do(func() {
		text := strings.TrimSpace(e.cfg.WarmupText)
		if text == "" {
			return
		}
		start := time.Now()
		if _, err := e.synth(context.Background(), text, e.cfg.WarmupLang); err != nil {
			e.log.Warn("warmup synthesis failed", "error", err)
			return
		}
		e.log.Info("synthesis warmed up", "lang", e.cfg.WarmupLang, "took", time.Since(start))
	})
}

// cacheLang picks the voice for a cache key from its "_<lang>" suffix.
func (e *Engine) cacheLang(key string) string {
	if i := strings.LastIndex(key, "_"); i >= 0 {
		if _, ok := e.voices[key[i+1:]]; ok {
			return key[i+1:]
		}
	}
	return e.fallback.Lang
}

// precache renders the configured phrases into CacheDir, skipping files
// that already exist from a previous run.
func (e *Engine) precache(ctx context.Context) error {
	if e.cfg.CacheDir == "" || len(e.cfg.CachePhrases) == 0 {
		return nil
	}
	if err := os.MkdirAll(e.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("piper: create cache dir: %w", err)
	}

	var generated []string
	for key, text := range e.cfg.CachePhrases {
		if text == "" {
			continue
		}
		path := filepath.Join(e.cfg.CacheDir, key+".wav")
		if _, err := os.Stat(path); err != nil {
			pcm, err := e.synth(ctx, text, e.cacheLang(key))
			if err != nil {
				e.log.Warn("cache phrase synthesis failed", "key", key, "error", err)
				continue
			}
			if err := os.WriteFile(path, audio.EncodeWAV(pcm, e.cfg.SampleRate), 0o644); err != nil {
				e.log.Warn("cache phrase write failed", "key", key, "error", err)
				continue
			}
			generated = append(generated, key)
		}
		e.cache[key] = path
	}

	if len(generated) > 0 {
		slices.Sort(generated)
		e.log.Info("utterance cache rendered", "keys", generated)
	}
	if len(e.cache) > 0 {
		e.log.Info("utterance cache ready", "size", len(e.cache))
	}
	return nil
}
