// Package app wires the urecho voice pipeline into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the standby and session loops, and Shutdown
// tears everything down in reverse order.
//
// For testing, inject mock providers via the Providers struct and test
// doubles for internals via functional options (WithHistoryLog, WithFeed,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/urecho/urecho/internal/actions"
	"github.com/urecho/urecho/internal/arbiter"
	"github.com/urecho/urecho/internal/barge"
	"github.com/urecho/urecho/internal/config"
	"github.com/urecho/urecho/internal/exitword"
	"github.com/urecho/urecho/internal/health"
	"github.com/urecho/urecho/internal/history"
	"github.com/urecho/urecho/internal/monitor"
	"github.com/urecho/urecho/internal/observe"
	"github.com/urecho/urecho/internal/session"
	"github.com/urecho/urecho/internal/speak"
	"github.com/urecho/urecho/internal/spot"
	"github.com/urecho/urecho/internal/textkit"
	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/asr"
	"github.com/urecho/urecho/pkg/provider/gen"
	"github.com/urecho/urecho/pkg/provider/tts"
	"github.com/urecho/urecho/pkg/provider/vad"
)

// Providers holds the pluggable backends the pipeline runs on. Populated by
// main via the config registry; tests pass mocks. Capture, VAD, ASR, Gen and
// TTS are required, as is at least one wake entry. The rest may be nil.
type Providers struct {
	// Capture opens microphone streams.
	Capture audio.Capture

	// VAD segments captured audio into speech and silence.
	VAD vad.Engine

	// ASR turns recorded utterances into text.
	ASR asr.Transcriber

	// Gen produces streamed replies.
	Gen gen.Generator

	// TTS speaks replies and canned prompts.
	TTS tts.Synthesizer

	// Wake lists the standby detection engines in priority order.
	Wake []arbiter.Entry

	// Ready holds extra readiness checks surfaced on the monitor.
	Ready []health.Checker

	// Meter receives pipeline metrics. Nil uses the process default.
	Meter *observe.Metrics

	// Vitals backs the monitor's summary pages.
	Vitals monitor.VitalsSource

	// Scrape is the Prometheus handler served on the monitor's /metrics.
	Scrape http.Handler
}

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	meter     *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	feed      *monitor.Feed
	hist      *history.Log
	machine   *session.Machine
	corrector *textkit.Corrector
	pump      *actions.Pump
	exit      *exitword.Detector
	coord     *speak.Coordinator
	arb       *arbiter.Arbiter
	rec       *Recorder
	mon       *monitor.Server

	// spotters are shared across barge listeners; one turn at a time
	// feeds them. endsSession marks the keywords that close the whole
	// session instead of only cutting the reply.
	spotters    []spot.Spotter
	endsSession map[string]bool

	// mu guards the per-turn slots and the tables ApplyConfig swaps at
	// runtime.
	mu        sync.Mutex
	listener  *barge.Listener
	turnStart time.Time
	ttft      time.Duration
	fallbacks gen.Fallbacks
	acks      map[string]string
	commands  []string

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryLog injects an interaction log instead of opening one from
// History.DSN.
func WithHistoryLog(l *history.Log) Option {
	return func(a *App) { a.hist = l }
}

// WithFeed injects the event feed, letting tests subscribe to pipeline
// events without running the monitor server.
func WithFeed(f *monitor.Feed) Option {
	return func(a *App) { a.feed = f }
}

// WithSpotters appends stop spotters built outside the config, ahead of any
// the config constructs.
func WithSpotters(spotters ...spot.Spotter) Option {
	return func(a *App) { a.spotters = append(a.spotters, spotters...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry). Use Option functions
// to inject test doubles for internals.
//
// New performs all initialisation synchronously: interaction log connection,
// spotter model loading, MCP registration, the persistent capture stream and
// the wake arbiter. A failed optional subsystem is skipped with a warning;
// a failed required one aborts.
func New(ctx context.Context, cfg *config.Config, providers *Providers, log *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if providers == nil || providers.Capture == nil || providers.VAD == nil ||
		providers.ASR == nil || providers.Gen == nil || providers.TTS == nil {
		return nil, errors.New("app: capture, vad, asr, gen and tts providers are required")
	}
	if len(providers.Wake) == 0 {
		return nil, errors.New("app: at least one wake engine is required")
	}
	if log == nil {
		log = slog.Default()
	}
	meter := providers.Meter
	if meter == nil {
		meter = observe.DefaultMetrics()
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       log,
		meter:     meter,
		corrector: textkit.NewCorrector(),
		fallbacks: gen.Fallbacks(cfg.Gen.Fallbacks),
		acks:      maps.Clone(cfg.Wake.Acknowledgements),
		commands:  slices.Clone(cfg.ASR.Commands),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Interaction log ───────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Session machine ───────────────────────────────────────────────
	a.machine = session.New(session.Config{
		IdleTimeout: cfg.Session.IdleTimeout,
		MaxTurns:    cfg.Session.MaxTurns,
	}, log, session.WithOnChange(a.onStateChange))

	// ── 3. Stop spotters ─────────────────────────────────────────────────
	a.initSpotters()

	// ── 4. Directive pump ────────────────────────────────────────────────
	if err := a.initActions(ctx); err != nil {
		return nil, fmt.Errorf("app: init actions: %w", err)
	}

	// ── 5. Exit detector ─────────────────────────────────────────────────
	if err := a.initExit(); err != nil {
		return nil, fmt.Errorf("app: init exit detector: %w", err)
	}

	// ── 6. Speak coordinator ─────────────────────────────────────────────
	if err := a.initSpeak(); err != nil {
		return nil, fmt.Errorf("app: init speak coordinator: %w", err)
	}

	// ── 7. Wake arbiter ──────────────────────────────────────────────────
	if err := a.initArbiter(); err != nil {
		return nil, fmt.Errorf("app: init wake arbiter: %w", err)
	}

	// ── 8. Utterance recorder ────────────────────────────────────────────
	if err := a.initRecorder(ctx); err != nil {
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}

	// ── 9. Monitor ───────────────────────────────────────────────────────
	a.initMonitor()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the interaction log unless a test injected one.
func (a *App) initHistory(ctx context.Context) error {
	if a.hist == nil {
		l, err := history.Open(ctx, a.cfg.History.DSN, a.log)
		if err != nil {
			return err
		}
		a.hist = l
	}
	if a.hist.Enabled() {
		a.closers = append(a.closers, func() error {
			a.hist.Close()
			return nil
		})
	}
	return nil
}

// initSpotters builds the stop spotters from config. A spotter whose model
// fails to load is skipped with a warning; the pipeline runs without it.
func (a *App) initSpotters() {
	stop := a.cfg.Stop
	if p := stop.Phrase; p.Model != "" {
		sp, err := spot.NewPhraseSpotter(spot.PhraseConfig{
			ModelPath:     p.Model,
			Keyword:       p.Keyword,
			ProbThreshold: p.ProbThreshold,
			LogitMargin:   p.LogitMargin,
			HitsRequired:  p.HitsRequired,
			Cooldown:      p.Cooldown,
		}, a.log)
		if err != nil {
			a.log.Warn("phrase stop spotter unavailable", "error", err)
		} else {
			a.spotters = append(a.spotters, sp)
			a.closers = append(a.closers, sp.Close)
		}
	}
	if e := stop.Embed; e.MelModel != "" && e.EmbedModel != "" {
		heads := make([]spot.HeadConfig, 0, len(e.Heads))
		for _, h := range e.Heads {
			heads = append(heads, spot.HeadConfig{
				ModelPath: h.Model,
				Keyword:   h.Keyword,
				Threshold: h.Threshold,
			})
		}
		sp, err := spot.NewEmbedSpotter(spot.EmbedConfig{
			MelModelPath:   e.MelModel,
			EmbedModelPath: e.EmbedModel,
			Heads:          heads,
			HitsRequired:   e.HitsRequired,
			Cooldown:       e.Cooldown,
		}, a.log)
		if err != nil {
			a.log.Warn("embed stop spotter unavailable", "error", err)
		} else {
			a.spotters = append(a.spotters, sp)
			a.closers = append(a.closers, sp.Close)
		}
	}

	// The keyword map follows the config even when a spotter failed to
	// load, so injected spotters share the same session-ending semantics.
	a.endsSession = make(map[string]bool)
	if stop.Phrase.EndsSession {
		kw := stop.Phrase.Keyword
		if kw == "" {
			kw = "stop"
		}
		a.endsSession[kw] = true
	}
	for _, h := range stop.Embed.Heads {
		if h.EndsSession {
			a.endsSession[h.Keyword] = true
		}
	}
}

// initActions wires the directive pump: the log dispatcher always, the MCP
// dispatcher when configured.
func (a *App) initActions(ctx context.Context) error {
	dispatchers := []actions.Dispatcher{&actions.LogDispatcher{Log: a.log}}
	if mc := a.cfg.Actions.MCP; mc != nil {
		md, err := actions.NewMCPDispatcher(ctx, actions.MCPConfig{
			Transport:   mc.Transport,
			Command:     mc.Command,
			URL:         mc.URL,
			Env:         mc.Env,
			CallTimeout: mc.CallTimeout,
		}, a.log)
		if err != nil {
			return fmt.Errorf("connect mcp server: %w", err)
		}
		dispatchers = append(dispatchers, md)
		a.closers = append(a.closers, md.Close)
	}
	a.pump = actions.NewPump(a.cfg.Actions.QueueDepth, a.log, dispatchers...)
	a.closers = append(a.closers, func() error {
		a.pump.Close()
		return nil
	})
	return nil
}

func (a *App) initExit() error {
	ecfg := exitword.Config{
		Disabled:  a.cfg.Exit.Disabled,
		Threshold: a.cfg.Exit.Threshold,
		Debounce:  a.cfg.Exit.Debounce,
		MinChars:  a.cfg.Exit.MinChars,
	}
	for _, p := range a.cfg.Exit.Phrases {
		ph := exitword.Phrase{Text: p.Text, Lang: p.Lang}
		if p.Confirm {
			ph.Confirm = a.confirmText(p.Lang)
		}
		ecfg.Phrases = append(ecfg.Phrases, ph)
	}
	if len(ecfg.Phrases) == 0 {
		ecfg.Disabled = true
	}
	det, err := exitword.New(ecfg, a.log,
		exitword.WithSpeaker(a.providers.TTS),
		exitword.WithStoppers(a.providers.Gen),
		exitword.WithSpeakingGate(a.userSpeaking),
		exitword.WithStandby(func(reason string) { a.machine.SetStandby(reason) }),
	)
	if err != nil {
		return err
	}
	a.exit = det
	return nil
}

func (a *App) initSpeak() error {
	scfg := speak.Config{BackchannelDelay: a.cfg.TTS.Backchannel.Delay}
	if a.cfg.TTS.Backchannel.Disabled {
		scfg.BackchannelDelay = -1
	}
	coord, err := speak.New(a.providers.TTS, scfg, a.log,
		speak.WithActions(a.pump),
		speak.WithAbort(a.exit.Pending),
		speak.WithStoppers(a.providers.Gen),
		speak.WithOnFirstSpeak(a.onFirstSpeak),
		speak.WithOnAudioStart(a.onAudioStart),
	)
	if err != nil {
		return err
	}
	a.coord = coord
	return nil
}

func (a *App) initArbiter() error {
	arb, err := arbiter.New(a.providers.Wake, arbiter.Config{
		SubTimeout: a.cfg.Wake.SubTimeout,
	}, a.log)
	if err != nil {
		return err
	}
	a.arb = arb
	a.closers = append(a.closers, arb.Close)
	return nil
}

// initRecorder opens the persistent in-session capture stream.
func (a *App) initRecorder(ctx context.Context) error {
	rec, err := NewRecorder(ctx, a.providers.Capture, a.providers.VAD, RecorderConfig{
		SampleRate:   a.cfg.Audio.SampleRate,
		BlockMs:      a.cfg.Audio.BlockMs,
		QueueDepth:   a.cfg.Audio.QueueDepth,
		SilenceEnd:   a.cfg.Session.SilenceEnd,
		MaxUtterance: a.cfg.Session.MaxUtterance,
	}, a.log)
	if err != nil {
		return err
	}
	a.rec = rec
	a.meter.OpenStreams.Add(ctx, 1)
	a.closers = append(a.closers, func() error {
		err := rec.Close()
		a.meter.OpenStreams.Add(context.Background(), -1)
		return err
	})
	return nil
}

// initMonitor assembles the observability endpoint unless disabled.
func (a *App) initMonitor() {
	if a.cfg.Monitor.Disabled {
		return
	}
	if a.feed == nil {
		a.feed = monitor.NewFeed()
	}
	checkers := append([]health.Checker(nil), a.providers.Ready...)
	if a.hist.Enabled() {
		checkers = append(checkers, health.Checker{Name: "history", Check: a.checkHistory})
	}
	a.mon = monitor.New(monitor.Config{Addr: a.cfg.Monitor.Addr}, monitor.Deps{
		Checkers: checkers,
		Metrics:  a.providers.Scrape,
		Vitals:   a.providers.Vitals,
		Feed:     a.feed,
		Meter:    a.meter,
	}, a.log)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Runtime config ──────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change while the
// loops keep running: fallback sentences, wake acknowledgements and the
// command vocabulary. Sections the diff marks RestartRequired are ignored
// here; the caller decides how to surface those.
func (a *App) ApplyConfig(d config.ConfigDiff, next *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d.FallbacksChanged {
		a.fallbacks = gen.Fallbacks(next.Gen.Fallbacks)
	}
	if d.AcknowledgementsChanged {
		a.acks = maps.Clone(next.Wake.Acknowledgements)
	}
	if d.CommandsChanged {
		a.commands = slices.Clone(next.ASR.Commands)
	}
}

// ackText returns the configured wake acknowledgement for a language, or ""
// when none is set.
func (a *App) ackText(lang string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks[lang]
}

// commandList returns the current command vocabulary. The slice is only ever
// replaced wholesale, never mutated, so returning it without copying is safe.
func (a *App) commandList() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commands
}

// lookupFallback resolves a canned fallback sentence for a language.
func (a *App) lookupFallback(key, lang string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallbacks.Lookup(key, lang)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// onStateChange mirrors machine transitions onto the feed and the session
// gauge. Registered as the machine's change hook.
func (a *App) onStateChange(from, to session.State) {
	a.feed.Publish(monitor.Event{
		Kind: monitor.EventState,
		At:   time.Now(),
		From: from.String(),
		To:   to.String(),
	})
	switch {
	case from == session.Standby:
		a.meter.ActiveSessions.Add(context.Background(), 1)
	case to == session.Standby:
		a.meter.ActiveSessions.Add(context.Background(), -1)
	}
}

// checkHistory is the readiness check for the interaction log.
func (a *App) checkHistory(ctx context.Context) error {
	if err := a.hist.Ping(ctx); err != nil {
		return err
	}
	if a.hist.IsDegraded() {
		return health.Degraded("last write failed")
	}
	return nil
}

// onFirstSpeak fires when the reply's first chunk is queued for synthesis.
func (a *App) onFirstSpeak(ttft time.Duration) {
	a.machine.Speak()
	a.mu.Lock()
	a.ttft = ttft
	a.mu.Unlock()
	a.feed.Publish(monitor.Event{
		Kind:   monitor.EventTTFT,
		At:     time.Now(),
		Millis: ttft.Milliseconds(),
	})
}

// onAudioStart fires when the reply becomes audible and closes the
// round-trip measurement opened at the end of user speech.
func (a *App) onAudioStart() {
	a.mu.Lock()
	start := a.turnStart
	a.turnStart = time.Time{}
	a.mu.Unlock()
	if start.IsZero() {
		return
	}
	a.meter.RoundTrip.Record(context.Background(), time.Since(start).Seconds())
}

// userSpeaking reports whether the current barge listener hears the user.
// The exit detector uses it as its anti-echo gate.
func (a *App) userSpeaking() bool {
	a.mu.Lock()
	l := a.listener
	a.mu.Unlock()
	return l != nil && l.UserIsSpeaking()
}

func (a *App) setListener(l *barge.Listener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

func (a *App) setTurnStart(t time.Time) {
	a.mu.Lock()
	a.turnStart = t
	a.ttft = 0
	a.mu.Unlock()
}

func (a *App) lastTTFT() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ttft
}

// confirmText picks the exit confirmation for a language: the cached phrase
// text when configured, a hardcoded goodbye otherwise.
func (a *App) confirmText(lang string) string {
	if t := a.cfg.TTS.Phrases["exit_"+lang]; t != "" {
		return t
	}
	if lang == "ro" {
		return "Pa!"
	}
	return "Bye!"
}
