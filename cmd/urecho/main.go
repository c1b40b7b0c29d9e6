// Command urecho is the main entry point for the urecho voice front end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/urecho/urecho/internal/app"
	"github.com/urecho/urecho/internal/arbiter"
	"github.com/urecho/urecho/internal/config"
	"github.com/urecho/urecho/internal/health"
	"github.com/urecho/urecho/internal/observe"
	"github.com/urecho/urecho/internal/resilience"
	"github.com/urecho/urecho/internal/spot"
	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/audio/malgo"
	"github.com/urecho/urecho/pkg/audio/pulse"
	"github.com/urecho/urecho/pkg/provider/asr"
	"github.com/urecho/urecho/pkg/provider/asr/whisper"
	"github.com/urecho/urecho/pkg/provider/gen"
	"github.com/urecho/urecho/pkg/provider/gen/anyllm"
	"github.com/urecho/urecho/pkg/provider/gen/openai"
	"github.com/urecho/urecho/pkg/provider/tts"
	"github.com/urecho/urecho/pkg/provider/tts/piper"
	"github.com/urecho/urecho/pkg/provider/tts/remote"
	"github.com/urecho/urecho/pkg/provider/vad"
	"github.com/urecho/urecho/pkg/provider/vad/energy"
	"github.com/urecho/urecho/pkg/provider/vad/silero"
	"github.com/urecho/urecho/pkg/provider/wake"
	"github.com/urecho/urecho/pkg/provider/wake/oww"
	"github.com/urecho/urecho/pkg/provider/wake/porcupine"
	"github.com/urecho/urecho/pkg/provider/wake/textwake"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "urecho: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "urecho: %v\n", err)
		}
		return 1
	}
	backendDefaults(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Log)
	slog.SetDefault(logger)

	slog.Info("urecho starting",
		"config", *configPath,
		"log_level", cfg.Log.Level,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	obs, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "urecho",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	meter := observe.NewMetrics(otel.GetMeterProvider())

	// ── ONNX runtime ──────────────────────────────────────────────────────────
	// Shared by every model-based engine (wake, vad, stop spotting). A failure
	// is not fatal here: each engine fails its own construction afterwards, and
	// the cascades skip what they cannot start.
	if needsONNX(cfg) {
		if err := spot.EnsureRuntime(os.Getenv("ONNXRUNTIME_LIB")); err != nil {
			slog.Warn("onnxruntime unavailable", "error", err)
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, cfg)

	// ── Instantiate backends ──────────────────────────────────────────────────
	providers, closers, err := buildProviders(ctx, cfg, reg, obs, meter)
	defer closeBackends(closers)
	if err != nil {
		slog.Error("failed to build backends", "error", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, logger)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(application, logLevel, old, new)
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}

	obs.LogSnapshot(shutdownCtx, logger)
	if err := obs.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "error", err)
	}

	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// builtinBackends maps backend category names to the implementations that
// ship with urecho. Used for startup logging.
var builtinBackends = map[string][]string{
	"gen":   {"openai", "anyllm"},
	"tts":   {"piper", "remote"},
	"vad":   {"silero", "energy"},
	"audio": {"malgo", "pulse"},
	"wake":  {"oww", "porcupine", "text"},
}

// registerBuiltinBackends wires the built-in backend factories into reg.
// The gen factories close over the top-level gen settings (history depth,
// fallback sentences) every backend entry shares. Constructors receive a nil
// logger and fall back to slog.Default, which main has already set.
func registerBuiltinBackends(reg *config.Registry, cfg *config.Config) {
	// ── Gen ───────────────────────────────────────────────────────────────────

	reg.RegisterGen("openai", func(entry config.GenBackendConfig) (gen.Generator, error) {
		return openai.New(openai.Config{
			APIKey:          entry.APIKey,
			Model:           entry.Model,
			BaseURL:         entry.BaseURL,
			Timeout:         entry.Timeout,
			Temperature:     entry.Temperature,
			MaxTokens:       entry.MaxTokens,
			MaxHistoryTurns: cfg.Gen.MaxHistoryTurns,
			SystemPrompt:    entry.SystemPrompt,
			Fallbacks:       gen.Fallbacks(cfg.Gen.Fallbacks),
		}, nil)
	})

	reg.RegisterGen("anyllm", func(entry config.GenBackendConfig) (gen.Generator, error) {
		return anyllm.New(anyllm.Config{
			Provider:        entry.Provider,
			Model:           entry.Model,
			APIKey:          entry.APIKey,
			BaseURL:         entry.BaseURL,
			Temperature:     entry.Temperature,
			MaxTokens:       entry.MaxTokens,
			MaxHistoryTurns: cfg.Gen.MaxHistoryTurns,
			SystemPrompt:    entry.SystemPrompt,
			Fallbacks:       gen.Fallbacks(cfg.Gen.Fallbacks),
		}, nil)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("piper", func(tc config.TTSConfig, player audio.Player) (tts.Synthesizer, error) {
		return piper.New(piper.Config{
			Exe:          tc.Exe,
			Voices:       ttsVoices(tc.Voices),
			SampleRate:   tc.SampleRate,
			SentenceGap:  tc.SentenceGap,
			WarmupText:   tc.WarmupText,
			WarmupLang:   tc.WarmupLang,
			CacheDir:     tc.CacheDir,
			CachePhrases: tc.Phrases,
		}, player, nil)
	})

	reg.RegisterTTS("remote", func(tc config.TTSConfig, player audio.Player) (tts.Synthesizer, error) {
		return remote.New(tc.ServerURL, player, nil)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(vc config.VADConfig) (vad.Engine, error) {
		return silero.New(vc.Model)
	})

	reg.RegisterVAD("energy", func(vc config.VADConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("malgo", func(ac config.AudioConfig) (audio.Capture, audio.Player, error) {
		b, err := malgo.New()
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	})

	reg.RegisterAudio("pulse", func(ac config.AudioConfig) (audio.Capture, audio.Player, error) {
		// Pulse only captures; the caller pairs it with a malgo player.
		b, err := pulse.New(pulse.Options{AppName: "urecho", SourceID: ac.Source})
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	})

	// Debug log of all registered backends.
	for kind, names := range builtinBackends {
		for _, name := range names {
			slog.Debug("registered backend", "kind", kind, "name", name)
		}
	}
}

// namedCloser labels a backend teardown function for shutdown logging.
type namedCloser struct {
	name  string
	close func() error
}

// buildProviders instantiates the backends named in cfg and returns them in
// an [app.Providers] struct, together with the teardown functions for the
// resources the application does not own. The closer slice is valid even
// when an error is returned; the caller releases whatever was built.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, obs *observe.Providers, meter *observe.Metrics) (*app.Providers, []namedCloser, error) {
	ps := &app.Providers{
		Meter:  meter,
		Vitals: obs,
		Scrape: promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{}),
	}
	var closers []namedCloser
	fbCfg := resilience.FallbackConfig{}

	// ── Audio ─────────────────────────────────────────────────────────────────
	capture, player, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, closers, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	if c, ok := capture.(io.Closer); ok {
		closers = append(closers, namedCloser{"capture", c.Close})
	}
	if player == nil {
		// The capture backend does not play. Playback always goes through
		// miniaudio.
		pb, perr := malgo.New()
		if perr != nil {
			return nil, closers, fmt.Errorf("open playback device: %w", perr)
		}
		player = pb
		closers = append(closers, namedCloser{"playback", pb.Close})
	}
	ps.Capture = capture
	slog.Info("backend created", "kind", "audio", "name", cfg.Audio.Backend)

	// ── VAD ───────────────────────────────────────────────────────────────────
	vadEng, err := reg.CreateVAD(cfg.Barge.VAD)
	if err != nil {
		return nil, closers, fmt.Errorf("create vad backend %q: %w", cfg.Barge.VAD.Backend, err)
	}
	if c, ok := vadEng.(io.Closer); ok {
		closers = append(closers, namedCloser{"vad", c.Close})
	}
	ps.VAD = vadEng
	slog.Info("backend created", "kind", "vad", "name", cfg.Barge.VAD.Backend)

	// ── ASR ───────────────────────────────────────────────────────────────────
	var server asr.Transcriber
	if cfg.ASR.ServerURL != "" {
		server, err = whisper.New(whisper.Config{
			ServerURL: cfg.ASR.ServerURL,
			Primary:   cfg.ASR.Primary,
			Secondary: cfg.ASR.Secondary,
			FilterRMS: cfg.ASR.FilterRMS,
			Timeout:   cfg.ASR.Timeout,
		}, nil)
		if err != nil {
			return nil, closers, fmt.Errorf("create whisper client: %w", err)
		}
	}
	var native asr.Transcriber
	if cfg.ASR.Native.Model != "" {
		native, err = whisper.NewNative(whisper.NativeConfig{
			ModelPath: cfg.ASR.Native.Model,
			Primary:   cfg.ASR.Primary,
			Secondary: cfg.ASR.Secondary,
			FilterRMS: cfg.ASR.FilterRMS,
		}, nil)
		switch {
		case err != nil && server == nil:
			return nil, closers, fmt.Errorf("create native transcriber: %w", err)
		case err != nil:
			slog.Warn("native transcriber unavailable", "error", err)
			native = nil
		default:
			if c, ok := native.(io.Closer); ok {
				closers = append(closers, namedCloser{"asr-native", c.Close})
			}
		}
	}
	switch {
	case server != nil && native != nil:
		chain := resilience.NewASRFallback(server, "whisper-server", fbCfg)
		chain.AddFallback("whisper-native", native)
		ps.ASR = chain
		ps.Ready = append(ps.Ready, health.Checker{Name: "asr", Check: checkOf(chain.Healthy)})
		slog.Info("backend created", "kind", "asr", "name", "whisper-server+native")
	case server != nil:
		ps.ASR = server
		slog.Info("backend created", "kind", "asr", "name", "whisper-server")
	default:
		ps.ASR = native
		slog.Info("backend created", "kind", "asr", "name", "whisper-native")
	}

	// ── Gen ───────────────────────────────────────────────────────────────────
	type genEntry struct {
		label string
		g     gen.Generator
	}
	var gens []genEntry
	for _, entry := range cfg.Gen.Backends {
		g, gerr := reg.CreateGen(entry)
		if gerr != nil {
			slog.Warn("reply backend unavailable", "name", backendLabel(entry), "error", gerr)
			continue
		}
		gens = append(gens, genEntry{backendLabel(entry), g})
		slog.Info("backend created", "kind", "gen", "name", backendLabel(entry))
	}
	switch {
	case len(gens) == 0:
		return nil, closers, errors.New("gen: no reply backend could be created")
	case len(gens) == 1:
		ps.Gen = gens[0].g
	default:
		chain := resilience.NewGenFallback(gens[0].g, gens[0].label, fbCfg)
		for _, e := range gens[1:] {
			chain.AddFallback(e.label, e.g)
		}
		ps.Gen = chain
		ps.Ready = append(ps.Ready, health.Checker{Name: "gen", Check: checkOf(chain.Healthy)})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	synth, err := reg.CreateTTS(cfg.TTS, player)
	if err != nil {
		return nil, closers, fmt.Errorf("create tts backend %q: %w", cfg.TTS.Backend, err)
	}
	ttsName := cfg.TTS.Backend
	if cfg.TTS.Backend == "remote" && len(cfg.TTS.Voices) > 0 {
		// Local voice models double as the fallback when the synthesis
		// server goes away.
		local := cfg.TTS
		local.Backend = "piper"
		lp, lerr := reg.CreateTTS(local, player)
		if lerr != nil {
			slog.Warn("local tts fallback unavailable", "error", lerr)
		} else {
			chain := resilience.NewTTSFallback(synth, "remote", fbCfg)
			chain.AddFallback("piper", lp)
			synth = chain
			ps.Ready = append(ps.Ready, health.Checker{Name: "tts", Check: checkOf(chain.Healthy)})
			ttsName = "remote+piper"
		}
	}
	ps.TTS = synth
	slog.Info("backend created", "kind", "tts", "name", ttsName)

	// ── Wake ──────────────────────────────────────────────────────────────────
	ps.Wake, err = buildWakeEngines(ctx, cfg, capture, ps.ASR)
	if err != nil {
		return nil, closers, err
	}

	return ps, closers, nil
}

// buildWakeEngines starts the configured standby engines in preference
// order. An engine that fails to start is skipped with a warning; at least
// one must come up.
func buildWakeEngines(ctx context.Context, cfg *config.Config, capture audio.Capture, tr asr.Transcriber) ([]arbiter.Entry, error) {
	if len(cfg.Wake.Engines) == 0 {
		return nil, errors.New("wake.engines is empty; configure at least one engine")
	}
	var entries []arbiter.Entry
	for _, name := range cfg.Wake.Engines {
		var (
			eng wake.Engine
			err error
		)
		switch name {
		case "oww":
			eng, err = oww.New(ctx, capture, owwConfig(cfg), nil)
		case "porcupine":
			eng, err = porcupine.New(ctx, capture, porcupineConfig(cfg), nil)
		case "text":
			eng, err = textwake.New(ctx, capture, tr, textwakeConfig(cfg), nil)
		default:
			slog.Warn("unknown wake engine in config", "engine", name)
			continue
		}
		if err != nil {
			slog.Warn("wake engine failed to start", "engine", name, "error", err)
			continue
		}
		entries = append(entries, arbiter.Entry{Name: name, Engine: eng})
		slog.Info("backend created", "kind", "wake", "name", name)
	}
	if len(entries) == 0 {
		return nil, errors.New("wake: no engine could be started")
	}
	return entries, nil
}

func owwConfig(cfg *config.Config) oww.Config {
	c := oww.Config{
		MelModelPath:   cfg.Wake.OWW.MelModel,
		EmbedModelPath: cfg.Wake.OWW.EmbedModel,
		SampleRate:     cfg.Audio.SampleRate,
	}
	for _, k := range cfg.Wake.OWW.Keywords {
		c.Keywords = append(c.Keywords, oww.Keyword{
			ID:        k.ID,
			ModelPath: k.Model,
			Lang:      k.Lang,
			Threshold: k.Threshold,
			Cooldown:  k.Cooldown,
		})
	}
	return c
}

func porcupineConfig(cfg *config.Config) porcupine.Config {
	c := porcupine.Config{AccessKey: cfg.Wake.Porcupine.AccessKey}
	for _, k := range cfg.Wake.Porcupine.Keywords {
		c.Keywords = append(c.Keywords, porcupine.Keyword{
			ID:          k.ID,
			ModelPath:   k.Model,
			Lang:        k.Lang,
			Sensitivity: float64(k.Sensitivity),
			Cooldown:    k.Cooldown,
		})
	}
	return c
}

func textwakeConfig(cfg *config.Config) textwake.Config {
	c := textwake.Config{
		Threshold:  cfg.Wake.Text.Threshold,
		LangHint:   cfg.ASR.Primary,
		SampleRate: cfg.Audio.SampleRate,
		BlockMs:    cfg.Audio.BlockMs,
	}
	for _, p := range cfg.Wake.Text.Phrases {
		c.Phrases = append(c.Phrases, textwake.Phrase{Text: p.Text, Lang: p.Lang})
	}
	return c
}

// ttsVoices converts the config voice map into the sorted slice the piper
// backend takes. Sorted order keeps the fallback voice deterministic.
func ttsVoices(voices map[string]config.VoiceConfig) []tts.Voice {
	langs := make([]string, 0, len(voices))
	for lang := range voices {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	out := make([]tts.Voice, 0, len(langs))
	for _, lang := range langs {
		v := voices[lang]
		out = append(out, tts.Voice{
			Lang:       lang,
			ModelPath:  v.Model,
			ConfigPath: v.Config,
			Speaker:    v.Speaker,
		})
	}
	return out
}

// backendLabel names one gen backend for logs and breaker labels.
func backendLabel(entry config.GenBackendConfig) string {
	if entry.Provider != "" {
		return entry.Name + "/" + entry.Provider
	}
	return entry.Name
}

// backendDefaults fills in the backend names the config may omit.
func backendDefaults(cfg *config.Config) {
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = "malgo"
	}
	if cfg.TTS.Backend == "" {
		cfg.TTS.Backend = "piper"
	}
	if cfg.Barge.VAD.Backend == "" {
		cfg.Barge.VAD.Backend = "energy"
	}
}

// needsONNX reports whether the config names any component backed by an
// ONNX model.
func needsONNX(cfg *config.Config) bool {
	if slices.Contains(cfg.Wake.Engines, "oww") {
		return true
	}
	if cfg.Barge.VAD.Backend == "silero" {
		return true
	}
	if cfg.Stop.Phrase.Model != "" {
		return true
	}
	return cfg.Stop.Embed.MelModel != "" && cfg.Stop.Embed.EmbedModel != ""
}

// checkOf adapts a nullary health probe to the checker signature.
func checkOf(fn func() error) func(context.Context) error {
	return func(context.Context) error { return fn() }
}

// closeBackends releases backend resources in reverse creation order, after
// the application has shut down.
func closeBackends(closers []namedCloser) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].close(); err != nil {
			slog.Warn("backend close error", "backend", closers[i].name, "error", err)
		}
	}
}

// applyConfigChange reacts to an edited config file: hot-reloadable fields
// are applied in place, everything else is reported as needing a restart.
func applyConfigChange(application *app.App, level *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	application.ApplyConfig(d, new)
	if d.FallbacksChanged || d.AcknowledgementsChanged || d.CommandsChanged {
		slog.Info("config change applied",
			"fallbacks", d.FallbacksChanged,
			"acknowledgements", d.AcknowledgementsChanged,
			"commands", d.CommandsChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart",
			"sections", strings.Join(d.RestartRequired, ", "))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║          urecho startup summary        ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Audio", cfg.Audio.Backend)
	printRow("Wake", strings.Join(cfg.Wake.Engines, "+"))
	printRow("ASR", asrLabel(cfg))
	printRow("Gen", genLabel(cfg))
	printRow("TTS", cfg.TTS.Backend)
	printRow("VAD", cfg.Barge.VAD.Backend)
	if cfg.History.DSN != "" {
		printRow("History", "postgres")
	} else {
		printRow("History", "(disabled)")
	}
	if cfg.Actions.MCP != nil {
		printRow("MCP", string(cfg.Actions.MCP.Transport))
	}
	switch {
	case cfg.Monitor.Disabled:
		printRow("Monitor", "(disabled)")
	case cfg.Monitor.Addr != "":
		printRow("Monitor", cfg.Monitor.Addr)
	default:
		printRow("Monitor", "127.0.0.1:9108")
	}
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func asrLabel(cfg *config.Config) string {
	switch {
	case cfg.ASR.ServerURL != "" && cfg.ASR.Native.Model != "":
		return "whisper+native"
	case cfg.ASR.ServerURL != "":
		return "whisper"
	case cfg.ASR.Native.Model != "":
		return "whisper-native"
	}
	return ""
}

func genLabel(cfg *config.Config) string {
	if len(cfg.Gen.Backends) == 0 {
		return ""
	}
	first := cfg.Gen.Backends[0]
	label := backendLabel(first)
	if first.Model != "" {
		label += " / " + first.Model
	}
	if n := len(cfg.Gen.Backends) - 1; n > 0 {
		label += fmt.Sprintf(" (+%d)", n)
	}
	return label
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher change verbosity at runtime.
func newLogger(cfg config.LogConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == config.LogJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h), level
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
