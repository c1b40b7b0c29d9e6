package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/urecho/urecho/internal/actions"
	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists known backend names per concern.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = map[string][]string{
	"audio": {"malgo", "pulse"},
	"wake":  {"oww", "porcupine", "text"},
	"gen":   {"openai", "anyllm"},
	"tts":   {"piper", "remote"},
	"vad":   {"silero", "energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	// Audio. The detection and recognition models are all trained on
	// 16 kHz mono, so any other capture rate is a misconfiguration.
	validateBackendName("audio", cfg.Audio.Backend)
	if cfg.Audio.SampleRate != 0 && cfg.Audio.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; the models expect 16000", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BlockMs < 0 {
		errs = append(errs, fmt.Errorf("audio.block_ms must not be negative, got %d", cfg.Audio.BlockMs))
	}

	// Wake engines
	for i, name := range cfg.Wake.Engines {
		if !slices.Contains(ValidBackendNames["wake"], name) {
			errs = append(errs, fmt.Errorf("wake.engines[%d] %q is invalid; valid values: oww, porcupine, text", i, name))
			continue
		}
		switch name {
		case "oww":
			if cfg.Wake.OWW.MelModel == "" || cfg.Wake.OWW.EmbedModel == "" || len(cfg.Wake.OWW.Keywords) == 0 {
				slog.Warn("wake engine oww is listed but wake.oww has no models; it will be skipped")
			}
		case "porcupine":
			if cfg.Wake.Porcupine.AccessKey == "" {
				slog.Warn("wake.porcupine.access_key is empty; falling back to the PICOVOICE_ACCESS_KEY environment variable")
			}
		case "text":
			if len(cfg.Wake.Text.Phrases) == 0 {
				slog.Warn("wake engine text is listed but wake.text.phrases is empty; it will be skipped")
			}
		}
	}

	// ASR
	if cfg.ASR.ServerURL == "" && cfg.ASR.Native.Model == "" {
		errs = append(errs, errors.New("asr.server_url or asr.native.model is required"))
	}

	// Gen
	if len(cfg.Gen.Backends) == 0 {
		errs = append(errs, errors.New("gen.backends requires at least one backend"))
	}
	for i, b := range cfg.Gen.Backends {
		prefix := fmt.Sprintf("gen.backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			validateBackendName("gen", b.Name)
		}
		if b.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if b.Name == "anyllm" && b.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required for the anyllm backend", prefix))
		}
		if b.Name == "openai" && b.APIKey == "" {
			slog.Warn("gen backend has no api_key; requests will be rejected unless the endpoint is open", "backend", b.Name, "model", b.Model)
		}
	}

	// TTS
	validateBackendName("tts", cfg.TTS.Backend)
	switch cfg.TTS.Backend {
	case "remote":
		if cfg.TTS.ServerURL == "" {
			errs = append(errs, errors.New("tts.server_url is required for the remote backend"))
		}
	default:
		// piper, or empty meaning piper
		if len(cfg.TTS.Voices) == 0 {
			errs = append(errs, errors.New("tts.voices requires at least one voice"))
		}
		for lang, v := range cfg.TTS.Voices {
			if v.Model == "" {
				errs = append(errs, fmt.Errorf("tts.voices.%s.model is required", lang))
			}
		}
	}

	// Session
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"session.idle_timeout", cfg.Session.IdleTimeout},
		{"session.echo_hold", cfg.Session.EchoHold},
		{"session.min_utterance", cfg.Session.MinUtterance},
		{"session.max_utterance", cfg.Session.MaxUtterance},
		{"session.silence_end", cfg.Session.SilenceEnd},
		{"barge.need_voice", cfg.Barge.NeedVoice},
		{"barge.arm_after", cfg.Barge.ArmAfter},
		{"barge.cooldown", cfg.Barge.Cooldown},
		{"exit.debounce", cfg.Exit.Debounce},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", d.name, d.value))
		}
	}
	if cfg.Session.MinUtterance > 0 && cfg.Session.MaxUtterance > 0 && cfg.Session.MinUtterance >= cfg.Session.MaxUtterance {
		errs = append(errs, fmt.Errorf("session.min_utterance %s must be shorter than session.max_utterance %s", cfg.Session.MinUtterance, cfg.Session.MaxUtterance))
	}

	// Barge VAD
	validateBackendName("vad", cfg.Barge.VAD.Backend)
	if cfg.Barge.VAD.Backend == "silero" && cfg.Barge.VAD.Model == "" {
		errs = append(errs, errors.New("barge.vad.model is required for the silero backend"))
	}

	// Stop spotters
	embed := cfg.Stop.Embed
	if (embed.MelModel == "") != (embed.EmbedModel == "") {
		errs = append(errs, errors.New("stop.embed.mel_model and stop.embed.embed_model are both required"))
	}
	if embed.MelModel != "" && embed.EmbedModel != "" {
		if len(embed.Heads) == 0 {
			errs = append(errs, errors.New("stop.embed.heads requires at least one head"))
		}
		for i, h := range embed.Heads {
			if h.Model == "" {
				errs = append(errs, fmt.Errorf("stop.embed.heads[%d].model is required", i))
			}
		}
	}

	// Exit phrases
	if !cfg.Exit.Disabled && len(cfg.Exit.Phrases) == 0 {
		slog.Warn("exit.phrases is empty; spoken exit detection is disabled")
	}
	for i, p := range cfg.Exit.Phrases {
		if p.Text == "" {
			errs = append(errs, fmt.Errorf("exit.phrases[%d].text is required", i))
		}
	}

	// Actions / MCP
	if mcp := cfg.Actions.MCP; mcp != nil {
		if mcp.Transport != "" && !mcp.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("actions.mcp.transport %q is invalid; valid values: stdio, streamable-http", mcp.Transport))
		}
		if mcp.Transport == actions.TransportStdio && mcp.Command == "" {
			errs = append(errs, errors.New("actions.mcp.command is required when transport is stdio"))
		}
		if mcp.Transport == actions.TransportStreamableHTTP && mcp.URL == "" {
			errs = append(errs, errors.New("actions.mcp.url is required when transport is streamable-http"))
		}
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name, possible typo",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
