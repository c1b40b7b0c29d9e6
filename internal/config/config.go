// Package config provides the configuration schema, loader, and backend
// registry for the urecho voice front end.
package config

import (
	"time"

	"github.com/urecho/urecho/internal/actions"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log output encoding.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root configuration structure for urecho.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Audio   AudioConfig   `yaml:"audio"`
	Wake    WakeConfig    `yaml:"wake"`
	ASR     ASRConfig     `yaml:"asr"`
	Gen     GenConfig     `yaml:"gen"`
	TTS     TTSConfig     `yaml:"tts"`
	Session SessionConfig `yaml:"session"`
	Barge   BargeConfig   `yaml:"barge"`
	Stop    StopConfig    `yaml:"stop"`
	Exit    ExitConfig    `yaml:"exit"`
	Actions ActionsConfig `yaml:"actions"`
	History HistoryConfig `yaml:"history"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// Format selects the handler encoding, "text" or "json".
	Format LogFormat `yaml:"format"`
}

// AudioConfig selects the capture backend and the microphone stream shape.
type AudioConfig struct {
	// Backend selects the capture backend, "malgo" or "pulse". Playback
	// always goes through malgo; pulse captures only.
	Backend string `yaml:"backend"`

	// Source names the PulseAudio source to record from (e.g.,
	// "alsa_input.usb-0001"). Empty uses the server default. Ignored by
	// the malgo backend.
	Source string `yaml:"source"`

	// SampleRate of the capture stream in Hz. The detection and
	// recognition models are trained on 16 kHz audio.
	SampleRate int `yaml:"sample_rate"`

	// BlockMs is the capture frame duration in milliseconds.
	BlockMs int `yaml:"block_ms"`

	// QueueDepth bounds the frame channel between the capture callback
	// and consumers. Zero uses the backend default.
	QueueDepth int `yaml:"queue_depth"`
}

// WakeConfig configures standby wake detection.
type WakeConfig struct {
	// Engines lists detection engines in preference order. Engines that
	// fail to start are skipped with a warning; at least one must come
	// up. Valid names: oww, porcupine, text.
	Engines []string `yaml:"engines"`

	// PollTimeout is how long one standby poll waits for a detection
	// before the loop checks for shutdown.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// SubTimeout is the per-engine slice when several engines share one
	// poll.
	SubTimeout time.Duration `yaml:"sub_timeout"`

	// Acknowledgements maps language codes to the short confirmation
	// spoken when a wake phrase is accepted (e.g., en: "Yes?").
	Acknowledgements map[string]string `yaml:"acknowledgements"`

	OWW       OWWConfig       `yaml:"oww"`
	Porcupine PorcupineConfig `yaml:"porcupine"`
	Text      TextWakeConfig  `yaml:"text"`
}

// WakeKeyword describes one trained wake phrase model. Threshold applies to
// the oww engine, Sensitivity to porcupine.
type WakeKeyword struct {
	// ID identifies the keyword in logs and detections. Defaults to the
	// model file stem.
	ID string `yaml:"id"`

	// Model is the keyword model file on disk.
	Model string `yaml:"model"`

	// Lang is the language the phrase is spoken in ("en", "ro").
	Lang string `yaml:"lang"`

	// Threshold is the oww acceptance probability. Zero keeps 0.5.
	Threshold float64 `yaml:"threshold"`

	// Sensitivity is the porcupine detection sensitivity. Zero keeps 0.5.
	Sensitivity float32 `yaml:"sensitivity"`

	// Cooldown suppresses repeat detections of the same keyword.
	Cooldown time.Duration `yaml:"cooldown"`
}

// OWWConfig configures the openWakeWord engine.
type OWWConfig struct {
	// MelModel is the shared melspectrogram model file.
	MelModel string `yaml:"mel_model"`

	// EmbedModel is the shared speech embedding model file.
	EmbedModel string `yaml:"embed_model"`

	Keywords []WakeKeyword `yaml:"keywords"`
}

// PorcupineConfig configures the Picovoice Porcupine engine.
type PorcupineConfig struct {
	// AccessKey authenticates against Picovoice. Empty falls back to the
	// PICOVOICE_ACCESS_KEY environment variable.
	AccessKey string `yaml:"access_key"`

	Keywords []WakeKeyword `yaml:"keywords"`
}

// TextWakeConfig configures the transcription-based fallback engine.
type TextWakeConfig struct {
	// Phrases lists the spoken wake phrases matched against transcripts.
	Phrases []PhraseConfig `yaml:"phrases"`

	// Threshold is the fuzzy match score (0-100) a transcript must reach.
	// Zero keeps the engine default.
	Threshold int `yaml:"threshold"`
}

// PhraseConfig is a spoken phrase with its language. Confirm is only
// meaningful for exit phrases.
type PhraseConfig struct {
	Text string `yaml:"text"`

	// Lang the phrase is spoken in. Defaults to "en".
	Lang string `yaml:"lang"`

	// Confirm makes the detector speak a confirmation before leaving the
	// session instead of exiting silently.
	Confirm bool `yaml:"confirm"`
}

// ASRConfig configures speech recognition.
type ASRConfig struct {
	// ServerURL is the whisper-server endpoint (e.g.,
	// "http://127.0.0.1:8080"). Required unless native.model is set.
	ServerURL string `yaml:"server_url"`

	// Primary and Secondary are the two languages bilingual recognition
	// arbitrates between. Default "en" and "ro".
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`

	// FilterRMS is the silence gate in 16-bit PCM units. Zero keeps the
	// default; negative disables the gate.
	FilterRMS float64 `yaml:"filter_rms"`

	// Timeout bounds one inference request.
	Timeout time.Duration `yaml:"timeout"`

	// Native configures the in-process whisper.cpp fallback used when
	// the server is unreachable.
	Native NativeASRConfig `yaml:"native"`

	// Commands lists known command phrases. Transcripts close to one of
	// them are snapped to it before interpretation, recovering from
	// near-miss recognition.
	Commands []string `yaml:"commands"`
}

// NativeASRConfig configures the in-process whisper.cpp transcriber.
type NativeASRConfig struct {
	// Model is the GGML model file. Empty leaves the native fallback off.
	Model string `yaml:"model"`
}

// GenConfig configures reply generation.
type GenConfig struct {
	// Backends lists generation backends in preference order. The first
	// is primary; the rest take over when it fails.
	Backends []GenBackendConfig `yaml:"backends"`

	// MaxHistoryTurns bounds how many prior exchanges are replayed to
	// the model. Zero keeps the backend default; negative disables
	// history.
	MaxHistoryTurns int `yaml:"max_history_turns"`

	// Fallbacks localizes the canned sentences spoken on failure, keyed
	// by "<kind>_<lang>" (e.g., error_ro, unknown_en).
	Fallbacks map[string]string `yaml:"fallbacks"`
}

// GenBackendConfig describes one reply backend.
type GenBackendConfig struct {
	// Name selects the backend implementation, "openai" or "anyllm".
	Name string `yaml:"name"`

	// APIKey authenticates against the endpoint. Local servers need
	// none.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model names the chat model to complete with.
	Model string `yaml:"model"`

	// Provider names the upstream for the anyllm backend ("ollama",
	// "anthropic", ...). Ignored by openai.
	Provider string `yaml:"provider"`

	// Temperature is the sampling temperature for creative mode.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the reply length.
	MaxTokens int `yaml:"max_tokens"`

	// SystemPrompt is the base instruction for this backend.
	SystemPrompt string `yaml:"system_prompt"`

	// Timeout bounds one whole completion. Only the openai backend
	// honours it today.
	Timeout time.Duration `yaml:"timeout"`
}

// TTSConfig configures speech synthesis and playback shaping.
type TTSConfig struct {
	// Backend selects the synthesizer, "piper" or "remote".
	Backend string `yaml:"backend"`

	// Exe is the piper binary. Looked up on PATH when empty.
	Exe string `yaml:"exe"`

	// ServerURL is the synthesis endpoint for the remote backend.
	ServerURL string `yaml:"server_url"`

	// Voices maps language codes to voice models. The first language in
	// sorted order is the fallback for languages without a voice.
	Voices map[string]VoiceConfig `yaml:"voices"`

	// SampleRate is the PCM rate the voice models emit.
	SampleRate int `yaml:"sample_rate"`

	// SentenceGap is the pause between streamed chunks.
	SentenceGap time.Duration `yaml:"sentence_gap"`

	// CacheDir holds pre-rendered WAVs for instant prompts. Empty
	// disables the cache.
	CacheDir string `yaml:"cache_dir"`

	// Phrases maps cache keys to the text rendered into the cache at
	// startup. The key's "_<lang>" suffix picks the voice: ack_en,
	// ack_ro, filler_en, exit_en and so on.
	Phrases map[string]string `yaml:"phrases"`

	// WarmupText is synthesized and discarded at startup so the first
	// real utterance does not pay the model load cost.
	WarmupText string `yaml:"warmup_text"`

	// WarmupLang selects the warmup voice.
	WarmupLang string `yaml:"warmup_lang"`

	Shaper      ShaperConfig      `yaml:"shaper"`
	Backchannel BackchannelConfig `yaml:"backchannel"`
}

// VoiceConfig specifies one synthesis voice.
type VoiceConfig struct {
	// Model is the voice model file on disk.
	Model string `yaml:"model"`

	// Config is the model's config file. Backends that derive it from
	// the model path may leave it empty.
	Config string `yaml:"config"`

	// Speaker selects a speaker in multi-speaker models. Zero picks the
	// model default.
	Speaker int `yaml:"speaker"`
}

// ShaperConfig tunes how the token stream is regrouped into speakable
// chunks. Zero values keep the shaper defaults.
type ShaperConfig struct {
	// PrebufferChars is how much text the first chunk gathers before
	// speech may start.
	PrebufferChars int `yaml:"prebuffer_chars"`

	// MinChunkChars is the minimum size of follow-up chunks.
	MinChunkChars int `yaml:"min_chunk_chars"`

	// SoftMaxChars is the size at which a chunk is cut even without a
	// sentence boundary.
	SoftMaxChars int `yaml:"soft_max_chars"`

	// MinCutChars is the minimum chunk emitted on a boundary cut.
	MinCutChars int `yaml:"min_cut_chars"`

	// MaxIdle flushes a pending chunk when no token arrives for this
	// long.
	MaxIdle time.Duration `yaml:"max_idle"`
}

// BackchannelConfig tunes the filler spoken while a slow reply is
// still being generated.
type BackchannelConfig struct {
	Disabled bool `yaml:"disabled"`

	// Delay is how long the coordinator waits for the first chunk before
	// speaking the filler.
	Delay time.Duration `yaml:"delay"`
}

// SessionConfig tunes in-session conversation behaviour.
type SessionConfig struct {
	// IdleTimeout returns the session to standby when the user says
	// nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxTurns bounds the conversation history kept for the model.
	MaxTurns int `yaml:"max_turns"`

	// EchoHold pauses standby detection after a session ends, while the
	// last reply's echo dies down.
	EchoHold time.Duration `yaml:"echo_hold"`

	// MinUtterance is the shortest voiced stretch treated as speech.
	MinUtterance time.Duration `yaml:"min_utterance"`

	// MaxUtterance caps one recorded utterance.
	MaxUtterance time.Duration `yaml:"max_utterance"`

	// SilenceEnd is the trailing silence that ends an utterance.
	SilenceEnd time.Duration `yaml:"silence_end"`
}

// BargeConfig configures barge-in detection during playback.
type BargeConfig struct {
	Disabled bool `yaml:"disabled"`

	VAD VADConfig `yaml:"vad"`

	// NeedVoice is the accumulated voice that counts as a deliberate
	// interruption.
	NeedVoice time.Duration `yaml:"need_voice"`

	// ArmAfter suppresses detection for this long after playback starts.
	ArmAfter time.Duration `yaml:"arm_after"`

	// Cooldown is the minimum spacing between two interruptions.
	Cooldown time.Duration `yaml:"cooldown"`

	// MinRMSDBFS is the absolute energy floor below which frames are
	// never voice. Zero keeps the default.
	MinRMSDBFS float64 `yaml:"min_rms_dbfs"`

	// QueueDepth bounds the listener's capture channel.
	QueueDepth int `yaml:"queue_depth"`
}

// VADConfig selects the voice activity detector.
type VADConfig struct {
	// Backend is "silero" or "energy". Silero needs a model; energy is
	// the zero-dependency fallback.
	Backend string `yaml:"backend"`

	// Model is the silero ONNX model file.
	Model string `yaml:"model"`
}

// StopConfig configures in-speech stop keyword spotting. Both spotters may
// run at once; either empty block leaves that spotter off.
type StopConfig struct {
	Phrase PhraseSpotterConfig `yaml:"phrase"`
	Embed  EmbedSpotterConfig  `yaml:"embed"`
}

// PhraseSpotterConfig configures the two-class stop classifier.
type PhraseSpotterConfig struct {
	// Model is the classifier ONNX file. Empty leaves the spotter off.
	Model string `yaml:"model"`

	// Keyword is the label reported on detection.
	Keyword string `yaml:"keyword"`

	// ProbThreshold is the positive-class probability required.
	ProbThreshold float64 `yaml:"prob_threshold"`

	// LogitMargin is how far the positive logit must clear the negative.
	LogitMargin float64 `yaml:"logit_margin"`

	// HitsRequired is how many consecutive windows must agree.
	HitsRequired int `yaml:"hits_required"`

	// Cooldown suppresses repeat detections.
	Cooldown time.Duration `yaml:"cooldown"`

	// EndsSession returns to standby on detection instead of only
	// cutting the current reply.
	EndsSession bool `yaml:"ends_session"`
}

// EmbedSpotterConfig configures the embedding-head spotter.
type EmbedSpotterConfig struct {
	// MelModel and EmbedModel are the shared front-end model files.
	// Both empty leaves the spotter off.
	MelModel   string `yaml:"mel_model"`
	EmbedModel string `yaml:"embed_model"`

	Heads []SpotterHeadConfig `yaml:"heads"`

	// HitsRequired is how many consecutive windows must agree.
	HitsRequired int `yaml:"hits_required"`

	// Cooldown suppresses repeat detections.
	Cooldown time.Duration `yaml:"cooldown"`
}

// SpotterHeadConfig is one keyword head on the shared embedding front end.
type SpotterHeadConfig struct {
	// Model is the head ONNX file.
	Model string `yaml:"model"`

	// Keyword is the label reported on detection.
	Keyword string `yaml:"keyword"`

	// Threshold is the acceptance probability. Zero keeps 0.5.
	Threshold float64 `yaml:"threshold"`

	// EndsSession returns to standby on detection instead of only
	// cutting the current reply.
	EndsSession bool `yaml:"ends_session"`
}

// ExitConfig configures spoken exit phrase detection.
type ExitConfig struct {
	Disabled bool `yaml:"disabled"`

	// Phrases lists the spoken exit phrases (e.g., "goodbye robot").
	Phrases []PhraseConfig `yaml:"phrases"`

	// Threshold is the fuzzy match score (0-100) a transcript must
	// reach. Zero keeps the detector default.
	Threshold int `yaml:"threshold"`

	// Debounce ignores repeat matches arriving within this window.
	Debounce time.Duration `yaml:"debounce"`

	// MinChars ignores transcripts shorter than this.
	MinChars int `yaml:"min_chars"`
}

// ActionsConfig configures control directive dispatch.
type ActionsConfig struct {
	// QueueDepth bounds the directive queue. Zero uses the pump default.
	QueueDepth int `yaml:"queue_depth"`

	// MCP connects directives to a Model Context Protocol tool server.
	// Nil dispatches to the log only.
	MCP *MCPConfig `yaml:"mcp"`
}

// MCPConfig describes the MCP tool server connection.
type MCPConfig struct {
	// Transport selects the connection mechanism, "stdio" or
	// "streamable-http".
	Transport actions.Transport `yaml:"transport"`

	// Command is the executable plus arguments launched for the stdio
	// transport, in shell-word form.
	Command string `yaml:"command"`

	// URL is the endpoint for the streamable-http transport.
	URL string `yaml:"url"`

	// Env holds extra environment variables for the stdio subprocess.
	Env map[string]string `yaml:"env"`

	// CallTimeout bounds a single tool call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// HistoryConfig configures the conversation history store.
type HistoryConfig struct {
	// DSN is the PostgreSQL connection string, for example
	// "postgres://urecho@localhost:5432/urecho?sslmode=disable".
	// Empty disables history persistence.
	DSN string `yaml:"dsn"`
}

// MonitorConfig configures the local observability endpoint.
type MonitorConfig struct {
	Disabled bool `yaml:"disabled"`

	// Addr is the listen address. Zero keeps the loopback default.
	Addr string `yaml:"addr"`
}
