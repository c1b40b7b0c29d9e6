// Package anyllm streams replies through github.com/mozilla-ai/any-llm-go,
// a unified client for OpenAI, Anthropic, Gemini, Ollama, DeepSeek,
// Mistral, Groq, llama.cpp and llamafile backends. It is the path for
// running against a local model server without speaking its native API.
package anyllm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/urecho/urecho/pkg/provider/gen"
)

// Config tunes the backend. Zero values fall back to documented defaults.
type Config struct {
	// Provider names the upstream: one of "openai", "anthropic",
	// "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp",
	// "llamafile". Required.
	Provider string

	// Model names the model served by that provider. Required.
	Model string

	// APIKey authenticates cloud providers. Empty falls back to the
	// provider's environment variable (OPENAI_API_KEY and friends);
	// local servers need none.
	APIKey string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// Temperature is the sampling temperature for creative mode. Precise
	// mode always samples at zero. Default 0.4.
	Temperature float64

	// MaxTokens caps the reply length. Default 120.
	MaxTokens int

	// MaxHistoryTurns bounds how many prior exchanges are replayed to the
	// model. Zero keeps the default of 5; negative disables history.
	MaxHistoryTurns int

	// SystemPrompt is the base instruction. The current date and the
	// mode guardrail are added around it on every request.
	SystemPrompt string

	// Fallbacks localizes the canned sentences spoken on failure.
	Fallbacks gen.Fallbacks

	// WarmupText, when set for a local provider, is sent as a throwaway
	// five-token completion at construction so the first real turn does
	// not pay the model load.
	WarmupText string
}

func (c Config) withDefaults() Config {
	if c.Temperature <= 0 {
		c.Temperature = 0.4
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 120
	}
	if c.MaxHistoryTurns == 0 {
		c.MaxHistoryTurns = 5
	}
	return c
}

// Generator implements gen.Generator on top of an any-llm-go provider.
type Generator struct {
	cfg      Config
	backend  anyllmlib.Provider
	inflight gen.Inflight
	log      *slog.Logger
}

// Ensure Generator implements gen.Generator at compile time.
var _ gen.Generator = (*Generator)(nil)

// New constructs a Generator for the configured provider and model.
func New(cfg Config, log *slog.Logger) (*Generator, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("anyllm: provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anyllm: model is required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}

	backend, err := createBackend(cfg.Provider, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", cfg.Provider, err)
	}

	g := &Generator{
		cfg:     cfg,
		backend: backend,
		log:     log.With("provider", cfg.Provider, "model", cfg.Model),
	}
	if cfg.WarmupText != "" && localProvider(cfg.Provider) {
		go g.warm()
	}
	return g, nil
}

// createBackend maps a provider name onto its any-llm-go constructor.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", name)
	}
}

// localProvider reports whether the provider loads a model into local
// memory and therefore benefits from a warm-up request.
func localProvider(name string) bool {
	switch strings.ToLower(name) {
	case "ollama", "llamacpp", "llamafile":
		return true
	}
	return false
}

// warm issues a throwaway completion so the server pages the model in.
func (g *Generator) warm() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()
	five := 5
	_, err := g.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: g.cfg.Model,
		Messages: []anyllmlib.Message{
			{Role: gen.RoleUser, Content: g.cfg.WarmupText},
		},
		MaxTokens: &five,
	})
	if err != nil {
		g.log.Warn("model warm-up failed", "error", err)
		return
	}
	g.log.Info("model warmed up", "took", time.Since(start))
}

// GenerateStream implements gen.Generator.
func (g *Generator) GenerateStream(ctx context.Context, req gen.Request) (<-chan string, error) {
	sctx, cancel := context.WithCancel(ctx)
	release := g.inflight.Add(cancel)

	backendChunks, backendErrs := g.backend.CompletionStream(sctx, g.buildParams(req))

	ch := make(chan string, 32)
	go func() {
		defer close(ch)
		defer cancel()
		defer release()

		start := time.Now()
		spoke := false
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			tok := chunk.Choices[0].Delta.Content
			if tok == "" {
				continue
			}
			if !spoke {
				spoke = true
				g.log.Debug("first token", "took", time.Since(start))
			}
			select {
			case ch <- tok:
			case <-sctx.Done():
				return
			}
		}

		// Backend errors arrive after the chunk channel drains.
		if err := <-backendErrs; err != nil && sctx.Err() == nil {
			g.log.Error("reply stream failed", "error", err)
			select {
			case ch <- g.cfg.Fallbacks.Lookup(gen.FallbackError, req.Lang):
			case <-sctx.Done():
			}
			return
		}
		if spoke {
			g.log.Debug("stream completed", "took", time.Since(start))
		}
	}()

	return ch, nil
}

// Stop implements gen.Generator.
func (g *Generator) Stop() {
	g.inflight.StopAll()
}

func (g *Generator) buildParams(req gen.Request) anyllmlib.CompletionParams {
	mode := req.Mode
	if mode == "" {
		mode = gen.ModePrecise
	}
	unknown := g.cfg.Fallbacks.Lookup(gen.FallbackUnknown, req.Lang)

	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: gen.SystemPrompt(g.cfg.SystemPrompt, mode, unknown)},
	}
	for _, t := range gen.TrimHistory(req.History, g.cfg.MaxHistoryTurns) {
		role := t.Role
		if role != gen.RoleAssistant {
			role = gen.RoleUser
		}
		messages = append(messages, anyllmlib.Message{Role: role, Content: t.Text})
	}
	messages = append(messages, anyllmlib.Message{Role: gen.RoleUser, Content: req.Prompt})

	temperature := 0.0
	if mode != gen.ModePrecise {
		temperature = g.cfg.Temperature
	}
	maxTokens := g.cfg.MaxTokens
	return anyllmlib.CompletionParams{
		Model:       g.cfg.Model,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
}
