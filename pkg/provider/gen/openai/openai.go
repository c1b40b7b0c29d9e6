// Package openai streams replies from an OpenAI-compatible chat
// completion endpoint. Pointing BaseURL at Groq or a local gateway works
// unchanged; the wire protocol is the same.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/urecho/urecho/pkg/provider/gen"
)

// Config tunes the backend. Zero values fall back to documented defaults.
type Config struct {
	// APIKey authenticates against the endpoint. Required.
	APIKey string

	// Model names the chat model to complete with. Required.
	Model string

	// BaseURL points the client at a compatible endpoint. Empty uses the
	// official OpenAI API.
	BaseURL string

	// Organization is sent on every request when set.
	Organization string

	// Timeout bounds one whole completion. Default 60s.
	Timeout time.Duration

	// Temperature is the sampling temperature for creative mode. Precise
	// mode always samples at zero. Default 0.4.
	Temperature float64

	// MaxTokens caps the reply length. Default 120; replies are spoken,
	// long ones wear thin.
	MaxTokens int

	// MaxHistoryTurns bounds how many prior exchanges are replayed to the
	// model. Zero keeps the default of 5; negative disables history.
	MaxHistoryTurns int

	// SystemPrompt is the base instruction. The current date and the
	// mode guardrail are added around it on every request.
	SystemPrompt string

	// Fallbacks localizes the canned sentences spoken on failure.
	Fallbacks gen.Fallbacks
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
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

// Generator implements gen.Generator against a chat completion API.
type Generator struct {
	cfg      Config
	client   oai.Client
	inflight gen.Inflight
	log      *slog.Logger
}

// Ensure Generator implements gen.Generator at compile time.
var _ gen.Generator = (*Generator)(nil)

// New constructs a Generator for the configured endpoint.
func New(cfg Config, log *slog.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.Organization))
	}

	return &Generator{
		cfg:    cfg,
		client: oai.NewClient(reqOpts...),
		log:    log.With("provider", "openai", "model", cfg.Model),
	}, nil
}

// GenerateStream implements gen.Generator.
func (g *Generator) GenerateStream(ctx context.Context, req gen.Request) (<-chan string, error) {
	sctx, cancel := context.WithCancel(ctx)
	release := g.inflight.Add(cancel)

	stream := g.client.Chat.Completions.NewStreaming(sctx, g.buildParams(req))
	if err := stream.Err(); err != nil {
		stream.Close()
		release()
		cancel()
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan string, 32)
	go func() {
		defer close(ch)
		defer cancel()
		defer release()
		defer stream.Close()

		start := time.Now()
		spoke := false
		for stream.Next() {
			chunk := stream.Current()
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

		if err := stream.Err(); err != nil && sctx.Err() == nil {
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

func (g *Generator) buildParams(req gen.Request) oai.ChatCompletionNewParams {
	mode := req.Mode
	if mode == "" {
		mode = gen.ModePrecise
	}
	unknown := g.cfg.Fallbacks.Lookup(gen.FallbackUnknown, req.Lang)

	messages := []oai.ChatCompletionMessageParamUnion{
		oai.SystemMessage(gen.SystemPrompt(g.cfg.SystemPrompt, mode, unknown)),
	}
	for _, t := range gen.TrimHistory(req.History, g.cfg.MaxHistoryTurns) {
		switch t.Role {
		case gen.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(t.Text))
		default:
			messages = append(messages, oai.UserMessage(t.Text))
		}
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	temperature := 0.0
	if mode != gen.ModePrecise {
		temperature = g.cfg.Temperature
	}
	return oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(g.cfg.Model),
		Messages:            messages,
		Temperature:         param.NewOpt(temperature),
		MaxCompletionTokens: param.NewOpt(int64(g.cfg.MaxTokens)),
	}
}
