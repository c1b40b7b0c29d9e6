// Package remote speaks through an HTTP synthesis server. Each utterance is
// one POST /synthesize call carrying {"text", "lang"}; the WAV response is
// decoded and written to the local playback device. The server operates in
// batch mode (one call per utterance), so streamed replies are
// double-buffered the same way the piper backend does it: the next chunk
// synthesizes over the network while the current one plays.
//
// The server keeps no utterance cache, so SayCached always reports a miss
// and callers fall back to Say.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/tts"
)

const (
	defaultTimeout = 30 * time.Second
	synthEndpoint  = "/synthesize"

	// synthAhead bounds how many synthesized chunks may wait for playback.
	synthAhead = 2
)

// Option is a functional option for configuring the engine.
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// ttsRequest is the JSON body sent to POST /synthesize.
type ttsRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// turn tracks one utterance so Stop can cancel exactly the one in flight.
type turn struct {
	cancel context.CancelFunc
}

// clip is one synthesized chunk staged for playback.
type clip struct {
	pcm  []int16
	rate int
}

// Engine implements tts.Synthesizer against a remote synthesis server.
type Engine struct {
	serverURL  string
	httpClient *http.Client
	player     audio.Player
	log        *slog.Logger

	mu       sync.Mutex
	speaking bool
	turn     *turn

	// playMu serializes the playback device across blocking and streamed
	// utterances.
	playMu sync.Mutex
}

// Ensure Engine implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Engine)(nil)

// New builds an engine that targets the synthesis server at serverURL
// (e.g. "http://localhost:5500").
func New(serverURL string, player audio.Player, log *slog.Logger, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("remote: serverURL must not be empty")
	}
	if player == nil {
		return nil, errors.New("remote: player is required")
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		player:     player,
		log:        log,
	}
	for _, o := range opts {
		o(e)
	}
	log.Info("remote synthesizer ready", "server", e.serverURL)
	return e, nil
}

// synthesize performs one POST /synthesize call and decodes the WAV reply.
func (e *Engine) synthesize(ctx context.Context, text, lang string) ([]int16, int, error) {
	data, err := json.Marshal(ttsRequest{Text: text, Lang: lang})
	if err != nil {
		return nil, 0, fmt.Errorf("remote: marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+synthEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("remote: create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("remote: POST %s: %w", synthEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("remote: POST %s returned status %d", synthEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("remote: read WAV response: %w", err)
	}
	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, 0, fmt.Errorf("remote: %w", err)
	}
	return pcm, rate, nil
}

// begin marks the engine speaking and arms the cancel hook Stop uses. The
// returned func must be called when the utterance ends.
func (e *Engine) begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	t := &turn{cancel: cancel}
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
// context, into a clean return.
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

	pcm, rate, err := e.synthesize(tctx, text, lang)
	if err != nil {
		return mapStop(ctx, tctx, err)
	}

	e.playMu.Lock()
	defer e.playMu.Unlock()
	e.log.Info("speaking", "chars", len(text), "lang", lang)
	return mapStop(ctx, tctx, e.player.Play(tctx, pcm, rate))
}

// SayStream double-buffers a chunk stream over the network: the producer
// posts the next chunk while the consumer plays the current one in order.
// onDone fires after the stream drains or is stopped.
func (e *Engine) SayStream(ctx context.Context, chunks <-chan string, lang string, onFirstSpeak, onDone func()) error {
	// A new stream supersedes whatever is still in flight.
	e.Stop()
	tctx, done := e.begin(ctx)

	clips := make(chan clip, synthAhead)

	go func() {
		defer close(clips)
		for chunk := range chunks {
			if tctx.Err() != nil {
				return
			}
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			pcm, rate, err := e.synthesize(tctx, chunk, lang)
			if err != nil {
				if tctx.Err() == nil {
					e.log.Warn("chunk synthesis failed", "error", err)
				}
				continue
			}
			select {
			case clips <- clip{pcm: pcm, rate: rate}:
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
		for c := range clips {
			if tctx.Err() != nil {
				continue
			}
			if first {
				first = false
				if onFirstSpeak != nil {
					onFirstSpeak()
				}
			}
			e.playMu.Lock()
			err := e.player.Play(tctx, c.pcm, c.rate)
			e.playMu.Unlock()
			if err != nil && tctx.Err() == nil {
				e.log.Warn("chunk playback failed", "error", err)
			}
		}
	}()

	return nil
}

// SayCached always reports a miss: the remote server keeps no cache.
func (e *Engine) SayCached(ctx context.Context, key, lang string) bool {
	return false
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
