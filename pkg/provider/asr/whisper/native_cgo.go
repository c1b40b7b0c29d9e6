//go:build whispercpp

// In-process inference linked against whisper.cpp. The static library
// (libwhisper.a) and header (whisper.h) must be reachable through
// LIBRARY_PATH and C_INCLUDE_PATH at build time.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/asr"
)

// native runs whisper.cpp in process. The model is loaded once and shared;
// each decoding pass gets its own context, so the two passes of a
// bilingual call run concurrently without interference.
type native struct {
	cfg   NativeConfig
	model whisperlib.Model
	dec   decoder
	log   *slog.Logger
}

var _ asr.Transcriber = (*native)(nil)
var _ io.Closer = (*native)(nil)

// NewNative loads the GGML model at cfg.ModelPath and returns an
// in-process transcriber. The returned value also implements io.Closer;
// closing it releases the model.
func NewNative(cfg NativeConfig, log *slog.Logger) (asr.Transcriber, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	cfg = cfg.withDefaults()

	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", cfg.ModelPath, err)
	}

	n := &native{cfg: cfg, model: model, log: log}
	n.dec = decoder{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		gate:      cfg.FilterRMS,
		infer:     n.infer,
		log:       log,
	}
	return n, nil
}

// Close releases the model.
func (n *native) Close() error { return n.model.Close() }

func (n *native) Transcribe(ctx context.Context, pcm []int16, langHint string) (asr.Result, error) {
	return n.dec.transcribe(ctx, pcm, langHint)
}

func (n *native) TranscribeBilingual(ctx context.Context, pcm []int16) (asr.Result, error) {
	return n.dec.transcribeBilingual(ctx, pcm)
}

// infer runs one whisper.cpp pass. The underlying call is a blocking C
// routine, so cancellation is observed only between passes.
func (n *native) infer(ctx context.Context, pcm []int16, lang string) (hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return hypothesis{}, err
	}
	started := time.Now()

	wctx, err := n.model.NewContext()
	if err != nil {
		return hypothesis{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		n.log.Warn("language not accepted, using model default", "lang", lang, "error", err)
	}

	if err := wctx.Process(audio.Int16ToFloat32(pcm), nil, nil, nil); err != nil {
		return hypothesis{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts  []string
		segLPs []float64
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return hypothesis{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
		segLPs = append(segLPs, tokensAvgLogProb(seg.Tokens))
	}

	// The bindings do not report the detected language, so auto passes
	// leave it empty; the bilingual path names its own winner.
	h := scoreHypothesis(strings.Join(parts, " "), "", segLPs)
	n.log.Debug("native pass",
		"lang", lang, "segments", h.segments, "score", h.score, "took", time.Since(started))
	return h, nil
}

// tokensAvgLogProb folds per-token probabilities into the segment-level
// log probability the scorer expects.
func tokensAvgLogProb(tokens []whisperlib.Token) float64 {
	if len(tokens) == 0 {
		return unknownSegLogProb
	}
	var sum float64
	for _, t := range tokens {
		p := float64(t.P)
		if p <= 0 {
			sum += unknownSegLogProb
			continue
		}
		sum += math.Log(p)
	}
	return sum / float64(len(tokens))
}
