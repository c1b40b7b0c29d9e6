package whisper

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/urecho/urecho/pkg/provider/asr"
)

const (
	// emptyPassLogProb is the score floor for a pass that produced no
	// segments at all.
	emptyPassLogProb = -9.0

	// unknownSegLogProb substitutes for segments that report no log
	// probability.
	unknownSegLogProb = -5.0

	// lengthBonus rewards longer transcripts, 0.01 per character, so
	// that between two plausible decodings the one that heard more wins.
	lengthBonus = 0.01
)

// hypothesis is one scored decoding pass.
type hypothesis struct {
	text     string
	lang     string
	avgLP    float64
	score    float64
	segments int
}

// scoreHypothesis fills in avgLP and score from the per-segment log
// probabilities. lang is whatever the backend reported, possibly empty.
func scoreHypothesis(text, lang string, segLPs []float64) hypothesis {
	h := hypothesis{text: text, lang: lang, segments: len(segLPs)}
	if len(segLPs) == 0 {
		h.avgLP = emptyPassLogProb
	} else {
		var sum float64
		for _, lp := range segLPs {
			sum += lp
		}
		h.avgLP = sum / float64(len(segLPs))
	}
	h.score = h.avgLP + lengthBonus*float64(utf8.RuneCountInString(text))
	return h
}

// better reports whether the challenger beats the incumbent. The incumbent
// wins ties, and an empty challenger never wins.
func better(challenger, incumbent hypothesis) bool {
	return challenger.text != "" && challenger.score > incumbent.score
}

// inferFunc runs one decoding pass on a backend. lang may be empty for
// auto-detection.
type inferFunc func(ctx context.Context, pcm []int16, lang string) (hypothesis, error)

// decoder implements the gate, retry and arbitration flow shared by the
// HTTP and in-process backends. The silence gate keeps room tone away from
// the model; a gated pass that decodes to nothing is retried once on the
// raw buffer so an over-eager gate cannot eat a quiet speaker.
type decoder struct {
	primary   string
	secondary string
	gate      float64
	infer     inferFunc
	log       *slog.Logger
}

func (d *decoder) transcribe(ctx context.Context, pcm []int16, langHint string) (asr.Result, error) {
	h, err := d.decode(ctx, pcm, langHint)
	if err != nil {
		return asr.Result{}, err
	}
	if h.text == "" {
		return asr.Result{}, nil
	}
	lang := langHint
	if lang == "" {
		lang = h.lang
	}
	return asr.Result{Text: h.text, Lang: lang, Confidence: h.avgLP}, nil
}

func (d *decoder) transcribeBilingual(ctx context.Context, pcm []int16) (asr.Result, error) {
	var primary, secondary hypothesis
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primary, err = d.decode(gctx, pcm, d.primary)
		return err
	})
	g.Go(func() error {
		var err error
		secondary, err = d.decode(gctx, pcm, d.secondary)
		return err
	})
	if err := g.Wait(); err != nil {
		return asr.Result{}, err
	}

	winner := primary
	winner.lang = d.primary
	if better(secondary, primary) {
		winner = secondary
		winner.lang = d.secondary
	}
	d.log.Debug("bilingual arbitration",
		"primary_score", primary.score,
		"secondary_score", secondary.score,
		"lang", winner.lang)
	if winner.text == "" {
		return asr.Result{}, nil
	}
	return asr.Result{Text: winner.text, Lang: winner.lang, Confidence: winner.avgLP}, nil
}

// decode runs one scored pass on the gated audio, falling back to the raw
// buffer when the gate removed everything or the gated pass heard nothing.
func (d *decoder) decode(ctx context.Context, pcm []int16, lang string) (hypothesis, error) {
	if len(pcm) == 0 {
		return hypothesis{}, nil
	}
	filtered := pcm
	if d.gate > 0 {
		filtered = trimSilence(pcm, d.gate)
		if len(filtered) == 0 {
			filtered = pcm
		}
	}

	h, err := d.infer(ctx, filtered, lang)
	if err != nil {
		return hypothesis{}, err
	}
	if h.segments == 0 && len(filtered) < len(pcm) {
		d.log.Debug("gated pass heard nothing, retrying on the full buffer", "lang", lang)
		return d.infer(ctx, pcm, lang)
	}
	return h, nil
}
