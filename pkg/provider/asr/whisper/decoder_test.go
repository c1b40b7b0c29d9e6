package whisper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
)

// fakeInfer scripts per-language hypotheses and records every pass. Safe
// for the concurrent calls the bilingual path makes.
type fakeInfer struct {
	mu     sync.Mutex
	byLang map[string]hypothesis
	errs   map[string]error
	calls  []fakeCall
}

type fakeCall struct {
	lang    string
	samples int
}

func (f *fakeInfer) infer(_ context.Context, pcm []int16, lang string) (hypothesis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{lang: lang, samples: len(pcm)})
	if err := f.errs[lang]; err != nil {
		return hypothesis{}, err
	}
	return f.byLang[lang], nil
}

func (f *fakeInfer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newDecoder(f *fakeInfer, gate float64) *decoder {
	return &decoder{
		primary:   "en",
		secondary: "ro",
		gate:      gate,
		infer:     f.infer,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// paddedSpeech builds half a second of silence, 200 ms of loud sine, and
// half a second of silence again.
func paddedSpeech() []int16 {
	pcm := make([]int16, 8000+3200+8000)
	for i := 0; i < 3200; i++ {
		pcm[8000+i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return pcm
}

func TestScoreHypothesis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		segLPs    []float64
		wantAvgLP float64
		wantScore float64
	}{
		{
			name:      "no segments",
			text:      "",
			segLPs:    nil,
			wantAvgLP: -9.0,
			wantScore: -9.0,
		},
		{
			name:      "averages segments and adds length bonus",
			text:      "hello",
			segLPs:    []float64{-1.0, -3.0},
			wantAvgLP: -2.0,
			wantScore: -2.0 + 0.05,
		},
		{
			name:      "length bonus counts runes not bytes",
			text:      "bună", // 4 runes, 5 bytes
			segLPs:    []float64{-1.0},
			wantAvgLP: -1.0,
			wantScore: -1.0 + 0.04,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := scoreHypothesis(tt.text, "", tt.segLPs)
			if math.Abs(h.avgLP-tt.wantAvgLP) > 1e-9 {
				t.Errorf("avgLP = %v, want %v", h.avgLP, tt.wantAvgLP)
			}
			if math.Abs(h.score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", h.score, tt.wantScore)
			}
		})
	}
}

func TestBetter(t *testing.T) {
	t.Parallel()

	incumbent := hypothesis{text: "hello", score: -1.0}
	if better(hypothesis{text: "", score: 5.0}, incumbent) {
		t.Error("empty challenger must never win")
	}
	if better(hypothesis{text: "salut", score: -1.0}, incumbent) {
		t.Error("incumbent should win ties")
	}
	if !better(hypothesis{text: "salut", score: -0.5}, incumbent) {
		t.Error("higher-scoring challenger should win")
	}
}

func TestTrimSilenceKeepsSpeechWithPadding(t *testing.T) {
	t.Parallel()

	pcm := paddedSpeech()
	trimmed := trimSilence(pcm, defaultFilterRMS)

	if len(trimmed) < 3200 {
		t.Fatalf("trim cut into the speech: %d samples left, want >= 3200", len(trimmed))
	}
	maxKeep := 3200 + 2*filterPadFrames*filterFrame + 2*filterFrame
	if len(trimmed) > maxKeep {
		t.Fatalf("trim kept %d samples, want <= %d", len(trimmed), maxKeep)
	}
	if rms(trimmed) <= rms(pcm) {
		t.Error("trimmed audio should be denser in energy than the padded original")
	}
}

func TestTrimSilenceAllQuietReturnsNil(t *testing.T) {
	t.Parallel()

	if got := trimSilence(make([]int16, 16000), defaultFilterRMS); got != nil {
		t.Fatalf("want nil for all-silence input, got %d samples", len(got))
	}
}

func TestTrimSilenceAllSpeechUnchanged(t *testing.T) {
	t.Parallel()

	pcm := paddedSpeech()[8000 : 8000+3200]
	if got := trimSilence(pcm, defaultFilterRMS); len(got) != len(pcm) {
		t.Fatalf("want all %d samples kept, got %d", len(pcm), len(got))
	}
}

func TestDecodeRetriesOnFullBufferWhenGatedPassIsEmpty(t *testing.T) {
	t.Parallel()

	f := &fakeInfer{byLang: map[string]hypothesis{}}
	d := newDecoder(f, defaultFilterRMS)
	pcm := paddedSpeech()

	if _, err := d.decode(context.Background(), pcm, "en"); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(f.calls) != 2 {
		t.Fatalf("want 2 passes (gated then full), got %d", len(f.calls))
	}
	if f.calls[0].samples >= len(pcm) {
		t.Errorf("first pass saw %d samples, want fewer than the %d raw", f.calls[0].samples, len(pcm))
	}
	if f.calls[1].samples != len(pcm) {
		t.Errorf("retry saw %d samples, want the full %d", f.calls[1].samples, len(pcm))
	}
}

func TestDecodeSkipsRetryWhenHypothesisHasSegments(t *testing.T) {
	t.Parallel()

	f := &fakeInfer{byLang: map[string]hypothesis{
		"en": scoreHypothesis("hello", "en", []float64{-0.5}),
	}}
	d := newDecoder(f, defaultFilterRMS)

	h, err := d.decode(context.Background(), paddedSpeech(), "en")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.text != "hello" {
		t.Errorf("text = %q, want %q", h.text, "hello")
	}
	if got := f.callCount(); got != 1 {
		t.Fatalf("want 1 pass, got %d", got)
	}
}

func TestDecodeAllSilenceRunsOnePassOnRawBuffer(t *testing.T) {
	t.Parallel()

	f := &fakeInfer{byLang: map[string]hypothesis{}}
	d := newDecoder(f, defaultFilterRMS)
	pcm := make([]int16, 16000)

	if _, err := d.decode(context.Background(), pcm, "en"); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(f.calls) != 1 || f.calls[0].samples != len(pcm) {
		t.Fatalf("want exactly 1 pass on the raw buffer, got %+v", f.calls)
	}
}

func TestDecodeNegativeGateDisablesFilter(t *testing.T) {
	t.Parallel()

	f := &fakeInfer{byLang: map[string]hypothesis{}}
	d := newDecoder(f, -1)
	pcm := paddedSpeech()

	if _, err := d.decode(context.Background(), pcm, "en"); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(f.calls) != 1 || f.calls[0].samples != len(pcm) {
		t.Fatalf("want 1 unfiltered pass, got %+v", f.calls)
	}
}

func TestTranscribeEmptyAudioIsSilence(t *testing.T) {
	t.Parallel()

	f := &fakeInfer{}
	d := newDecoder(f, defaultFilterRMS)

	res, err := d.transcribe(context.Background(), nil, "en")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("want empty result, got %q", res.Text)
	}
	if got := f.callCount(); got != 0 {
		t.Errorf("want no passes for empty audio, got %d", got)
	}
}

func TestTranscribeBilingualPicksHigherScore(t *testing.T) {
	t.Parallel()

	f := &fakeInfer{byLang: map[string]hypothesis{
		"en": scoreHypothesis("salad", "", []float64{-1.2}),
		"ro": scoreHypothesis("salut", "", []float64{-0.3}),
	}}
	d := newDecoder(f, defaultFilterRMS)

	res, err := d.transcribeBilingual(context.Background(), paddedSpeech())
	if err != nil {
		t.Fatalf("transcribeBilingual: %v", err)
	}
	if res.Lang != "ro" || res.Text != "salut" {
		t.Errorf("got %q/%q, want the Romanian hypothesis", res.Lang, res.Text)
	}
	if math.Abs(res.Confidence-(-0.3)) > 1e-9 {
		t.Errorf("Confidence = %v, want the winner's avg log prob -0.3", res.Confidence)
	}
}

func TestTranscribeBilingualEmptySecondaryNeverWins(t *testing.T) {
	t.Parallel()

	f := &fakeInfer{byLang: map[string]hypothesis{
		"en": scoreHypothesis("quiet words", "", []float64{-2.0}),
		"ro": scoreHypothesis("", "", []float64{-0.1}),
	}}
	d := newDecoder(f, defaultFilterRMS)

	res, err := d.transcribeBilingual(context.Background(), paddedSpeech())
	if err != nil {
		t.Fatalf("transcribeBilingual: %v", err)
	}
	if res.Lang != "en" || res.Text != "quiet words" {
		t.Errorf("got %q/%q, want the primary hypothesis", res.Lang, res.Text)
	}
}

func TestTranscribeBilingualPropagatesPassError(t *testing.T) {
	t.Parallel()

	boom := errors.New("decode failed")
	f := &fakeInfer{
		byLang: map[string]hypothesis{"en": scoreHypothesis("hello", "", []float64{-0.5})},
		errs:   map[string]error{"ro": boom},
	}
	d := newDecoder(f, defaultFilterRMS)

	if _, err := d.transcribeBilingual(context.Background(), paddedSpeech()); !errors.Is(err, boom) {
		t.Fatalf("want the pass error, got %v", err)
	}
}
