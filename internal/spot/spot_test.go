package spot

import (
	"math"
	"testing"
	"time"
)

func TestSoftmax2(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		a, b   float64
		wantPA float64
		wantPB float64
	}{
		{name: "equal logits", a: 1.5, b: 1.5, wantPA: 0.5, wantPB: 0.5},
		{name: "one unit apart", a: 1000, b: 999, wantPA: 0.7310585786, wantPB: 0.2689414214},
		{name: "wide margin", a: -10, b: 10, wantPA: 0, wantPB: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pa, pb := softmax2(tt.a, tt.b)
			if math.Abs(pa-tt.wantPA) > 1e-6 || math.Abs(pb-tt.wantPB) > 1e-6 {
				t.Fatalf("softmax2(%v, %v) = (%v, %v), want (%v, %v)", tt.a, tt.b, pa, pb, tt.wantPA, tt.wantPB)
			}
			if sum := pa + pb; math.Abs(sum-1) > 1e-9 {
				t.Fatalf("probabilities sum to %v, want 1", sum)
			}
		})
	}
}

func TestRollWindow_EmitsOnlyOnceFilled(t *testing.T) {
	t.Parallel()

	w := newRollWindow(8, 4)
	if outs := w.push([]float32{0, 1, 2}); outs != nil {
		t.Fatalf("got %d windows before a hop boundary, want none", len(outs))
	}
	// Crosses a hop boundary but the window is not yet full.
	if outs := w.push([]float32{3, 4, 5}); outs != nil {
		t.Fatalf("got %d windows from an unfilled buffer, want none", len(outs))
	}
	outs := w.push([]float32{6, 7})
	if len(outs) != 1 {
		t.Fatalf("got %d windows once filled, want 1", len(outs))
	}
	for i, v := range outs[0] {
		if v != float32(i) {
			t.Fatalf("window[%d] = %v, want %v", i, v, i)
		}
	}
}

func TestRollWindow_RollsLeft(t *testing.T) {
	t.Parallel()

	w := newRollWindow(4, 4)
	w.push([]float32{1, 2, 3, 4})
	outs := w.push([]float32{5, 6})
	if outs != nil {
		t.Fatalf("got %d windows after half a hop, want none", len(outs))
	}
	outs = w.push([]float32{7, 8})
	if len(outs) != 1 {
		t.Fatalf("got %d windows, want 1", len(outs))
	}
	want := []float32{5, 6, 7, 8}
	for i, v := range outs[0] {
		if v != want[i] {
			t.Fatalf("window = %v, want %v", outs[0], want)
		}
	}
}

func TestRollWindow_OversizeChunkReplaces(t *testing.T) {
	t.Parallel()

	w := newRollWindow(4, 2)
	chunk := []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	outs := w.push(chunk)
	if len(outs) != 5 {
		t.Fatalf("got %d windows from a 10-sample chunk at hop 2, want 5", len(outs))
	}
	want := []float32{6, 7, 8, 9}
	for _, out := range outs {
		for i, v := range out {
			if v != want[i] {
				t.Fatalf("window = %v, want tail %v", out, want)
			}
		}
	}
}

func TestRollWindow_ResetForcesRefill(t *testing.T) {
	t.Parallel()

	w := newRollWindow(4, 2)
	if outs := w.push([]float32{1, 2, 3, 4}); len(outs) != 2 {
		t.Fatalf("got %d windows before reset, want 2", len(outs))
	}
	w.reset()
	if outs := w.push([]float32{5, 6}); outs != nil {
		t.Fatalf("got %d windows right after reset, want none", len(outs))
	}
	if outs := w.push([]float32{7, 8}); len(outs) != 1 {
		t.Fatalf("got %d windows after refill, want 1", len(outs))
	}
}

func TestReflectPad(t *testing.T) {
	t.Parallel()

	got := reflectPad([]float32{1, 2, 3, 4}, 2)
	want := []float64{3, 2, 1, 2, 3, 4, 3, 2}
	if len(got) != len(want) {
		t.Fatalf("padded length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("padded = %v, want %v", got, want)
		}
	}
}

func TestStandardize(t *testing.T) {
	t.Parallel()

	v := []float32{1, 2, 3}
	standardize(v)
	var mean float64
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))
	if math.Abs(mean) > 1e-6 {
		t.Fatalf("mean after standardize = %v, want 0", mean)
	}
	if v[1] != 0 || v[0] >= 0 || v[2] <= 0 {
		t.Fatalf("standardized = %v, want symmetric around 0", v)
	}

	flat := []float32{7, 7, 7, 7}
	standardize(flat)
	for i, x := range flat {
		if x != 0 {
			t.Fatalf("constant input standardized to %v at %d, want 0", x, i)
		}
	}
}

func tone(freq float64, amplitude float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func TestMelBank_LogMelShape(t *testing.T) {
	t.Parallel()

	m := newMelBank(16000)
	feats, frames := m.LogMel(tone(440, 0.3, 16000))
	wantFrames := 1 + 16000/melHop
	if frames != wantFrames {
		t.Fatalf("frames = %d, want %d", frames, wantFrames)
	}
	if len(feats) != melBins*frames {
		t.Fatalf("len(feats) = %d, want %d", len(feats), melBins*frames)
	}
	var mean float64
	for _, v := range feats {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("non-finite feature %v", v)
		}
		mean += float64(v)
	}
	mean /= float64(len(feats))
	if math.Abs(mean) > 1e-3 {
		t.Fatalf("feature mean = %v, want 0", mean)
	}
}

func TestMelBank_SilenceIsAllZeros(t *testing.T) {
	t.Parallel()

	m := newMelBank(16000)
	feats, _ := m.LogMel(make([]float32, 16000))
	for i, v := range feats {
		if v != 0 {
			t.Fatalf("feats[%d] = %v for silence, want 0", i, v)
		}
	}
}

func TestMelBank_ToneFrequencyOrdersBands(t *testing.T) {
	t.Parallel()

	peakBand := func(freq float64) int {
		m := newMelBank(16000)
		feats, frames := m.LogMel(tone(freq, 0.3, 16000))
		best, bestMean := -1, math.Inf(-1)
		for b := 0; b < melBins; b++ {
			var sum float64
			for f := 0; f < frames; f++ {
				sum += float64(feats[b*frames+f])
			}
			if mean := sum / float64(frames); mean > bestMean {
				best, bestMean = b, mean
			}
		}
		return best
	}

	low := peakBand(440)
	high := peakBand(3000)
	if low <= 0 || high >= melBins-1 {
		t.Fatalf("peak bands %d and %d fall on the edges", low, high)
	}
	if low >= high {
		t.Fatalf("440 Hz peaked in band %d, 3000 Hz in band %d, want low < high", low, high)
	}
}

func TestPipeline_CarryKeepsChunkTail(t *testing.T) {
	t.Parallel()

	p := &Pipeline{}
	chunk := make([]float32, embedChunk)
	for i := range chunk {
		chunk[i] = float32(i)
	}
	p.updateCarry(chunk)
	if len(p.carry) != embedMelCarry {
		t.Fatalf("carry length = %d, want %d", len(p.carry), embedMelCarry)
	}
	if p.carry[0] != chunk[embedChunk-embedMelCarry] || p.carry[len(p.carry)-1] != chunk[embedChunk-1] {
		t.Fatalf("carry = [%v..%v], want tail [%v..%v]",
			p.carry[0], p.carry[len(p.carry)-1], chunk[embedChunk-embedMelCarry], chunk[embedChunk-1])
	}
}

func TestEmbedSpotter_LatchRequiresConsecutiveHits(t *testing.T) {
	t.Parallel()

	s := &EmbedSpotter{
		cfg:  EmbedConfig{HitsRequired: 2, Cooldown: time.Nanosecond},
		pipe: &Pipeline{},
		heads: []headLatch{
			{cfg: HeadConfig{Keyword: "stop", Threshold: 0.5}},
		},
	}

	if _, ok := s.latch(map[string]float64{"stop": 0.6}); ok {
		t.Fatal("fired on the first qualifying step, want 2 consecutive")
	}
	if _, ok := s.latch(map[string]float64{"stop": 0.3}); ok {
		t.Fatal("fired on a sub-threshold step")
	}
	if s.heads[0].hits != 0 {
		t.Fatalf("hits = %d after a sub-threshold step, want 0", s.heads[0].hits)
	}

	if _, ok := s.latch(map[string]float64{"stop": 0.7}); ok {
		t.Fatal("fired with the counter freshly reset")
	}
	hit, ok := s.latch(map[string]float64{"stop": 0.8})
	if !ok {
		t.Fatal("no fire after two consecutive qualifying steps")
	}
	if hit.Keyword != "stop" || hit.Score != 0.8 {
		t.Fatalf("hit = %+v, want keyword %q score 0.8", hit, "stop")
	}
	if s.heads[0].hits != 0 {
		t.Fatalf("hits = %d after fire, want 0", s.heads[0].hits)
	}
}

func TestPhraseConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := PhraseConfig{ModelPath: "model.onnx"}.withDefaults()
	if cfg.Keyword != "stop" {
		t.Fatalf("keyword = %q, want %q", cfg.Keyword, "stop")
	}
	if cfg.SampleRate != 16000 || cfg.WindowSamples != 16000 || cfg.HopSamples != 8000 {
		t.Fatalf("window defaults = %d/%d/%d, want 16000/16000/8000",
			cfg.SampleRate, cfg.WindowSamples, cfg.HopSamples)
	}
	if cfg.LogitMargin != 0.5 || cfg.ProbThreshold != 0.8 || cfg.HitsRequired != 2 {
		t.Fatalf("thresholds = %v/%v/%d, want 0.5/0.8/2",
			cfg.LogitMargin, cfg.ProbThreshold, cfg.HitsRequired)
	}
	if cfg.Cooldown.Milliseconds() != 1500 {
		t.Fatalf("cooldown = %v, want 1.5s", cfg.Cooldown)
	}
}

func TestPhraseSpotter_LatchRequiresConsecutiveHits(t *testing.T) {
	t.Parallel()

	p := &PhraseSpotter{
		cfg: PhraseConfig{
			Keyword:       "stop",
			LogitMargin:   0.5,
			ProbThreshold: 0.6,
			HitsRequired:  2,
			Cooldown:      time.Nanosecond,
		},
	}

	if _, ok := p.latch(0.0, 2.0); ok {
		t.Fatal("fired on the first qualifying window, want 2 consecutive")
	}
	if _, ok := p.latch(0.0, 0.1); ok {
		t.Fatal("fired on a window below the margin")
	}
	if p.hits != 0 {
		t.Fatalf("hits = %d after a failing window, want 0", p.hits)
	}

	if _, ok := p.latch(0.0, 2.0); ok {
		t.Fatal("fired with the counter freshly reset")
	}
	hit, ok := p.latch(0.0, 2.0)
	if !ok {
		t.Fatal("no fire after two consecutive qualifying windows")
	}
	if hit.Keyword != "stop" {
		t.Fatalf("hit keyword = %q, want %q", hit.Keyword, "stop")
	}
	if hit.Score <= 0.6 {
		t.Fatalf("hit score = %v, want above the 0.6 threshold", hit.Score)
	}
	if p.hits != 0 {
		t.Fatalf("hits = %d after fire, want 0", p.hits)
	}
}

func TestPhraseSpotter_CooldownSuppressesRefire(t *testing.T) {
	t.Parallel()

	p := &PhraseSpotter{
		cfg: PhraseConfig{
			Keyword:       "stop",
			LogitMargin:   0.5,
			ProbThreshold: 0.6,
			HitsRequired:  1,
			Cooldown:      time.Hour,
		},
		win: newRollWindow(16000, 8000),
	}

	if _, ok := p.latch(0.0, 2.0); !ok {
		t.Fatal("no fire on a qualifying window with hits_required 1")
	}
	if _, ok := p.latch(0.0, 2.0); ok {
		t.Fatal("refired inside the cooldown")
	}
	p.Reset()
	if _, ok := p.latch(0.0, 2.0); ok {
		t.Fatal("reset re-armed a fire inside the cooldown")
	}
}

func TestEmbedConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := EmbedConfig{Heads: []HeadConfig{{ModelPath: "h.onnx", Keyword: "stop"}}}.withDefaults()
	if cfg.SampleRate != 16000 || cfg.HitsRequired != 2 {
		t.Fatalf("defaults = %d/%d, want 16000/2", cfg.SampleRate, cfg.HitsRequired)
	}
	if cfg.Cooldown.Milliseconds() != 1500 {
		t.Fatalf("cooldown = %v, want 1.5s", cfg.Cooldown)
	}
	if cfg.Heads[0].Threshold != 0.5 {
		t.Fatalf("head threshold = %v, want 0.5", cfg.Heads[0].Threshold)
	}
}
