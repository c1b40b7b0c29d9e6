package spot

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

// PhraseConfig configures the two-class phrase spotter.
type PhraseConfig struct {
	// ModelPath locates the ONNX classifier. Required.
	ModelPath string

	// Keyword is the label reported in hits. Defaults to "stop".
	Keyword string

	// SampleRate of incoming PCM. The model requires 16000.
	SampleRate int

	// WindowSamples is the rolling analysis window. Defaults to one second
	// of samples.
	WindowSamples int

	// HopSamples is how far the stream advances between detector runs.
	// Defaults to half the window.
	HopSamples int

	// LogitMargin is the minimum lead of the keyword logit over the other
	// logit. Defaults to 0.5.
	LogitMargin float64

	// ProbThreshold is the minimum softmax probability of the keyword
	// class. Defaults to 0.8.
	ProbThreshold float64

	// HitsRequired is how many consecutive qualifying hops must occur
	// before the spotter fires. Defaults to 2.
	HitsRequired int

	// Cooldown is the wall-clock refractory period after a fire.
	// Defaults to 1500 ms.
	Cooldown time.Duration

	// IntraOpThreads bounds onnxruntime's intra-op parallelism. Defaults
	// to 1; the window is small and the audio thread must stay responsive.
	IntraOpThreads int
}

func (c PhraseConfig) withDefaults() PhraseConfig {
	if c.Keyword == "" {
		c.Keyword = "stop"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.WindowSamples == 0 {
		c.WindowSamples = c.SampleRate
	}
	if c.HopSamples == 0 {
		c.HopSamples = c.WindowSamples / 2
		if c.HopSamples < 1 {
			c.HopSamples = 1
		}
	}
	if c.LogitMargin == 0 {
		c.LogitMargin = 0.5
	}
	if c.ProbThreshold == 0 {
		c.ProbThreshold = 0.8
	}
	if c.HitsRequired < 1 {
		c.HitsRequired = 2
	}
	if c.Cooldown == 0 {
		c.Cooldown = 1500 * time.Millisecond
	}
	if c.IntraOpThreads < 1 {
		c.IntraOpThreads = 1
	}
	return c
}

// PhraseSpotter detects one spoken phrase with a two-class ONNX classifier
// over a rolling window. A raw hit needs both a logit margin and a softmax
// probability; the spotter fires after the configured number of consecutive
// raw hits, then counts from zero again and stays quiet for the cooldown.
type PhraseSpotter struct {
	cfg  PhraseConfig
	sess *ort.DynamicAdvancedSession
	mel  *melBank
	log  *slog.Logger

	win      *rollWindow
	hits     int
	fired    bool
	lastFire time.Time

	loggedErr bool
	lastErrAt time.Time
	closed    bool
}

// NewPhraseSpotter loads the model and prepares the rolling window. The
// onnxruntime environment must already be initialized via [EnsureRuntime].
func NewPhraseSpotter(cfg PhraseConfig, log *slog.Logger) (*PhraseSpotter, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("spot: phrase spotter requires 16000 Hz input, got %d", cfg.SampleRate)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("spot: phrase model: %w", err)
	}

	inName, outName, err := firstIO(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("spot: session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return nil, fmt.Errorf("spot: intra-op threads: %w", err)
	}
	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{inName}, []string{outName}, opts)
	if err != nil {
		return nil, fmt.Errorf("spot: load phrase model: %w", err)
	}

	log.Info("phrase spotter ready",
		"model", cfg.ModelPath,
		"window_samples", cfg.WindowSamples,
		"hop_samples", cfg.HopSamples,
		"hits_required", cfg.HitsRequired,
		"cooldown", cfg.Cooldown,
	)
	return &PhraseSpotter{
		cfg:  cfg,
		sess: sess,
		mel:  newMelBank(cfg.SampleRate),
		log:  log,
		win:  newRollWindow(cfg.WindowSamples, cfg.HopSamples),
	}, nil
}

// ProcessBlock implements [Spotter].
func (p *PhraseSpotter) ProcessBlock(samples []int16) (Hit, bool) {
	if p.closed || len(samples) == 0 {
		return Hit{}, false
	}
	chunk := make([]float32, len(samples))
	for i, s := range samples {
		chunk[i] = float32(s) / 32768.0
	}
	for _, win := range p.win.push(chunk) {
		if hit, ok := p.score(win); ok {
			return hit, true
		}
	}
	return Hit{}, false
}

// score runs one detector pass over a full window.
func (p *PhraseSpotter) score(win []float32) (Hit, bool) {
	feats, frames := p.mel.LogMel(win)
	if frames == 0 {
		return Hit{}, false
	}
	in, err := ort.NewTensor(ort.NewShape(1, 1, melBins, int64(frames)), feats)
	if err != nil {
		p.noteError(err)
		return Hit{}, false
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := p.sess.Run([]ort.Value{in}, outputs); err != nil {
		p.noteError(err)
		return Hit{}, false
	}
	out := outputs[0].(*ort.Tensor[float32])
	defer out.Destroy()

	logits := out.GetData()
	if len(logits) < 2 {
		p.noteError(fmt.Errorf("model returned %d logits, want 2", len(logits)))
		return Hit{}, false
	}
	other, keyword := float64(logits[0]), float64(logits[1])
	return p.latch(other, keyword)
}

// latch turns raw logits into a debounced fire decision.
func (p *PhraseSpotter) latch(other, keyword float64) (Hit, bool) {
	_, pKeyword := softmax2(other, keyword)

	if keyword-other >= p.cfg.LogitMargin && pKeyword >= p.cfg.ProbThreshold {
		p.hits++
	} else {
		p.hits = 0
	}
	if p.hits < p.cfg.HitsRequired {
		return Hit{}, false
	}
	p.hits = 0
	if p.fired && time.Since(p.lastFire) < p.cfg.Cooldown {
		return Hit{}, false
	}
	p.fired = true
	p.lastFire = time.Now()
	return Hit{
		Keyword: p.cfg.Keyword,
		Score:   pKeyword,
		Logits:  [2]float64{other, keyword},
	}, true
}

func (p *PhraseSpotter) noteError(err error) {
	if !p.loggedErr || time.Since(p.lastErrAt) > 5*time.Second {
		p.log.Debug("phrase spotter inference error, block skipped", "error", err)
		p.loggedErr = true
		p.lastErrAt = time.Now()
	}
}

// Reset implements [Spotter]. The wall-clock cooldown is preserved so a
// reset cannot re-arm a fire that just happened.
func (p *PhraseSpotter) Reset() {
	p.win.reset()
	p.hits = 0
}

// Close implements [Spotter].
func (p *PhraseSpotter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sess.Destroy()
}

var _ Spotter = (*PhraseSpotter)(nil)

// rollWindow maintains a fixed-length rolling sample window and yields the
// window contents once per hop of stream advance, only after the window has
// filled once.
type rollWindow struct {
	buf    []float32
	size   int
	hop    int
	filled int
	stride int
}

func newRollWindow(size, hop int) *rollWindow {
	return &rollWindow{buf: make([]float32, size), size: size, hop: hop}
}

// push appends chunk to the window and returns one snapshot per hop boundary
// crossed. A chunk at least as long as the window replaces it outright.
func (w *rollWindow) push(chunk []float32) [][]float32 {
	n := len(chunk)
	if n == 0 {
		return nil
	}
	if n >= w.size {
		copy(w.buf, chunk[n-w.size:])
		w.filled = w.size
	} else {
		copy(w.buf, w.buf[n:])
		copy(w.buf[w.size-n:], chunk)
		if w.filled < w.size {
			w.filled += n
			if w.filled > w.size {
				w.filled = w.size
			}
		}
	}

	w.stride += n
	var outs [][]float32
	for w.stride >= w.hop {
		w.stride -= w.hop
		if w.filled < w.size {
			continue
		}
		snapshot := make([]float32, w.size)
		copy(snapshot, w.buf)
		outs = append(outs, snapshot)
	}
	return outs
}

func (w *rollWindow) reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.filled = 0
	w.stride = 0
}
