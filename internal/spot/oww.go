package spot

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// HeadConfig describes one keyword classifier running on top of the shared
// embedding pipeline.
type HeadConfig struct {
	// ModelPath locates the head ONNX model. Required.
	ModelPath string

	// Keyword is the label reported in hits. Required.
	Keyword string

	// Threshold is the minimum head score. Defaults to 0.5.
	Threshold float64
}

// EmbedConfig configures the embedding-based spotter.
type EmbedConfig struct {
	// MelModelPath locates the mel spectrogram ONNX model. Required.
	MelModelPath string

	// EmbedModelPath locates the speech embedding ONNX model. Required.
	EmbedModelPath string

	// Heads are the keyword classifiers. At least one is required.
	Heads []HeadConfig

	// SampleRate of incoming PCM. The pipeline requires 16000.
	SampleRate int

	// HitsRequired is how many consecutive above-threshold scores a head
	// needs before the spotter fires. Defaults to 2.
	HitsRequired int

	// Cooldown is the wall-clock refractory period after a fire.
	// Defaults to 1500 ms.
	Cooldown time.Duration
}

func (c EmbedConfig) withDefaults() EmbedConfig {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.HitsRequired < 1 {
		c.HitsRequired = 2
	}
	if c.Cooldown == 0 {
		c.Cooldown = 1500 * time.Millisecond
	}
	heads := make([]HeadConfig, len(c.Heads))
	copy(heads, c.Heads)
	for i := range heads {
		if heads[i].Threshold == 0 {
			heads[i].Threshold = 0.5
		}
	}
	c.Heads = heads
	return c
}

type headLatch struct {
	cfg  HeadConfig
	hits int
}

// EmbedSpotter detects keywords by latching the scores of a shared
// [Pipeline]: a head must clear its threshold on consecutive steps before the
// spotter fires, fires are rate-limited by a wall-clock cooldown, and a fire
// resets the whole pipeline.
type EmbedSpotter struct {
	cfg   EmbedConfig
	pipe  *Pipeline
	heads []headLatch
	log   *slog.Logger

	lastFire  time.Time
	fired     bool
	loggedErr bool
	lastErrAt time.Time
	closed    bool
}

// NewEmbedSpotter loads the pipeline models and every head. The onnxruntime
// environment must already be initialized via [EnsureRuntime].
func NewEmbedSpotter(cfg EmbedConfig, log *slog.Logger) (*EmbedSpotter, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("spot: embed spotter requires 16000 Hz input, got %d", cfg.SampleRate)
	}

	heads := make([]PipelineHead, 0, len(cfg.Heads))
	latches := make([]headLatch, 0, len(cfg.Heads))
	keywords := make([]string, 0, len(cfg.Heads))
	for _, hc := range cfg.Heads {
		if hc.Keyword == "" {
			return nil, errors.New("spot: head keyword must not be empty")
		}
		heads = append(heads, PipelineHead{Name: hc.Keyword, ModelPath: hc.ModelPath})
		latches = append(latches, headLatch{cfg: hc})
		keywords = append(keywords, hc.Keyword)
	}
	pipe, err := NewPipeline(cfg.MelModelPath, cfg.EmbedModelPath, heads)
	if err != nil {
		return nil, err
	}

	log.Info("embedding spotter ready",
		"keywords", keywords,
		"hits_required", cfg.HitsRequired,
		"cooldown", cfg.Cooldown,
	)
	return &EmbedSpotter{cfg: cfg, pipe: pipe, heads: latches, log: log}, nil
}

// ProcessBlock implements [Spotter].
func (s *EmbedSpotter) ProcessBlock(samples []int16) (Hit, bool) {
	if s.closed {
		return Hit{}, false
	}
	steps, err := s.pipe.Push(samples)
	if err != nil {
		s.noteError(err)
	}
	for _, scores := range steps {
		if hit, ok := s.latch(scores); ok {
			return hit, true
		}
	}
	return Hit{}, false
}

// latch folds one step's scores into the per-head counters and fires once a
// head has held its threshold long enough.
func (s *EmbedSpotter) latch(scores map[string]float64) (Hit, bool) {
	for i := range s.heads {
		h := &s.heads[i]
		score, ok := scores[h.cfg.Keyword]
		if !ok || score < h.cfg.Threshold {
			h.hits = 0
			continue
		}
		h.hits++
		if h.hits < s.cfg.HitsRequired {
			continue
		}
		h.hits = 0
		if s.fired && time.Since(s.lastFire) < s.cfg.Cooldown {
			continue
		}
		s.fired = true
		s.lastFire = time.Now()
		s.resetLatches()
		s.pipe.Reset()
		return Hit{Keyword: h.cfg.Keyword, Score: score}, true
	}
	return Hit{}, false
}

func (s *EmbedSpotter) resetLatches() {
	for i := range s.heads {
		s.heads[i].hits = 0
	}
}

func (s *EmbedSpotter) noteError(err error) {
	if !s.loggedErr || time.Since(s.lastErrAt) > 5*time.Second {
		s.log.Debug("embedding spotter inference error, step skipped", "error", err)
		s.loggedErr = true
		s.lastErrAt = time.Now()
	}
}

// Reset implements [Spotter]. The wall-clock cooldown is preserved so a
// reset cannot re-arm a fire that just happened.
func (s *EmbedSpotter) Reset() {
	s.resetLatches()
	s.pipe.Reset()
}

// Close implements [Spotter].
func (s *EmbedSpotter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pipe.Close()
}

var _ Spotter = (*EmbedSpotter)(nil)
