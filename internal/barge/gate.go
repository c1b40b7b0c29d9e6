package barge

import (
	"log/slog"
	"math"
	"time"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/vad"
)

// Leak baseline smoothing factors. The fast factor is used while a turn is
// arming, when incoming frames are assumed to be the system's own playback.
const (
	leakAlphaSlow = 0.12
	leakAlphaFast = 0.35

	// silentFloorDBFS marks frames too quiet to teach the leak baseline
	// anything (digital silence, muted capture).
	silentFloorDBFS = -90.0

	// vadErrorLogGap rate-limits VAD failure logging per error burst.
	vadErrorLogGap = 5 * time.Second
)

// Decision is the per-frame classification result. Values are derived per
// frame and not retained.
type Decision struct {
	// At is the frame's position in stream time.
	At time.Duration

	// RMSDBFS is the frame energy in dB relative to full scale.
	RMSDBFS float64

	// ZCR is the zero-crossing rate of the high-passed frame, in [0, 1].
	// Zero when the frame was rejected before the ZCR stage.
	ZCR float64

	// VADActive reports the voice-activity detector's verdict for this
	// frame. False when the frame was rejected before the VAD stage.
	VADActive bool

	// LeakThresholdDBFS is the energy threshold the frame was held against:
	// the configured minimum, raised by the leak baseline when one is set.
	LeakThresholdDBFS float64

	// IsVoice is the final verdict: the frame passed energy, spectral and
	// voice-activity checks (or fell inside the voice-hold bridge).
	IsVoice bool
}

// Gate classifies single audio frames as human voice or not while tracking an
// adaptive estimate of the playback echo leaking into the microphone.
//
// The per-frame pipeline: an energy check against the leak-adjusted floor, a
// first-order high-pass to strip low-frequency rumble, a zero-crossing-rate
// band check, and finally the voice-activity detector with a short hold that
// bridges gaps in its output. Every frame rejected by a stage feeds the leak
// baseline; accepted frames never do, so a real voice burst cannot drag the
// baseline up under itself.
//
// A Gate is owned by a single goroutine; methods must not be called
// concurrently. All timing derives from frame stream timestamps.
type Gate struct {
	cfg Config
	vad vad.SessionHandle
	log *slog.Logger

	leakSet  bool
	leakDBFS float64
	leakAt   time.Duration

	hpAlpha   float64
	hpPrevIn  float64
	hpPrevOut float64

	haveVoice   bool
	lastVoiceAt time.Duration

	haveVADErr   bool
	lastVADErrAt time.Duration
}

// NewGate creates a gate. sess may be nil, in which case the voice-activity
// stage is skipped and frames passing the energy and ZCR checks count as
// voice.
func NewGate(cfg Config, sess vad.SessionHandle, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	rc := 1.0 / (2 * math.Pi * cfg.HighpassHz)
	dt := 1.0 / float64(cfg.SampleRate)
	return &Gate{
		cfg:     cfg,
		vad:     sess,
		log:     log,
		hpAlpha: rc / (rc + dt),
	}
}

// Classify runs the full pipeline on one frame and returns the decision.
// Numerical instability (non-finite RMS) short-circuits to non-voice, and a
// failing VAD backend counts as inactive; Classify never fails.
func (g *Gate) Classify(frame audio.Frame) Decision {
	at := frame.Timestamp
	d := Decision{At: at, RMSDBFS: rmsDBFS(frame.Samples)}

	g.decayLeak(at)
	threshold := g.cfg.MinRMSDBFS
	if g.leakSet {
		if t := g.leakDBFS + g.cfg.LeakMarginDB; t > threshold {
			threshold = t
		}
	}
	d.LeakThresholdDBFS = threshold

	if math.IsNaN(d.RMSDBFS) || math.IsInf(d.RMSDBFS, 0) {
		return d
	}
	if d.RMSDBFS < threshold {
		g.absorbLeak(d.RMSDBFS, at, false)
		return d
	}

	filtered := g.highpass(frame.Samples)
	d.ZCR = zeroCrossRate(filtered)
	if d.ZCR < g.cfg.ZCRMin || d.ZCR > g.cfg.ZCRMax {
		g.absorbLeak(d.RMSDBFS, at, false)
		return d
	}

	d.VADActive = g.vadActive(filtered, at)
	voiced := d.VADActive
	if !voiced && g.haveVoice && at-g.lastVoiceAt <= g.cfg.VoiceHold {
		// Bridge a short detector gap. Bridged frames refresh the hold too:
		// the hold keeps extending for as long as frames keep clearing the
		// energy and ZCR stages.
		voiced = true
	}
	if !voiced {
		g.absorbLeak(d.RMSDBFS, at, false)
		return d
	}

	d.IsVoice = true
	g.haveVoice = true
	g.lastVoiceAt = at
	return d
}

// AbsorbLeak feeds a frame straight into the leak baseline with the fast
// smoothing factor, bypassing classification. The listener calls this during
// the arm-up window right after playback starts, when the microphone is
// hearing mostly the system itself.
func (g *Gate) AbsorbLeak(frame audio.Frame) {
	g.decayLeak(frame.Timestamp)
	g.absorbLeak(rmsDBFS(frame.Samples), frame.Timestamp, true)
}

// decayLeak drops the baseline back to unset when it has not been refreshed
// within the decay window, so the gate re-learns ambient level after silence.
func (g *Gate) decayLeak(at time.Duration) {
	if g.leakSet && at-g.leakAt > g.cfg.LeakDecay {
		g.leakSet = false
	}
}

func (g *Gate) absorbLeak(rms float64, at time.Duration, fast bool) {
	if math.IsNaN(rms) || math.IsInf(rms, 0) || rms <= silentFloorDBFS {
		return
	}
	alpha := leakAlphaSlow
	if fast {
		alpha = leakAlphaFast
	}
	if !g.leakSet {
		g.leakSet = true
		g.leakDBFS = rms
	} else {
		v := rms
		// On the slow path, clamp the sample so one loud frame cannot yank
		// the baseline up to voice level in a single step. The fast arm-up
		// path is allowed to chase playback onset.
		if !fast {
			if limit := g.leakDBFS + 2*g.cfg.LeakMarginDB; v > limit {
				v = limit
			}
		}
		g.leakDBFS += alpha * (v - g.leakDBFS)
	}
	g.leakAt = at
}

// highpass applies the first-order IIR high-pass. Filter state persists
// across frames so the response stays continuous over the stream.
func (g *Gate) highpass(samples []int16) []float64 {
	out := make([]float64, len(samples))
	prevIn, prevOut := g.hpPrevIn, g.hpPrevOut
	for i, s := range samples {
		x := float64(s)
		y := g.hpAlpha * (prevOut + x - prevIn)
		out[i] = y
		prevIn, prevOut = x, y
	}
	g.hpPrevIn, g.hpPrevOut = prevIn, prevOut
	return out
}

// vadActive runs the detector on the filtered frame. Errors are swallowed
// (logged at most once per burst) and count as inactive.
func (g *Gate) vadActive(filtered []float64, at time.Duration) bool {
	if g.vad == nil {
		return true
	}
	pcm := make([]int16, len(filtered))
	for i, v := range filtered {
		switch {
		case v > 32767:
			pcm[i] = 32767
		case v < -32768:
			pcm[i] = -32768
		default:
			pcm[i] = int16(v)
		}
	}
	ev, err := g.vad.ProcessFrame(pcm)
	if err != nil {
		if !g.haveVADErr || at-g.lastVADErrAt > vadErrorLogGap {
			g.log.Debug("vad backend error, frame counted as non-voice", "error", err)
			g.haveVADErr = true
			g.lastVADErrAt = at
		}
		return false
	}
	return ev.Voiced()
}

// rmsDBFS returns the frame's root-mean-square level in dB relative to full
// scale. An empty frame maps to -120 dBFS.
func rmsDBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return -120.0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return 20 * math.Log10(rms+1e-12)
}

// zeroCrossRate returns sign changes per sample pair, in [0, 1].
func zeroCrossRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
