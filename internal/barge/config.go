package barge

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tuning parameters shared by the gate, the accumulator and
// the listener. Durations are measured in stream time, the monotonically
// increasing timestamps carried by captured frames.
type Config struct {
	// SampleRate of incoming frames in Hz.
	SampleRate int

	// BlockMs is the frame duration in milliseconds.
	BlockMs int

	// MinRMSDBFS is the absolute energy floor: quieter frames can never be
	// voice regardless of the leak baseline.
	MinRMSDBFS float64

	// LeakMarginDB is added on top of the leak baseline to form the energy
	// threshold while playback echo is being tracked.
	LeakMarginDB float64

	// LeakDecay unsets the baseline when it goes unrefreshed this long.
	LeakDecay time.Duration

	// HighpassHz is the cutoff of the rumble-stripping high-pass filter.
	HighpassHz float64

	// ZCRMin and ZCRMax bound the acceptable zero-crossing band. Below the
	// band is steady hum, above it impulsive noise.
	ZCRMin float64
	ZCRMax float64

	// VoiceHold keeps frames voiced for this long after the last positive
	// VAD verdict, bridging short detector gaps inside one utterance.
	VoiceHold time.Duration

	// NeedVoice is the amount of accumulated voice that constitutes a
	// deliberate interruption.
	NeedVoice time.Duration

	// VoiceDrop is subtracted from the accumulator per non-voice frame.
	// Zero defaults to one block duration.
	VoiceDrop time.Duration

	// ArmAfter suppresses all detection for this long after the listener
	// starts, while the playback onset floods the microphone.
	ArmAfter time.Duration

	// Debounce ignores frames arriving this soon after a trigger.
	Debounce time.Duration

	// Cooldown is the minimum spacing between two triggers.
	Cooldown time.Duration

	// QueueDepth bounds the listener's capture channel. Zero uses the
	// backend default.
	QueueDepth int
}

// DefaultConfig returns the tuning that ships with the system: 20 ms frames
// at 16 kHz, 650 ms of sustained voice to interrupt, and thresholds sized for
// a near-field microphone next to its own speaker.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		BlockMs:      20,
		MinRMSDBFS:   -28.0,
		LeakMarginDB: 3.0,
		LeakDecay:    1200 * time.Millisecond,
		HighpassHz:   300,
		ZCRMin:       0.05,
		ZCRMax:       0.35,
		VoiceHold:    200 * time.Millisecond,
		NeedVoice:    650 * time.Millisecond,
		ArmAfter:     400 * time.Millisecond,
		Debounce:     150 * time.Millisecond,
		Cooldown:     800 * time.Millisecond,
	}
}

// withDefaults fills zero values and keeps the leak decay no shorter than the
// cooldown, so the baseline survives the quiet stretch after a trigger.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = def.SampleRate
	}
	if c.BlockMs == 0 {
		c.BlockMs = def.BlockMs
	}
	if c.MinRMSDBFS == 0 {
		c.MinRMSDBFS = def.MinRMSDBFS
	}
	if c.LeakMarginDB == 0 {
		c.LeakMarginDB = def.LeakMarginDB
	}
	if c.LeakDecay == 0 {
		c.LeakDecay = def.LeakDecay
	}
	if c.HighpassHz == 0 {
		c.HighpassHz = def.HighpassHz
	}
	if c.ZCRMin == 0 {
		c.ZCRMin = def.ZCRMin
	}
	if c.ZCRMax == 0 {
		c.ZCRMax = def.ZCRMax
	}
	if c.VoiceHold == 0 {
		c.VoiceHold = def.VoiceHold
	}
	if c.NeedVoice == 0 {
		c.NeedVoice = def.NeedVoice
	}
	if c.VoiceDrop == 0 {
		c.VoiceDrop = time.Duration(c.BlockMs) * time.Millisecond
	}
	if c.ArmAfter == 0 {
		c.ArmAfter = def.ArmAfter
	}
	if c.Debounce == 0 {
		c.Debounce = def.Debounce
	}
	if c.Cooldown == 0 {
		c.Cooldown = def.Cooldown
	}
	if c.LeakDecay < c.Cooldown {
		c.LeakDecay = c.Cooldown
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.BlockMs <= 0 {
		errs = append(errs, fmt.Errorf("block duration must be positive, got %d ms", c.BlockMs))
	}
	if c.LeakMarginDB < 0 {
		errs = append(errs, fmt.Errorf("leak margin must not be negative, got %f", c.LeakMarginDB))
	}
	if c.HighpassHz <= 0 {
		errs = append(errs, fmt.Errorf("highpass cutoff must be positive, got %f", c.HighpassHz))
	}
	if c.ZCRMin < 0 || c.ZCRMax > 1 || c.ZCRMin >= c.ZCRMax {
		errs = append(errs, fmt.Errorf("zcr band [%f, %f] is not a sub-range of [0, 1]", c.ZCRMin, c.ZCRMax))
	}
	if c.NeedVoice <= 0 {
		errs = append(errs, fmt.Errorf("voice requirement must be positive, got %s", c.NeedVoice))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("barge: invalid config: %w", err)
	}
	return nil
}
