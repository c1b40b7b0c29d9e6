package whisper

import "math"

const (
	// filterFrame is the silence-gate analysis window, 20 ms at 16 kHz.
	filterFrame = 320

	// filterPadFrames of context are kept on each side of the gated
	// speech so quiet onsets are not clipped.
	filterPadFrames = 5

	// defaultFilterRMS is the energy gate in 16-bit PCM units. Full
	// scale is 32767; 300 corresponds to near-silence.
	defaultFilterRMS = 300.0
)

// trimSilence cuts leading and trailing low-energy audio so the model does
// not decode long stretches of room tone. Internal pauses are left alone.
// Returns nil when no frame rises above the gate.
func trimSilence(pcm []int16, gate float64) []int16 {
	first, last := -1, -1
	for start := 0; start < len(pcm); start += filterFrame {
		end := min(start+filterFrame, len(pcm))
		if rms(pcm[start:end]) < gate {
			continue
		}
		if first < 0 {
			first = start
		}
		last = end
	}
	if first < 0 {
		return nil
	}
	first = max(first-filterPadFrames*filterFrame, 0)
	last = min(last+filterPadFrames*filterFrame, len(pcm))
	return pcm[first:last]
}

// rms returns the root-mean-square energy of the samples, expressed in the
// same units as PCM sample values (0 to 32767).
func rms(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
