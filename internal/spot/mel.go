package spot

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Log-mel extraction parameters for the phrase spotter, fixed to what the
// keyword model was trained against: 25 ms windows with a 12.5 ms hop,
// 40 HTK-scale mel bands over the full 0-8 kHz range, power spectrogram in
// dB, then per-window standardization.
const (
	melNFFT = 400
	melHop  = 200
	melBins = 40

	// melAmin floors power values before the dB conversion.
	melAmin = 1e-10

	// melNormEps keeps the standardization stable on near-constant input.
	melNormEps = 1e-9
)

// melBank converts a raw sample window into the flattened log-mel tensor the
// phrase model consumes. It is reused across calls; not safe for concurrent
// use.
type melBank struct {
	sampleRate int
	fft        *fourier.FFT
	filters    [][]float64
	scratch    []float64
	spectrum   []complex128
	power      []float64
}

func newMelBank(sampleRate int) *melBank {
	nBins := melNFFT/2 + 1
	return &melBank{
		sampleRate: sampleRate,
		fft:        fourier.NewFFT(melNFFT),
		filters:    melFilters(sampleRate, melNFFT, melBins),
		scratch:    make([]float64, melNFFT),
		spectrum:   make([]complex128, nBins),
		power:      make([]float64, nBins),
	}
}

// LogMel returns the standardized log-mel features of samples as a flattened
// row-major [melBins x frames] tensor, plus the frame count. The input is
// reflect-padded by half a window on both sides so frame centers cover the
// window edges.
func (m *melBank) LogMel(samples []float32) ([]float32, int) {
	padded := reflectPad(samples, melNFFT/2)
	if len(padded) < melNFFT {
		return nil, 0
	}
	frames := 1 + (len(padded)-melNFFT)/melHop

	out := make([]float32, melBins*frames)
	for f := 0; f < frames; f++ {
		start := f * melHop
		for i := 0; i < melNFFT; i++ {
			m.scratch[i] = padded[start+i]
		}
		window.Hann(m.scratch)
		m.fft.Coefficients(m.spectrum, m.scratch)
		for i, c := range m.spectrum {
			m.power[i] = real(c)*real(c) + imag(c)*imag(c)
		}
		for b, filter := range m.filters {
			var e float64
			for i, w := range filter {
				if w != 0 {
					e += w * m.power[i]
				}
			}
			if e < melAmin {
				e = melAmin
			}
			out[b*frames+f] = float32(10 * math.Log10(e))
		}
	}

	standardize(out)
	return out, frames
}

// standardize shifts the whole tensor to zero mean and unit variance.
func standardize(v []float32) {
	if len(v) == 0 {
		return
	}
	var mean float64
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))
	var variance float64
	for _, x := range v {
		d := float64(x) - mean
		variance += d * d
	}
	std := math.Sqrt(variance/float64(len(v))) + melNormEps
	for i, x := range v {
		v[i] = float32((float64(x) - mean) / std)
	}
}

// reflectPad mirrors pad samples around each edge without repeating the edge
// sample itself.
func reflectPad(samples []float32, pad int) []float64 {
	n := len(samples)
	if n == 0 {
		return nil
	}
	if pad >= n {
		pad = n - 1
	}
	out := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		out[i] = float64(samples[pad-i])
	}
	for i, s := range samples {
		out[pad+i] = float64(s)
	}
	for i := 0; i < pad; i++ {
		out[pad+n+i] = float64(samples[n-2-i])
	}
	return out
}

// melFilters builds triangular HTK-scale filters mapping FFT bins to mel
// bands.
func melFilters(sampleRate, nFFT, nMels int) [][]float64 {
	nBins := nFFT/2 + 1
	fMax := float64(sampleRate) / 2
	melLo := hzToMel(0)
	melHi := hzToMel(fMax)

	centers := make([]float64, nMels+2)
	for i := range centers {
		mel := melLo + (melHi-melLo)*float64(i)/float64(nMels+1)
		centers[i] = melToHz(mel)
	}

	binHz := float64(sampleRate) / float64(nFFT)
	filters := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		filter := make([]float64, nBins)
		lo, mid, hi := centers[m], centers[m+1], centers[m+2]
		for k := 0; k < nBins; k++ {
			f := float64(k) * binHz
			switch {
			case f <= lo || f >= hi:
			case f <= mid:
				filter[k] = (f - lo) / (mid - lo)
			default:
				filter[k] = (hi - f) / (hi - mid)
			}
		}
		filters[m] = filter
	}
	return filters
}

func hzToMel(hz float64) float64  { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }
