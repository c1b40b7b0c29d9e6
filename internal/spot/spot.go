// Package spot implements frame-level stop-keyword spotters that run inside
// the barge-in listener's capture loop.
//
// Two families share the [Spotter] contract. The phrase spotter rolls a
// one-second window over the stream and runs a two-class (other/keyword)
// classifier on log-mel features at every hop. The embedding spotter is a
// port of the openWakeWord pipeline: a shared mel-spectrogram model and a
// shared embedding model feed one small classifier head per registered
// keyword. Either kind firing means the user wants the system to shut up
// right now, so hits bypass the sustained-voice accumulator entirely.
//
// Inference errors never escape a spotter: a failing frame is a non-hit,
// logged at most once per burst. Only construction fails loudly (missing
// model file, unsupported sample rate), and the orchestrator answers that by
// running without the spotter rather than crashing.
package spot

import (
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Hit reports a fired spotter.
type Hit struct {
	// Keyword identifies what fired: a configured head name for the
	// embedding spotter, or the phrase spotter's keyword label.
	Keyword string

	// Score is the winning probability or head score in [0, 1].
	Score float64

	// Logits carries the two-class model's raw (other, keyword) outputs
	// when the source model exposes them; zero otherwise.
	Logits [2]float64
}

// Spotter is a frame-level stop-keyword detector. Implementations keep their
// own rolling state and are not safe for concurrent use; the hosting
// listener drives them from its single capture goroutine.
type Spotter interface {
	// ProcessBlock consumes one block of mono PCM and reports a hit when
	// the detector's thresholds are met. It never fails; inference errors
	// count as non-hits.
	ProcessBlock(samples []int16) (Hit, bool)

	// Reset clears rolling buffers and hit counters, as after a fire or a
	// stream restart.
	Reset()

	// Close releases model resources.
	Close() error
}

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// EnsureRuntime loads the onnxruntime shared library and initializes the
// environment once per process. Every spotter constructor requires this to
// have succeeded first. libPath may be empty if the library is on the
// default search path.
func EnsureRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("spot: initialize onnxruntime: %w", err)
		}
	})
	return runtimeErr
}

// firstIO returns the names of the model's first input and output, the same
// way the reference models are addressed by position rather than by
// hard-coded names.
func firstIO(modelPath string) (in, out string, err error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return "", "", fmt.Errorf("spot: inspect %s: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", "", fmt.Errorf("spot: model %s has no usable inputs or outputs", modelPath)
	}
	return inputs[0].Name, outputs[0].Name, nil
}

// softmax2 is a numerically stable two-class softmax.
func softmax2(a, b float64) (pa, pb float64) {
	m := a
	if b > m {
		m = b
	}
	ea := math.Exp(a - m)
	eb := math.Exp(b - m)
	s := ea + eb
	if s == 0 {
		return 0.5, 0.5
	}
	return ea / s, eb / s
}
