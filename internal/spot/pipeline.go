package spot

import (
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// embedChunk is how many samples the pipeline consumes per step, 80 ms
	// at 16 kHz. Each step appends embedMelStride new mel frames.
	embedChunk = 1280

	// embedMelCarry is the raw-sample context prepended to each chunk so
	// mel frames at chunk boundaries see a full analysis window.
	embedMelCarry = 480

	embedMelWidth  = 32
	embedMelStride = 8

	// embedMelWindow mel frames feed one embedding; embedDim is its size.
	embedMelWindow = 76
	embedDim       = 96

	// embedHeadWindow embeddings feed each head classifier.
	embedHeadWindow = 16
)

// PipelineHead registers one classifier model on the shared embedding.
type PipelineHead struct {
	// Name keys the head's score in Push results.
	Name string

	// ModelPath locates the head ONNX model.
	ModelPath string
}

type pipelineHead struct {
	name string
	sess *ort.DynamicAdvancedSession
}

// Pipeline is the shared three-stage scorer behind the embedding-based
// detectors: raw PCM to mel frames, mel frames to a 96-dim speech embedding,
// and a rolling window of embeddings into one score per registered head.
// The stage geometry (1280-sample chunks, 32-wide mel frames, 76-frame
// embedding window, 16-deep head window) is fixed by the pretrained models.
//
// A Pipeline belongs to one goroutine. How scores turn into detections
// (thresholds, consecutive hits, cooldowns) is the caller's business.
type Pipeline struct {
	mel   *ort.DynamicAdvancedSession
	embed *ort.DynamicAdvancedSession
	heads []pipelineHead

	pending   []float32
	carry     []float32
	melFrames []float32
	embedBuf  []float32

	closed bool
}

// NewPipeline loads the two stage models and every head. The onnxruntime
// environment must already be initialized via [EnsureRuntime].
func NewPipeline(melModelPath, embedModelPath string, heads []PipelineHead) (*Pipeline, error) {
	if len(heads) == 0 {
		return nil, errors.New("spot: pipeline needs at least one head")
	}

	mel, err := openSession(melModelPath)
	if err != nil {
		return nil, fmt.Errorf("spot: mel model: %w", err)
	}
	embed, err := openSession(embedModelPath)
	if err != nil {
		mel.Destroy()
		return nil, fmt.Errorf("spot: embedding model: %w", err)
	}

	p := &Pipeline{mel: mel, embed: embed}
	for _, h := range heads {
		if h.Name == "" {
			p.destroy()
			return nil, errors.New("spot: pipeline head name must not be empty")
		}
		sess, err := openSession(h.ModelPath)
		if err != nil {
			p.destroy()
			return nil, fmt.Errorf("spot: head %q: %w", h.Name, err)
		}
		p.heads = append(p.heads, pipelineHead{name: h.Name, sess: sess})
	}
	return p, nil
}

func openSession(modelPath string) (*ort.DynamicAdvancedSession, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, err
	}
	inName, outName, err := firstIO(modelPath)
	if err != nil {
		return nil, err
	}
	sess, err := ort.NewDynamicAdvancedSession(modelPath, []string{inName}, []string{outName}, nil)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", modelPath, err)
	}
	return sess, nil
}

// Push feeds samples into the pipeline and returns one score map per
// completed step. Most pushes return no steps; a push covering several chunk
// boundaries can return several. On an inference error the offending chunk is
// dropped, already-completed steps are returned alongside the error, and the
// pipeline stays consistent for the next push.
func (p *Pipeline) Push(samples []int16) ([]map[string]float64, error) {
	if p.closed || len(samples) == 0 {
		return nil, nil
	}
	// The mel model was trained on raw int16 magnitudes, not [-1, 1].
	for _, v := range samples {
		p.pending = append(p.pending, float32(v))
	}

	var steps []map[string]float64
	for len(p.pending) >= embedChunk {
		chunk := append([]float32(nil), p.pending[:embedChunk]...)
		p.pending = append(p.pending[:0], p.pending[embedChunk:]...)

		scores, ok, err := p.step(chunk)
		if err != nil {
			return steps, err
		}
		if ok {
			steps = append(steps, scores)
		}
	}
	return steps, nil
}

// step advances all three stages by one chunk. It reports a score map only
// once every stage's window has filled, which takes about two seconds of
// audio from cold.
func (p *Pipeline) step(chunk []float32) (map[string]float64, bool, error) {
	melIn := make([]float32, 0, len(p.carry)+len(chunk))
	melIn = append(melIn, p.carry...)
	melIn = append(melIn, chunk...)
	frames, err := p.runMel(melIn)
	p.updateCarry(chunk)
	if err != nil {
		return nil, false, err
	}
	// Keep only the frames contributed by this chunk.
	if n := len(frames) / embedMelWidth; n > embedMelStride {
		frames = frames[(n-embedMelStride)*embedMelWidth:]
	}
	p.melFrames = append(p.melFrames, frames...)
	if limit := (embedMelWindow + embedHeadWindow*embedMelStride) * embedMelWidth; len(p.melFrames) > limit {
		p.melFrames = append(p.melFrames[:0], p.melFrames[len(p.melFrames)-limit:]...)
	}
	if len(p.melFrames) < embedMelWindow*embedMelWidth {
		return nil, false, nil
	}

	emb, err := p.runEmbed(p.melFrames[len(p.melFrames)-embedMelWindow*embedMelWidth:])
	if err != nil {
		return nil, false, err
	}
	p.embedBuf = append(p.embedBuf, emb...)
	if limit := embedHeadWindow * embedDim; len(p.embedBuf) > limit {
		p.embedBuf = append(p.embedBuf[:0], p.embedBuf[len(p.embedBuf)-limit:]...)
	}
	if len(p.embedBuf) < embedHeadWindow*embedDim {
		return nil, false, nil
	}

	scores := make(map[string]float64, len(p.heads))
	for _, h := range p.heads {
		score, err := p.runHead(h)
		if err != nil {
			return nil, false, err
		}
		scores[h.name] = score
	}
	return scores, true, nil
}

func (p *Pipeline) runMel(samples []float32) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return nil, err
	}
	defer in.Destroy()
	outputs := []ort.Value{nil}
	if err := p.mel.Run([]ort.Value{in}, outputs); err != nil {
		return nil, err
	}
	out := outputs[0].(*ort.Tensor[float32])
	defer out.Destroy()

	data := out.GetData()
	frames := make([]float32, len(data))
	for i, v := range data {
		frames[i] = v/10 + 2
	}
	return frames, nil
}

func (p *Pipeline) runEmbed(window []float32) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(1, embedMelWindow, embedMelWidth, 1), window)
	if err != nil {
		return nil, err
	}
	defer in.Destroy()
	outputs := []ort.Value{nil}
	if err := p.embed.Run([]ort.Value{in}, outputs); err != nil {
		return nil, err
	}
	out := outputs[0].(*ort.Tensor[float32])
	defer out.Destroy()

	emb := make([]float32, embedDim)
	copy(emb, out.GetData())
	return emb, nil
}

func (p *Pipeline) runHead(h pipelineHead) (float64, error) {
	in, err := ort.NewTensor(ort.NewShape(1, embedHeadWindow, embedDim), p.embedBuf)
	if err != nil {
		return 0, err
	}
	defer in.Destroy()
	outputs := []ort.Value{nil}
	if err := h.sess.Run([]ort.Value{in}, outputs); err != nil {
		return 0, err
	}
	out := outputs[0].(*ort.Tensor[float32])
	defer out.Destroy()

	data := out.GetData()
	if len(data) == 0 {
		return 0, errors.New("head returned no score")
	}
	return float64(data[len(data)-1]), nil
}

func (p *Pipeline) updateCarry(chunk []float32) {
	if len(chunk) >= embedMelCarry {
		p.carry = append(p.carry[:0], chunk[len(chunk)-embedMelCarry:]...)
		return
	}
	keep := embedMelCarry - len(chunk)
	if keep > len(p.carry) {
		keep = len(p.carry)
	}
	p.carry = append(p.carry[len(p.carry)-keep:], chunk...)
}

// Reset drops every buffered stage so the next score reflects only audio
// pushed from now on.
func (p *Pipeline) Reset() {
	p.pending = p.pending[:0]
	p.carry = p.carry[:0]
	p.melFrames = p.melFrames[:0]
	p.embedBuf = p.embedBuf[:0]
}

// Close releases the ONNX sessions. The pipeline ignores pushes afterwards.
func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.destroy()
	return nil
}

func (p *Pipeline) destroy() {
	if p.mel != nil {
		p.mel.Destroy()
	}
	if p.embed != nil {
		p.embed.Destroy()
	}
	for _, h := range p.heads {
		if h.sess != nil {
			h.sess.Destroy()
		}
	}
}
