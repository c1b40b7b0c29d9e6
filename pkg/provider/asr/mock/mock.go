// Package mock provides a scriptable transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/urecho/urecho/pkg/provider/asr"
)

// Call records one transcription request.
type Call struct {
	PCM       []int16
	LangHint  string
	Bilingual bool
}

// Transcriber is an asr.Transcriber whose behavior is driven by exported
// fields.
type Transcriber struct {
	mu sync.Mutex

	// Results are popped one per call, either method. An exhausted list
	// yields the zero Result.
	Results []asr.Result

	// Err, when set, is returned by every call.
	Err error

	// Calls records every request in order.
	Calls []Call
}

// Ensure Transcriber implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Transcriber)(nil)

func (t *Transcriber) Transcribe(ctx context.Context, pcm []int16, langHint string) (asr.Result, error) {
	return t.record(pcm, langHint, false)
}

func (t *Transcriber) TranscribeBilingual(ctx context.Context, pcm []int16) (asr.Result, error) {
	return t.record(pcm, "", true)
}

func (t *Transcriber) record(pcm []int16, langHint string, bilingual bool) (asr.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]int16, len(pcm))
	copy(buf, pcm)
	t.Calls = append(t.Calls, Call{PCM: buf, LangHint: langHint, Bilingual: bilingual})
	if t.Err != nil {
		return asr.Result{}, t.Err
	}
	if len(t.Results) == 0 {
		return asr.Result{}, nil
	}
	res := t.Results[0]
	t.Results = t.Results[1:]
	return res, nil
}
