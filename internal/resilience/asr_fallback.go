package resilience

import (
	"context"

	"github.com/urecho/urecho/pkg/provider/asr"
)

// ASRFallback implements [asr.Transcriber] with automatic failover across
// multiple recognition backends. Each backend has its own circuit breaker.
//
// An empty Result with a nil error is a successful "heard nothing" and does
// not trigger failover; only backend errors move on to the next entry.
type ASRFallback struct {
	group *FallbackGroup[asr.Transcriber]
}

// Compile-time interface assertion.
var _ asr.Transcriber = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
func NewASRFallback(primary asr.Transcriber, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *ASRFallback) AddFallback(name string, tr asr.Transcriber) {
	f.group.AddFallback(name, tr)
}

// Transcribe recognizes pcm through the first healthy backend.
func (f *ASRFallback) Transcribe(ctx context.Context, pcm []int16, langHint string) (asr.Result, error) {
	return ExecuteWithResult(f.group, func(tr asr.Transcriber) (asr.Result, error) {
		return tr.Transcribe(ctx, pcm, langHint)
	})
}

// TranscribeBilingual recognizes pcm through the first healthy backend.
func (f *ASRFallback) TranscribeBilingual(ctx context.Context, pcm []int16) (asr.Result, error) {
	return ExecuteWithResult(f.group, func(tr asr.Transcriber) (asr.Result, error) {
		return tr.TranscribeBilingual(ctx, pcm)
	})
}

// Healthy returns nil while at least one backend's circuit is not open, for
// readiness checks.
func (f *ASRFallback) Healthy() error {
	return f.group.Healthy()
}
