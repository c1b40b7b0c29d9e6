package resilience

import (
	"context"

	"github.com/urecho/urecho/pkg/provider/gen"
)

// GenFallback implements [gen.Generator] with automatic failover across
// multiple reply backends. Each backend has its own circuit breaker; when
// the primary fails to open a stream or its breaker is open, the next
// healthy fallback is tried.
type GenFallback struct {
	group *FallbackGroup[gen.Generator]
}

// Compile-time interface assertion.
var _ gen.Generator = (*GenFallback)(nil)

// NewGenFallback creates a [GenFallback] with primary as the preferred backend.
func NewGenFallback(primary gen.Generator, primaryName string, cfg FallbackConfig) *GenFallback {
	return &GenFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional generator as a fallback.
func (f *GenFallback) AddFallback(name string, g gen.Generator) {
	f.group.AddFallback(name, g)
}

// GenerateStream opens a reply stream on the first healthy backend. Only
// stream startup participates in failover; once a backend has opened its
// channel, mid-stream failures are spoken by that backend as its localized
// fallback sentence.
func (f *GenFallback) GenerateStream(ctx context.Context, req gen.Request) (<-chan string, error) {
	return ExecuteWithResult(f.group, func(g gen.Generator) (<-chan string, error) {
		return g.GenerateStream(ctx, req)
	})
}

// Stop cancels in-flight streams on every backend, not just the primary; a
// turn may have failed over mid-session.
func (f *GenFallback) Stop() {
	for i := range f.group.entries {
		f.group.entries[i].value.Stop()
	}
}

// Healthy returns nil while at least one backend's circuit is not open, for
// readiness checks.
func (f *GenFallback) Healthy() error {
	return f.group.Healthy()
}
