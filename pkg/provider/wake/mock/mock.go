// Package mock provides a scriptable wake engine for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/urecho/urecho/pkg/provider/wake"
)

// Engine is a wake.Engine whose behavior is driven by exported fields.
type Engine struct {
	mu sync.Mutex

	// Hits are popped one per WaitForAny call. A nil entry scripts a
	// quiet poll; an exhausted list stays quiet.
	Hits []*wake.Hit

	// WaitErr, when set, is returned by every WaitForAny call.
	WaitErr error

	// CloseErr is returned by Close.
	CloseErr error

	// Delay stalls each WaitForAny call before it returns, honoring ctx.
	Delay time.Duration

	// WaitCalls records the timeout of each WaitForAny call.
	WaitCalls []time.Duration

	// CloseCalls counts Close calls.
	CloseCalls int
}

// Ensure Engine implements wake.Engine at compile time.
var _ wake.Engine = (*Engine)(nil)

func (e *Engine) WaitForAny(ctx context.Context, timeout time.Duration) (*wake.Hit, error) {
	e.mu.Lock()
	e.WaitCalls = append(e.WaitCalls, timeout)
	delay := e.Delay
	err := e.WaitErr
	var hit *wake.Hit
	if err == nil && len(e.Hits) > 0 {
		hit = e.Hits[0]
		e.Hits = e.Hits[1:]
	}
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return hit, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCalls++
	return e.CloseErr
}
