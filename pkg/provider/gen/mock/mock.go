// Package mock provides a scriptable generator for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/urecho/urecho/pkg/provider/gen"
)

// Generator is a gen.Generator whose behavior is driven by exported
// fields. Set them before handing the mock to the code under test.
type Generator struct {
	mu sync.Mutex

	// Fragments are sent on every stream, in order, then the channel
	// closes.
	Fragments []string

	// Delay, when positive, is slept before each fragment so tests can
	// interrupt a stream mid-reply.
	Delay time.Duration

	// Err, when set, is returned by GenerateStream instead of a stream.
	Err error

	// Requests records every request in order.
	Requests []gen.Request

	// Stopped counts Stop calls.
	Stopped int

	cancels []context.CancelFunc
}

// Ensure Generator implements gen.Generator at compile time.
var _ gen.Generator = (*Generator)(nil)

func (g *Generator) GenerateStream(ctx context.Context, req gen.Request) (<-chan string, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	if g.Err != nil {
		err := g.Err
		g.mu.Unlock()
		return nil, err
	}
	fragments := make([]string, len(g.Fragments))
	copy(fragments, g.Fragments)
	delay := g.Delay
	sctx, cancel := context.WithCancel(ctx)
	g.cancels = append(g.cancels, cancel)
	g.mu.Unlock()

	ch := make(chan string, len(fragments))
	go func() {
		defer close(ch)
		defer cancel()
		for _, f := range fragments {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-sctx.Done():
					return
				}
			}
			select {
			case ch <- f:
			case <-sctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Stopped++
	for _, cancel := range g.cancels {
		cancel()
	}
	g.cancels = nil
}
