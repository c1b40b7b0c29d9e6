package gen

import (
	"context"
	"sync"
)

// Inflight tracks the cancel functions of streams currently running so a
// Generator can implement Stop. The zero value is ready to use.
type Inflight struct {
	mu      sync.Mutex
	next    uint64
	cancels map[uint64]context.CancelFunc
}

// Add registers cancel and returns the release function the stream calls
// once it finishes on its own.
func (f *Inflight) Add(cancel context.CancelFunc) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancels == nil {
		f.cancels = make(map[uint64]context.CancelFunc)
	}
	id := f.next
	f.next++
	f.cancels[id] = cancel
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.cancels, id)
	}
}

// StopAll cancels every registered stream and clears the set.
func (f *Inflight) StopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, cancel := range f.cancels {
		cancel()
		delete(f.cancels, id)
	}
}
