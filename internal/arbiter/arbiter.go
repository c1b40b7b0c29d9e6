// Package arbiter multiplexes several wake engines into one standby poll.
//
// Engines differ in cost and latency, so the arbiter never runs them
// concurrently: it polls each engine in turn for a short slice of the
// caller's timeout. The first engine to report a hit wins the round, which
// means engine order is also the priority order. An engine that fails is
// disabled and the rest keep working; standby only breaks when no engine
// is left.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/urecho/urecho/pkg/provider/wake"
)

// Entry pairs a wake engine with the name used in logs.
type Entry struct {
	Name   string
	Engine wake.Engine
}

// Config configures the arbiter.
type Config struct {
	// SubTimeout is one engine's slice of a multi-engine poll. With a
	// single engine the caller's timeout is passed through whole.
	// Defaults to 100ms.
	SubTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubTimeout <= 0 {
		c.SubTimeout = 100 * time.Millisecond
	}
	return c
}

type entry struct {
	name string
	eng  wake.Engine
	dead bool
}

// Arbiter polls wake engines round-robin. It is owned by the standby loop
// and, like the engines themselves, is not safe for concurrent use.
type Arbiter struct {
	cfg     Config
	log     *slog.Logger
	entries []*entry

	closeOnce sync.Once
	closeErr  error
}

// New builds an arbiter over the given engines. Order matters: earlier
// entries are polled first and win ties.
func New(entries []Entry, cfg Config, log *slog.Logger) (*Arbiter, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(entries) == 0 {
		return nil, errors.New("arbiter: at least one wake engine is required")
	}
	a := &Arbiter{cfg: cfg.withDefaults(), log: log}
	for i, ent := range entries {
		if ent.Engine == nil {
			return nil, fmt.Errorf("arbiter: engine %d is nil", i)
		}
		name := ent.Name
		if name == "" {
			name = fmt.Sprintf("wake-%d", i)
		}
		a.entries = append(a.entries, &entry{name: name, eng: ent.Engine})
	}
	a.log.Info("wake arbiter ready", "engines", a.Names(), "sub_timeout", a.cfg.SubTimeout)
	return a, nil
}

// Names lists the configured engine names in priority order.
func (a *Arbiter) Names() []string {
	names := make([]string, len(a.entries))
	for i, ent := range a.entries {
		names[i] = ent.name
	}
	return names
}

// Wait polls the engines until one reports a hit or the timeout budget is
// spent. A (nil, nil) return means a quiet poll; the caller loops. Engine
// failures disable the failing engine, and Wait errors only when every
// engine is gone or ctx is cancelled.
func (a *Arbiter) Wait(ctx context.Context, timeout time.Duration) (*wake.Hit, error) {
	live := a.live()
	if len(live) == 0 {
		return nil, errors.New("arbiter: no live wake engines")
	}
	if len(live) == 1 {
		return a.poll(ctx, live[0], timeout)
	}

	// Each engine gets SubTimeout slices of the budget in turn, so a hit
	// on any engine is noticed within one round.
	remaining := timeout
	for remaining > 0 {
		for _, ent := range a.entries {
			if ent.dead || remaining <= 0 {
				continue
			}
			slice := a.cfg.SubTimeout
			if slice > remaining {
				slice = remaining
			}
			remaining -= slice
			hit, err := a.poll(ctx, ent, slice)
			if err != nil || hit != nil {
				return hit, err
			}
		}
		if len(a.live()) == 0 {
			return nil, errors.New("arbiter: all wake engines failed")
		}
	}
	return nil, nil
}

// poll runs one engine once. Context errors propagate untouched; engine
// errors disable the engine. With other engines still live the failure is
// swallowed so the round can continue.
func (a *Arbiter) poll(ctx context.Context, ent *entry, timeout time.Duration) (*wake.Hit, error) {
	hit, err := ent.eng.WaitForAny(ctx, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		ent.dead = true
		a.log.Warn("wake engine failed, disabling", "engine", ent.name, "error", err)
		if len(a.live()) == 0 {
			return nil, fmt.Errorf("arbiter: last wake engine failed: %w", err)
		}
		return nil, nil
	}
	if hit != nil {
		a.log.Info("wake hit",
			"engine", ent.name, "keyword", hit.Keyword, "lang", hit.Lang)
	}
	return hit, nil
}

func (a *Arbiter) live() []*entry {
	var live []*entry
	for _, ent := range a.entries {
		if !ent.dead {
			live = append(live, ent)
		}
	}
	return live
}

// Close closes every engine. Safe to call more than once.
func (a *Arbiter) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		for _, ent := range a.entries {
			if err := ent.eng.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ent.name, err))
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
