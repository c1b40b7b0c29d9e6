package actions

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher consumes directive events.
//
// Dispatch is called from the pump's worker goroutine, one event at a
// time, in the order the directives appeared in the reply.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// LogDispatcher records every directive at info level. The baseline
// dispatcher: wired even when no tool server is configured, so
// directives are never invisible.
type LogDispatcher struct {
	Log *slog.Logger
}

func (l *LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("action directive", "kind", string(ev.Kind), "value", ev.Value)
	return nil
}

// Pump fans events out to dispatchers from a dedicated worker so a slow
// tool server can never stall the speaking pipeline. The queue is
// bounded; when it is full new events are dropped with a warning rather
// than blocking the producer.
type Pump struct {
	log         *slog.Logger
	dispatchers []Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewPump starts the worker. depth bounds the queue; values <= 0 select
// the default of 16.
func NewPump(depth int, log *slog.Logger, dispatchers ...Dispatcher) *Pump {
	if depth <= 0 {
		depth = 16
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		log:         log,
		dispatchers: dispatchers,
		ctx:         ctx,
		cancel:      cancel,
		ch:          make(chan Event, depth),
		done:        make(chan struct{}),
	}
	go p.run()
	return p
}

// Post queues one event. Never blocks; a full queue drops the event and
// posting after Close is a no-op.
func (p *Pump) Post(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- ev:
	default:
		p.log.Warn("action queue full, dropping directive", "kind", string(ev.Kind), "value", ev.Value)
	}
}

// PostAll queues a batch in order.
func (p *Pump) PostAll(evs []Event) {
	for _, ev := range evs {
		p.Post(ev)
	}
}

// Close stops the worker and waits for it. The in-flight dispatch is
// canceled; events still queued run with a canceled context, so network
// dispatchers abort fast while the log dispatcher still records them.
func (p *Pump) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	p.cancel()
	close(p.ch)
	p.mu.Unlock()
	<-p.done
}

func (p *Pump) run() {
	defer close(p.done)
	for ev := range p.ch {
		for _, d := range p.dispatchers {
			if err := d.Dispatch(p.ctx, ev); err != nil {
				p.log.Warn("action dispatch failed", "kind", string(ev.Kind), "value", ev.Value, "error", err)
			}
		}
	}
}

// Ensure LogDispatcher implements Dispatcher at compile time.
var _ Dispatcher = (*LogDispatcher)(nil)
