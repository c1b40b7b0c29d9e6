// Package session tracks where a conversation is and what was said.
//
// The machine holds exactly one state at a time: Standby until the wake
// word, then Listening, Thinking and Speaking around each turn.
// Transitions are validated; any state drops to Standby through
// SetStandby, which ends the session and clears its history. An idle
// clock expires sessions that go quiet.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// State is the conversation phase.
type State int

const (
	// Standby means no session is open: only the wake word is heard.
	Standby State = iota

	// Listening means the session is open and capture is live.
	Listening

	// Thinking means an utterance was accepted and the reply is being
	// generated.
	Thinking

	// Speaking means the reply is playing.
	Speaking
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Standby:
		return "standby"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Config tunes the machine.
type Config struct {
	// IdleTimeout drops a quiet session to Standby. Defaults to 12s.
	IdleTimeout time.Duration

	// MaxTurns caps the session history; the oldest turn drops first.
	// Defaults to 12.
	MaxTurns int
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 12 * time.Second
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 12
	}
	return c
}

// Option customizes a Machine.
type Option func(*Machine)

// WithOnChange attaches a hook observing every transition. It runs with
// the machine unlocked, in the goroutine that drove the transition.
func WithOnChange(fn func(from, to State)) Option {
	return func(m *Machine) { m.onChange = fn }
}

// Machine is the session state machine.
//
// Safe for concurrent use: the interaction loop drives the transitions
// while the exit detector and the monitor observe from their own
// goroutines.
type Machine struct {
	cfg      Config
	log      *slog.Logger
	onChange func(from, to State)

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	hist         *History
}

// New builds a machine in Standby.
func New(cfg Config, log *slog.Logger, opts ...Option) *Machine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	m := &Machine{cfg: cfg, log: log, hist: newHistory(cfg.MaxTurns)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// transition moves from one state to another if the machine is currently
// in from, refreshing the idle clock on the way.
func (m *Machine) transition(from, to State) bool {
	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		m.log.Debug("transition rejected", "state", cur, "want", from, "to", to)
		return false
	}
	m.state = to
	m.lastActivity = time.Now()
	m.mu.Unlock()

	m.log.Info("session state", "from", from, "to", to)
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return true
}

// Wake opens a session: Standby to Listening.
func (m *Machine) Wake() bool { return m.transition(Standby, Listening) }

// Think accepts a validated utterance: Listening to Thinking.
func (m *Machine) Think() bool { return m.transition(Listening, Thinking) }

// Speak marks the first reply chunk ready: Thinking to Speaking.
func (m *Machine) Speak() bool { return m.transition(Thinking, Speaking) }

// Listen returns to listening after playback ends or a barge-in:
// Speaking to Listening.
func (m *Machine) Listen() bool { return m.transition(Speaking, Listening) }

// SetStandby ends the session from any state and clears its history.
// This is the only externally exposed setter; reason lands in the log.
// A no-op when already in Standby.
func (m *Machine) SetStandby(reason string) {
	m.mu.Lock()
	from := m.state
	if from == Standby {
		m.mu.Unlock()
		return
	}
	m.state = Standby
	m.mu.Unlock()

	m.hist.Clear()
	m.log.Info("session ended", "reason", reason, "from", from)
	if m.onChange != nil {
		m.onChange(from, Standby)
	}
}

// State returns the current phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InSession reports whether a session is open.
func (m *Machine) InSession() bool {
	return m.State() != Standby
}

// Touch refreshes the idle clock without a transition, for activity that
// keeps the session alive but changes no state, like a partial
// transcript arriving.
func (m *Machine) Touch() {
	m.mu.Lock()
	if m.state != Standby {
		m.lastActivity = time.Now()
	}
	m.mu.Unlock()
}

// IdleExpired reports whether the session has been quiet for longer than
// the idle timeout. Always false in Standby. The interaction loop polls
// this and ends the session through SetStandby.
func (m *Machine) IdleExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != Standby && time.Since(m.lastActivity) > m.cfg.IdleTimeout
}

// History returns the session transcript buffer.
func (m *Machine) History() *History {
	return m.hist
}
