package session_test

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/urecho/urecho/internal/session"
)

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state session.State
		want  string
	}{
		{session.Standby, "standby"},
		{session.Listening, "listening"},
		{session.Thinking, "thinking"},
		{session.Speaking, "speaking"},
		{session.State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d): want %q, got %q", int(tt.state), tt.want, got)
		}
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	m := session.New(session.Config{}, nil)
	if got := m.State(); got != session.Standby {
		t.Fatalf("want a fresh machine in standby, got %v", got)
	}
	if m.InSession() {
		t.Fatal("want InSession false in standby")
	}

	steps := []struct {
		name string
		move func() bool
		want session.State
	}{
		{"wake", m.Wake, session.Listening},
		{"think", m.Think, session.Thinking},
		{"speak", m.Speak, session.Speaking},
		{"listen", m.Listen, session.Listening},
		{"think again", m.Think, session.Thinking},
	}
	for _, s := range steps {
		if !s.move() {
			t.Fatalf("%s: transition rejected", s.name)
		}
		if got := m.State(); got != s.want {
			t.Fatalf("%s: want %v, got %v", s.name, s.want, got)
		}
	}
	if !m.InSession() {
		t.Fatal("want InSession true mid-session")
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	t.Parallel()

	m := session.New(session.Config{}, nil)

	if m.Think() {
		t.Error("Think from standby should be rejected")
	}
	if m.Speak() {
		t.Error("Speak from standby should be rejected")
	}
	if m.Listen() {
		t.Error("Listen from standby should be rejected")
	}
	if got := m.State(); got != session.Standby {
		t.Fatalf("rejected transitions must not move the state, got %v", got)
	}

	m.Wake()
	if m.Wake() {
		t.Error("Wake from listening should be rejected")
	}
	if m.Speak() {
		t.Error("Speak from listening should be rejected")
	}
	if got := m.State(); got != session.Listening {
		t.Fatalf("want listening, got %v", got)
	}
}

func TestSetStandbyFromAnyState(t *testing.T) {
	t.Parallel()

	advance := map[string]func(m *session.Machine){
		"listening": func(m *session.Machine) { m.Wake() },
		"thinking":  func(m *session.Machine) { m.Wake(); m.Think() },
		"speaking":  func(m *session.Machine) { m.Wake(); m.Think(); m.Speak() },
	}
	for name, setup := range advance {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			m := session.New(session.Config{}, nil)
			setup(m)
			m.History().Add(session.RoleUser, "hello")

			m.SetStandby("test")
			if got := m.State(); got != session.Standby {
				t.Fatalf("want standby, got %v", got)
			}
			if got := m.History().Len(); got != 0 {
				t.Errorf("want history cleared at session end, got %d turns", got)
			}
		})
	}
}

func TestOnChangeHook(t *testing.T) {
	t.Parallel()

	type change struct{ from, to session.State }
	var (
		mu      sync.Mutex
		changes []change
	)
	m := session.New(session.Config{}, nil, session.WithOnChange(func(from, to session.State) {
		mu.Lock()
		changes = append(changes, change{from, to})
		mu.Unlock()
	}))

	m.Wake()
	m.Think()
	m.SetStandby("done")
	m.SetStandby("again") // no-op, must not fire the hook

	want := []change{
		{session.Standby, session.Listening},
		{session.Listening, session.Thinking},
		{session.Thinking, session.Standby},
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(changes, want) {
		t.Errorf("want changes %v, got %v", want, changes)
	}
}

func TestIdleExpiry(t *testing.T) {
	t.Parallel()

	m := session.New(session.Config{IdleTimeout: 30 * time.Millisecond}, nil)

	// Standby never expires, no matter how long it sits.
	time.Sleep(50 * time.Millisecond)
	if m.IdleExpired() {
		t.Fatal("standby must not report idle expiry")
	}

	m.Wake()
	if m.IdleExpired() {
		t.Fatal("a fresh session is not idle")
	}
	time.Sleep(50 * time.Millisecond)
	if !m.IdleExpired() {
		t.Fatal("want idle expiry after the timeout")
	}

	m.Touch()
	if m.IdleExpired() {
		t.Fatal("Touch should reset the idle clock")
	}

	time.Sleep(50 * time.Millisecond)
	m.Think() // transitions refresh the clock too
	if m.IdleExpired() {
		t.Fatal("a transition should reset the idle clock")
	}
}

func TestHistoryCap(t *testing.T) {
	t.Parallel()

	m := session.New(session.Config{MaxTurns: 3}, nil)
	h := m.History()
	h.Add(session.RoleUser, "one")
	h.Add(session.RoleAssistant, "two")
	h.Add(session.RoleUser, "three")
	h.Add(session.RoleAssistant, "four")
	h.Add(session.RoleUser, "five")

	want := []session.Turn{
		{Role: session.RoleUser, Text: "three"},
		{Role: session.RoleAssistant, Text: "four"},
		{Role: session.RoleUser, Text: "five"},
	}
	if got := h.Turns(); !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
	if got := h.Len(); got != 3 {
		t.Errorf("want 3 turns, got %d", got)
	}
}
