package session

import "sync"

// Role identifies who produced a turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the session transcript.
type Turn struct {
	Role Role
	Text string
}

// History is the bounded per-session transcript handed to the generator
// as conversation context. Append-only within a session; the machine
// clears it when the session ends.
//
// Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	max   int
	turns []Turn
}

func newHistory(max int) *History {
	return &History{max: max}
}

// Add appends one turn, dropping the oldest once the cap is reached.
func (h *History) Add(role Role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{Role: role, Text: text})
	if len(h.turns) > h.max {
		h.turns = h.turns[len(h.turns)-h.max:]
	}
}

// Turns returns a copy of the transcript, oldest first.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.turns...)
}

// Len returns the number of buffered turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Clear empties the transcript.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
