package convo

import (
	"sync"
	"time"
)

// Role distinguishes who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one recorded unit of dialogue.
type Turn struct {
	Role     Role      `json:"role"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
	At       time.Time `json:"at"`
}

// History is a bounded, append-only sequence of turns. When the cap is
// reached the oldest turn is evicted first, bounding both memory and prompt
// size. A History is owned by one session; the mutex exists because the
// session manager reads it for introspection while the session appends.
type History struct {
	mu    sync.Mutex
	cap   int
	turns []Turn
}

const DefaultMaxTurns = 20

func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &History{cap: maxTurns}
}

// Append records a turn, evicting the oldest when full.
func (h *History) Append(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
	if len(h.turns) > h.cap {
		over := len(h.turns) - h.cap
		h.turns = append(h.turns[:0], h.turns[over:]...)
	}
}

// Turns returns a snapshot in chronological order.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Clear discards all recorded turns.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = h.turns[:0]
}
