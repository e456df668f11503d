package roomio

import (
	"context"
	"sync"
)

// MockTransport is an in-process Transport for tests and local development.
// Test code injects room activity with Emit and inspects reply audio with
// SentFrames.
type MockTransport struct {
	events chan Event

	mu     sync.Mutex
	sent   map[string][][]byte
	closed bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		events: make(chan Event, 64),
		sent:   make(map[string][][]byte),
	}
}

func (t *MockTransport) Events() <-chan Event { return t.events }

// Emit injects one room event.
func (t *MockTransport) Emit(ev Event) {
	t.events <- ev
}

func (t *MockTransport) SendFrame(_ context.Context, room string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	frame := make([]byte, len(data))
	copy(frame, data)
	t.sent[room] = append(t.sent[room], frame)
	return nil
}

// SentFrames returns the reply frames delivered to a room so far.
func (t *MockTransport) SentFrames(room string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent[room]))
	copy(out, t.sent[room])
	return out
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}
