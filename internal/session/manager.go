package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/samvad-ai/samvad/internal/convo"
)

var (
	// ErrConflict means the room already has an active session.
	ErrConflict = errors.New("room already has an active session")
	// ErrNotFound means no session matched the identifier.
	ErrNotFound = errors.New("session not found")
)

// Manager owns the session registry. One active session per room; lookup
// by session ID or room; idle sessions are reaped by the janitor.
type Manager struct {
	deps Deps
	cfg  Config

	mu     sync.RWMutex
	byID   map[string]*Session
	byRoom map[string]*Session
}

func NewManager(deps Deps, cfg Config) *Manager {
	if cfg.HistoryMaxTurns <= 0 {
		cfg.HistoryMaxTurns = convo.DefaultMaxTurns
	}
	return &Manager{
		deps:   deps,
		cfg:    cfg,
		byID:   make(map[string]*Session),
		byRoom: make(map[string]*Session),
	}
}

// Create registers and starts a session for the room. A second create for
// a room with a live session returns ErrConflict.
func (m *Manager) Create(ctx context.Context, room, participant string) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.byRoom[room]; ok && !existing.State().Terminal() {
		m.mu.Unlock()
		return nil, ErrConflict
	}

	s := newSession(room, participant, m.cfg, m.deps)
	s.onClose = func(closed *Session) {
		m.remove(closed)
		m.deps.Metrics.ActiveSessions.Dec()
		m.deps.Metrics.SessionEvents.WithLabelValues("destroyed").Inc()
	}
	m.byID[s.id] = s
	m.byRoom[room] = s
	m.mu.Unlock()

	// Inc before start so a failed start's teardown hook stays balanced.
	m.deps.Metrics.ActiveSessions.Inc()

	if err := s.start(ctx); err != nil {
		return nil, err
	}

	m.deps.Metrics.SessionEvents.WithLabelValues("created").Inc()
	return s, nil
}

// Get returns the session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// GetByRoom returns the room's active session.
func (m *Manager) GetByRoom(room string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byRoom[room]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Destroy tears the session down and waits for its run loop to exit.
// Destroying an unknown or already-destroyed session is a no-op.
func (m *Manager) Destroy(id string) {
	m.mu.RLock()
	s, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	s.Close()
	<-s.Done()
}

// DestroyByRoom tears down the room's session, if any.
func (m *Manager) DestroyByRoom(room string) {
	m.mu.RLock()
	s, ok := m.byRoom[room]
	m.mu.RUnlock()
	if !ok {
		return
	}
	s.Close()
	<-s.Done()
}

// List snapshots every registered session, ordered by creation time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// GetHistory returns a snapshot of the session's in-memory conversation
// history, oldest first.
func (m *Manager) GetHistory(id string) ([]convo.Turn, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.hist.Turns(), nil
}

// ClearHistory empties the session's conversation history. Subsequent
// turns start from a blank context.
func (m *Manager) ClearHistory(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.hist.Clear()
	m.deps.Engine.Forget(id)
	return nil
}

// Shutdown destroys every session and blocks until all run loops exit.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		<-s.Done()
	}
}

// StartJanitor reaps sessions idle past maxIdle. It runs until ctx is
// canceled.
func (m *Manager) StartJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapIdle(maxIdle)
			}
		}
	}()
}

func (m *Manager) reapIdle(maxIdle time.Duration) {
	cutoff := time.Now().UTC().Add(-maxIdle)

	m.mu.RLock()
	var stale []*Session
	for _, s := range m.byID {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		m.deps.Metrics.SessionEvents.WithLabelValues("expired").Inc()
		s.Close()
		<-s.Done()
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, s.id)
	if current, ok := m.byRoom[s.room]; ok && current == s {
		delete(m.byRoom, s.room)
	}
}
