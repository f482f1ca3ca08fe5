package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrSessionNotFound is returned when a session is not open.
var ErrSessionNotFound = errors.New("session not found")

// Manager keeps one Session per session ID.
type Manager struct {
	mu       sync.Mutex
	client   Client
	opts     []Option
	sessions map[string]*Session
}

// NewManager returns a manager that opens sessions over client with opts.
func NewManager(client Client, opts ...Option) *Manager {
	return &Manager{
		client:   client,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session for handle, creating it on first use.
func (m *Manager) Open(handle Handle) (*Session, error) {
	if handle.SessionID == "" {
		return nil, ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[handle.SessionID]; ok {
		return s, nil
	}
	s := New(handle, m.client, m.opts...)
	m.sessions[handle.SessionID] = s
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close cancels the session's active turn and forgets it.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Cancel()
	return nil
}

// CancelAll cancels every active turn and returns how many were active.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	cancelled := 0
	for _, s := range sessions {
		if s.Cancel() {
			cancelled++
		}
	}
	return cancelled
}

// IDs returns the open session IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
