package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEmptySession is returned when a turn is requested without a session id
var ErrEmptySession = errors.New("session id is required")

// ConflictError means the session already has a turn in flight
type ConflictError struct {
	SessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s already has an active turn", e.SessionID)
}

// Manager hands out one ConversationState per session at a time.
// State is only reachable through the handle returned by Acquire.
type Manager struct {
	mu     sync.Mutex
	active map[string]*ConversationState
	now    func() time.Time
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]*ConversationState),
		now:    time.Now,
	}
}

// Acquire creates the state for a new turn. It fails with ConflictError if
// the session already has an active turn.
func (m *Manager) Acquire(sessionID string) (*ConversationState, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[sessionID]; busy {
		return nil, &ConflictError{SessionID: sessionID}
	}

	st := newState(sessionID, m.now())
	m.active[sessionID] = st
	return st, nil
}

// Release tears down the session's state, making it eligible for a new turn.
// Releasing an idle session is a no-op.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()
}

// WithTurn runs fn with a freshly acquired state and releases it on every
// exit path, panics included.
func (m *Manager) WithTurn(sessionID string, fn func(*ConversationState) error) error {
	st, err := m.Acquire(sessionID)
	if err != nil {
		return err
	}
	defer m.Release(sessionID)
	return fn(st)
}

// IsActive reports whether a turn is in flight for the session
func (m *Manager) IsActive(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[sessionID]
	return ok
}

// ActiveCount returns the number of in-flight turns
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
