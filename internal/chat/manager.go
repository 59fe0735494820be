package chat

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/modes"
)

// SessionChangeFunc observes session replacement. prev is nil for the initial session
// and cur is nil when the manager closes.
type SessionChangeFunc func(prev, cur *Session)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInitialMode starts the manager in m instead of general.
func WithInitialMode(m modes.Mode) ManagerOption {
	return func(mgr *Manager) {
		if m.Valid() {
			mgr.initial = m
		}
	}
}

// Manager owns the single active session. Changing mode replaces it.
type Manager struct {
	service models.Service
	initial modes.Mode

	mu         sync.Mutex
	current    *Session
	generation uint64
	hooks      []SessionChangeFunc
	closed     bool
}

// NewManager creates a manager holding a fresh session at generation 1. No request
// is made to the service until the first send.
func NewManager(service models.Service, opts ...ManagerOption) *Manager {
	m := &Manager{service: service, initial: modes.General}
	for _, opt := range opts {
		opt(m)
	}
	m.generation = 1
	m.current = newSession(m.generation, m.initial)
	return m
}

// Service returns the hosted service sessions are opened on.
func (m *Manager) Service() models.Service {
	return m.service
}

// Mode returns the active mode.
func (m *Manager) Mode() modes.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Mode
}

// Current returns the active session.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Generation returns the generation of the active session.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// SetMode switches to mode. Selecting the active mode (or an invalid one) is a no-op
// and returns false. Otherwise the old session is cancelled and a new one replaces it.
func (m *Manager) SetMode(mode modes.Mode) bool {
	if !mode.Valid() {
		return false
	}

	m.mu.Lock()
	if m.closed || m.current.Mode == mode {
		m.mu.Unlock()
		return false
	}
	prev := m.current
	m.generation++
	cur := newSession(m.generation, mode)
	m.current = cur
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	prev.close()
	slog.Debug("chat session replaced",
		"from", prev.ID, "to", cur.ID, "mode", mode, "generation", cur.Generation)

	for _, fn := range hooks {
		fn(prev, cur)
	}
	return true
}

// IsCurrent reports whether s is still the active session.
func (m *Manager) IsCurrent(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return s != nil && !m.closed && s.Generation == m.generation
}

// OnSessionChange registers fn for every later session replacement.
func (m *Manager) OnSessionChange(fn SessionChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Close cancels the active session. Later sends fail and SetMode becomes a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	prev := m.current
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	prev.close()
	for _, fn := range hooks {
		fn(prev, nil)
	}
}
