package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
)

// Manager owns one session per device and starts sessions on first contact.
type Manager struct {
	ctx      context.Context
	deps     Deps
	settings atomic.Pointer[config.Settings]

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a manager whose sessions run until ctx is cancelled or they
// are ended. deps.Settings is replaced by the manager's own snapshot.
func NewManager(ctx context.Context, settings *config.Settings, deps Deps) *Manager {
	m := &Manager{
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
	m.settings.Store(settings)
	deps.Settings = m.Settings
	m.deps = deps
	return m
}

func (m *Manager) Settings() *config.Settings {
	return m.settings.Load()
}

// SetSettings swaps the snapshot. Running sessions pick it up on their next
// login change; new sessions start with it.
func (m *Manager) SetSettings(s *config.Settings) {
	m.settings.Store(s)
}

// Start returns the running session for deviceID, starting one if needed.
func (m *Manager) Start(deviceID, loginID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[deviceID]; ok {
		select {
		case <-s.Done():
		default:
			return s
		}
	}
	s := NewSession(deviceID, loginID, m.deps)
	m.sessions[deviceID] = s
	go s.Run(m.ctx)
	return s
}

func (m *Manager) Lookup(deviceID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

func (m *Manager) Submit(deviceID string, p domain.PositionSample) bool {
	return m.Start(deviceID, "").Submit(p)
}

func (m *Manager) Acknowledge(ctx context.Context, deviceID string) error {
	s, ok := m.Lookup(deviceID)
	if !ok {
		return nil
	}
	return s.Acknowledge(ctx)
}

// ChangeLogin switches the login of a running session, or starts a session with
// that login.
func (m *Manager) ChangeLogin(ctx context.Context, deviceID, loginID string) error {
	if s, ok := m.Lookup(deviceID); ok {
		err := s.ChangeLogin(ctx, loginID)
		if !errors.Is(err, ErrSessionEnded) {
			return err
		}
	}
	m.Start(deviceID, loginID)
	return nil
}

// End stops the device's session. It reports false when none was running.
func (m *Manager) End(ctx context.Context, deviceID string) (bool, error) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	delete(m.sessions, deviceID)
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, s.End(ctx)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close ends every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.End(ctx)
	}
}
