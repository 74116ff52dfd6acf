package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager tracks live sessions.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*Session
}

// NewManager creates a new session manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]*Session),
	}
}

// Lookup returns a snapshot of the live session with the given ID.
func (m *Manager) Lookup(sessionID string) (Info, bool) {
	s := m.get(sessionID)
	if s == nil {
		return Info{}, false
	}
	return s.Info(), true
}

func (m *Manager) get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID]
}

// Register adds a session.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.active[s.ID()]; exists && existing != s {
		_ = existing.Close()
	}
	m.active[s.ID()] = s
	slog.Debug("Relay session registered", "session_id", s.ID())
}

// Unregister removes a session if it is still the registered one.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[s.ID()]; exists && current == s {
		delete(m.active, s.ID())
		slog.Debug("Relay session unregistered", "session_id", s.ID())
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Snapshot returns the live sessions, oldest first.
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// CloseAll asks every live session to close both of its connections.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Shutdown(); err != nil {
				slog.Debug("Failed to close relay session", "session_id", s.ID(), "error", err)
			}
		}(s)
	}
	wg.Wait()
	if len(sessions) > 0 {
		slog.Info("Relay sessions closed", "count", len(sessions))
	}
}

// Drain waits until no session is registered or ctx is done.
func (m *Manager) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for m.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
