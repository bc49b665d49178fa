package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/quadpick/internal/orchestrator"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Manager owns every open session.
type Manager struct {
	svc    orchestrator.Service
	cfg    Config
	ttl    time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. Sessions idle for longer than ttl are closed
// by Run; a zero ttl keeps them until deleted.
func NewManager(svc orchestrator.Service, cfg Config, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		svc:      svc,
		cfg:      cfg,
		ttl:      ttl,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Config returns the configuration new sessions are created with.
func (m *Manager) Config() Config { return m.cfg }

// Create opens a session for the upload. cfg overrides the manager defaults
// when non-nil.
func (m *Manager) Create(up Upload, cfg *Config) (*Session, error) {
	c := m.cfg
	if cfg != nil {
		c = *cfg
	}
	id := uuid.NewString()
	s, err := New(m.ctx, id, up, m.svc, c, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	activeSessions.Inc()
	m.logger.Info("session created", "session", id)
	return s, nil
}

// Get looks up a session.
func (m *Manager) Get(id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete closes and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	activeSessions.Dec()
	m.logger.Info("session closed", "session", id)
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run evicts idle sessions until ctx is done, then closes every session.
func (m *Manager) Run(ctx context.Context) {
	defer m.Close()
	if m.ttl <= 0 {
		<-ctx.Done()
		return
	}

	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.EvictIdle(now)
		}
	}
}

// EvictIdle closes sessions whose last activity is older than the ttl.
// Sessions with a live subscriber are never evicted.
func (m *Manager) EvictIdle(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	var stale []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.ttl && !s.Watched() {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	evicted := 0
	for _, id := range stale {
		if err := m.Delete(id); err == nil {
			evicted++
			sessionsEvictedTotal.Inc()
		}
	}
	if evicted > 0 {
		m.logger.Info("evicted idle sessions", "count", evicted)
	}
	return evicted
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		<-s.Done()
		activeSessions.Dec()
	}
}
