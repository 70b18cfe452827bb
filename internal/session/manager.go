package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Davemuriu/tac-shop/internal/cache"
	"github.com/Davemuriu/tac-shop/internal/domain"
	"github.com/Davemuriu/tac-shop/internal/xid"
)

// Manager tracks open till sessions. Live sessions are held in memory and a
// snapshot of each is written through to the SessionStore after every
// mutation so that a restarted process can pick them up again.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    cache.SessionStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewManager(store cache.SessionStore, logger *zap.Logger) *Manager {
	if store == nil {
		store = cache.NoopSessionStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger.Named("session"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for new sessions.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Manager) Open(ctx context.Context, cashier string) *Session {
	s := New(xid.New("sess"), cashier, m.now)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.Save(ctx, s)
	return s
}

func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	snap, found, err := m.store.Load(ctx, id)
	if err != nil {
		m.logger.Warn("session snapshot load failed", zap.String("session_id", id), zap.Error(err))
	}
	if !found || snap == nil {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	s = FromSnapshot(*snap, m.now)
	m.sessions[id] = s
	m.logger.Info("session restored", zap.String("session_id", id), zap.String("cashier", s.Cashier()))
	return s, nil
}

// Save writes the session snapshot. Failures are logged and swallowed since
// the in-memory session stays authoritative.
func (m *Manager) Save(ctx context.Context, s *Session) {
	if err := m.store.Save(ctx, s.Snapshot()); err != nil {
		m.logger.Warn("session snapshot save failed", zap.String("session_id", s.ID()), zap.Error(err))
	}
}

func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		if _, found, _ := m.store.Load(ctx, id); !found {
			return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
		}
	}
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("session snapshot delete failed", zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
