// Package session manages lease-based player sessions and battle join codes.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openwargame/wargame-server-go/internal/game"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Session ties one connected player to a battle seat. Sessions expire unless
// renewed within the lease period.
type Session struct {
	ID         string
	PlayerName string
	BattleID   string
	Seat       game.Player
	LastSeen   time.Time
}

// Manager owns every live session.
type Manager struct {
	logger *zap.Logger
	lease  time.Duration
	max    int

	mu       sync.RWMutex
	sessions map[string]*Session
	// joinCodes maps battle ID to the bcrypt hash of its join code.
	joinCodes map[string][]byte
}

// NewManager creates a session manager with the given lease period.
func NewManager(lease time.Duration, maxSessions int, logger *zap.Logger) *Manager {
	return &Manager{
		logger:    logger,
		lease:     lease,
		max:       maxSessions,
		sessions:  make(map[string]*Session),
		joinCodes: make(map[string][]byte),
	}
}

// SetJoinCode stores the hashed join code guests must present for a battle.
func (m *Manager) SetJoinCode(battleID, code string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing join code: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinCodes[battleID] = hash
	return nil
}

// Create registers a session for a battle seat. When a join code was set for
// the battle, it must match.
func (m *Manager) Create(playerName, battleID, code string, seat game.Player) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && len(m.sessions) >= m.max {
		return nil, fmt.Errorf("session limit of %d reached", m.max)
	}
	if hash, guarded := m.joinCodes[battleID]; guarded {
		if err := bcrypt.CompareHashAndPassword(hash, []byte(code)); err != nil {
			return nil, fmt.Errorf("join code rejected for battle %s", battleID)
		}
	}
	for _, s := range m.sessions {
		if s.BattleID == battleID && s.Seat == seat {
			return nil, fmt.Errorf("seat %s in battle %s is taken", seat, battleID)
		}
	}
	s := &Session{
		ID:         uuid.NewString(),
		PlayerName: playerName,
		BattleID:   battleID,
		Seat:       seat,
		LastSeen:   time.Now(),
	}
	m.sessions[s.ID] = s
	if m.logger != nil {
		m.logger.Info("session created",
			zap.String("session_id", s.ID),
			zap.String("battle_id", battleID),
			zap.String("seat", seat.String()),
		)
	}
	return s, nil
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || time.Since(s.LastSeen) > m.lease {
		return nil, false
	}
	return s, true
}

// Renew extends a session's lease.
func (m *Manager) Renew(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.LastSeen = time.Now()
	return true
}

// Remove drops a session immediately.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count reports the number of tracked sessions, expired included.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpiredSessions drops expired sessions until the context ends.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) {
	ticker := time.NewTicker(m.lease)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.lease {
			delete(m.sessions, id)
			if m.logger != nil {
				m.logger.Debug("session expired", zap.String("session_id", id))
			}
		}
	}
}
