// Package lifecycle implements the Game Lifecycle Manager: the thin
// coordinator that owns the active-session index, starts a Session once
// the Matchmaker pairs two players, and evicts it once Session.finalize
// has run to completion. This mirrors the reference server's GameStore,
// generalized from storing *game.CambiaGame by uuid to storing
// *session.Session by an opaque game-id string.
package lifecycle

import (
	"sync"
	"time"

	"github.com/jason-s-yu/chessd/internal/matchmaker"
	"github.com/jason-s-yu/chessd/internal/persistence"
	"github.com/jason-s-yu/chessd/internal/session"
	"github.com/sirupsen/logrus"
)

// Broadcaster is the narrow seam the Lifecycle Manager needs from the
// Client Registry & Router to wire a new Session's broadcast callbacks,
// satisfied structurally by *router.Router without either package
// importing the other's concrete type.
type Broadcaster interface {
	SendToPlayer(playerID int64, ev session.Event)
}

// Manager owns the active-games index exclusively.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session.Session

	gw     *persistence.Gateway
	logger *logrus.Logger
}

// New constructs an empty Manager.
func New(gw *persistence.Gateway, logger *logrus.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*session.Session),
		gw:       gw,
		logger:   logger,
	}
}

// StartSession constructs a Session for a freshly paired game, records it
// in the active-games index, and returns it so the caller can announce
// match_found to both sides.
func (m *Manager) StartSession(paired matchmaker.Paired, b Broadcaster) *session.Session {
	white := session.Player{ID: paired.White.PlayerID, Username: paired.White.Username, Rating: paired.White.Rating}
	black := session.Player{ID: paired.Black.PlayerID, Username: paired.Black.Username, Rating: paired.Black.Rating}

	broadcast := func(gameID string, ev session.Event) {
		b.SendToPlayer(white.ID, ev)
		b.SendToPlayer(black.ID, ev)
	}
	broadcastToPlayer := func(gameID string, playerID int64, ev session.Event) {
		b.SendToPlayer(playerID, ev)
	}

	s := session.New(
		paired.GameID,
		white, black,
		paired.TimeControl,
		m.gw.Store,
		m.gw.Cache,
		m.logger,
		broadcast,
		broadcastToPlayer,
		m.evict,
	)

	m.mu.Lock()
	m.sessions[paired.GameID] = s
	m.mu.Unlock()
	return s
}

// Get returns the active Session for gameID, if any.
func (m *Manager) Get(gameID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[gameID]
	return s, ok
}

// ActiveCount exposes the current active-game count for the observability surface.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evict removes a finalized Session from the index. It is the EndFunc
// passed into session.New, invoked once, after game_over has already been
// broadcast.
func (m *Manager) evict(gameID string) {
	m.mu.Lock()
	delete(m.sessions, gameID)
	m.mu.Unlock()
}

// BroadcastTimers ticks every sessions's timer_update on the configured
// interval. It runs for the lifetime of the process, started once from
// cmd/server/main.go.
func (m *Manager) BroadcastTimers(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			sessions := make([]*session.Session, 0, len(m.sessions))
			for _, s := range m.sessions {
				sessions = append(sessions, s)
			}
			m.mu.Unlock()
			for _, s := range sessions {
				s.BroadcastTimerUpdate()
			}
		case <-stop:
			return
		}
	}
}
