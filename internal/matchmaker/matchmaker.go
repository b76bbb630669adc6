// Package matchmaker implements the Matchmaker component: the set of
// open waiting games and the rating-band search that pairs two players
// into a Session. It owns the waiting-game set exclusively, the same way
// the reference server's lobby package owns its in-memory lobby set
// alongside a mirrored durable row.
package matchmaker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/chessd/internal/models"
)

// WaitingStore is the narrow seam the Matchmaker needs from the Persistence
// Store to mirror the in-memory waiting set durably, satisfied structurally
// by *persistence.Store.
type WaitingStore interface {
	InsertWaitingGame(ctx context.Context, wg models.WaitingGame) error
	DeleteWaiting(ctx context.Context, gameID string) error
	PromoteToInProgress(ctx context.Context, gameID string, blackPlayerID int64) error
}

// ratingBands are tried in order; unbounded is represented by a negative
// width.
var ratingBands = []int{100, 200, 400, -1}

// LiveChecker reports whether a player currently has at least one
// authenticated connection — the Router's connection index, asked through
// this narrow seam so the Matchmaker never reaches into Router internals.
type LiveChecker interface {
	IsLive(playerID int64) bool
}

// Candidate is a searcher's own identity, passed into Search.
type Candidate struct {
	PlayerID int64
	Username string
	Rating   int
}

// Paired describes a successful pairing, enough for the caller to
// construct a Session and notify both sides.
type Paired struct {
	GameID          string
	TimeControl     time.Duration
	White           Candidate
	Black           Candidate
}

// Matchmaker holds the waiting-game set in memory. All methods are safe
// for concurrent use.
type Matchmaker struct {
	mu      sync.Mutex
	waiting map[string]models.WaitingGame // by game id
	byOwner map[int64]string              // player id -> game id, for cancel/disconnect cleanup

	store WaitingStore
	live  LiveChecker
}

// New constructs an empty Matchmaker.
func New(store WaitingStore, live LiveChecker) *Matchmaker {
	return &Matchmaker{
		waiting: make(map[string]models.WaitingGame),
		byOwner: make(map[int64]string),
		store:   store,
		live:    live,
	}
}

// CreateWaiting allocates a game id, records it durably and in memory, and
// returns the new WaitingGame for the caller to announce.
func (m *Matchmaker) CreateWaiting(ctx context.Context, creator Candidate, timeControl time.Duration) (models.WaitingGame, error) {
	m.mu.Lock()
	if existing, ok := m.byOwner[creator.PlayerID]; ok {
		delete(m.waiting, existing)
	}
	m.mu.Unlock()

	wg := models.WaitingGame{
		GameID:          uuid.NewString(),
		CreatorID:       creator.PlayerID,
		CreatorUsername: creator.Username,
		CreatorRating:   creator.Rating,
		TimeControl:     timeControl,
		CreatedAt:       time.Now(),
	}
	if err := m.store.InsertWaitingGame(ctx, wg); err != nil {
		return models.WaitingGame{}, fmt.Errorf("insert waiting game: %w", err)
	}

	m.mu.Lock()
	m.waiting[wg.GameID] = wg
	m.byOwner[creator.PlayerID] = wg.GameID
	m.mu.Unlock()
	return wg, nil
}

// Search runs the rating-band search for searcher and, if a candidate is
// found, removes it from the waiting set and returns a Paired result for
// the caller to promote into a Session. ok is false when no band yielded a
// candidate.
func (m *Matchmaker) Search(ctx context.Context, searcher Candidate) (Paired, bool, error) {
	m.mu.Lock()
	candidateID, found := m.pickCandidateLocked(searcher)
	if !found {
		m.mu.Unlock()
		return Paired{}, false, nil
	}
	wg := m.waiting[candidateID]
	delete(m.waiting, candidateID)
	delete(m.byOwner, wg.CreatorID)
	m.mu.Unlock()

	if err := m.store.PromoteToInProgress(ctx, wg.GameID, searcher.PlayerID); err != nil {
		return Paired{}, false, fmt.Errorf("promote waiting game: %w", err)
	}

	return Paired{
		GameID:      wg.GameID,
		TimeControl: wg.TimeControl,
		White:       Candidate{PlayerID: wg.CreatorID, Username: wg.CreatorUsername, Rating: wg.CreatorRating},
		Black:       searcher,
	}, true, nil
}

// pickCandidateLocked implements the band search described in the
// matchmaker contract: try ±100, ±200, ±400, then unbounded; within the
// first non-empty band choose the minimum rating distance, ties broken by
// oldest creation instant. Caller holds m.mu.
func (m *Matchmaker) pickCandidateLocked(searcher Candidate) (string, bool) {
	for _, width := range ratingBands {
		var best string
		var bestDist = -1
		var bestCreated time.Time

		for id, wg := range m.waiting {
			if wg.CreatorID == searcher.PlayerID {
				continue
			}
			if !m.live.IsLive(wg.CreatorID) {
				continue
			}
			dist := abs(wg.CreatorRating - searcher.Rating)
			if width >= 0 && dist > width {
				continue
			}
			if bestDist == -1 || dist < bestDist || (dist == bestDist && wg.CreatedAt.Before(bestCreated)) {
				best = id
				bestDist = dist
				bestCreated = wg.CreatedAt
			}
		}
		if bestDist != -1 {
			return best, true
		}
	}
	return "", false
}

// Cancel removes playerID's waiting game, if any, from both the in-memory
// set and the durable store.
func (m *Matchmaker) Cancel(ctx context.Context, playerID int64) error {
	m.mu.Lock()
	gameID, ok := m.byOwner[playerID]
	if ok {
		delete(m.waiting, gameID)
		delete(m.byOwner, playerID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.store.DeleteWaiting(ctx, gameID); err != nil {
		return fmt.Errorf("delete waiting game: %w", err)
	}
	return nil
}

// WaitingCount exposes the current open-game count for the observability surface.
func (m *Matchmaker) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

// waitingSnapshot returns a stable, sorted-by-age copy, used only by tests.
func (m *Matchmaker) waitingSnapshot() []models.WaitingGame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WaitingGame, 0, len(m.waiting))
	for _, wg := range m.waiting {
		out = append(out, wg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
