package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/chessd/internal/chessoracle"
	"github.com/jason-s-yu/chessd/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore and fakeCache stand in for the Persistence Gateway so the
// session actor can be exercised without a live Postgres/Redis instance.
type fakeStore struct {
	mu           sync.Mutex
	users        map[int64]models.User
	finalized    []models.FinishedGame
	ratingCalls  []int64
}

func newFakeStore(users ...models.User) *fakeStore {
	fs := &fakeStore{users: make(map[int64]models.User)}
	for _, u := range users {
		fs.users[u.ID] = u
	}
	return fs
}

func (f *fakeStore) FinalizeGame(ctx context.Context, fg models.FinishedGame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, fg)
	return nil
}

func (f *fakeStore) FindUserByID(ctx context.Context, id int64) (models.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	return u, ok, nil
}

func (f *fakeStore) ApplyRatingDelta(ctx context.Context, userID int64, delta int, won bool) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratingCalls = append(f.ratingCalls, userID)
	u := f.users[userID]
	old := u.Rating
	u.Rating += delta
	u.GamesPlayed++
	if won {
		u.GamesWon++
	}
	f.users[userID] = u
	return old, u.Rating, nil
}

type fakeCache struct {
	mu      sync.Mutex
	pushed  []models.GameActionRecord
	evicted []string
}

func (f *fakeCache) PutPosition(ctx context.Context, gameID, fen string, turn chessoracle.Side) error {
	return nil
}

func (f *fakeCache) EvictPosition(ctx context.Context, gameID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, gameID)
}

func (f *fakeCache) PushAction(ctx context.Context, rec models.GameActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, rec)
	return nil
}

// eventRecorder captures every broadcast Event in order, safe for
// concurrent use by the session's own actor goroutine.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	toOne  []Event
}

func (r *eventRecorder) broadcast(gameID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) broadcastToPlayer(gameID string, playerID int64, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toOne = append(r.toOne, ev)
}

func (r *eventRecorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *eventRecorder) hasType(t EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestSession(t *testing.T, store Store, cache Cache, rec *eventRecorder, timeControl time.Duration) (*Session, chan string) {
	t.Helper()
	ended := make(chan string, 1)
	s := New(
		"game-1",
		Player{ID: 1, Username: "white", Rating: 1200},
		Player{ID: 2, Username: "black", Rating: 1200},
		timeControl,
		store,
		cache,
		testLogger(),
		rec.broadcast,
		rec.broadcastToPlayer,
		func(gameID string) { ended <- gameID },
	)
	return s, ended
}

func waitForEnd(t *testing.T, ended chan string) {
	t.Helper()
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("session never finalized")
	}
}

func TestApplyMoveRejectsOutOfTurnPlayer(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, _ := newTestSession(t, store, cache, rec, 5*time.Minute)
	defer s.Resign(1)

	err := s.ApplyMove(2, chessoracle.MoveDescriptor{SAN: "e5"})
	assert.ErrorIs(t, err, ErrNotYourTurn)
}

func TestApplyMoveRejectsIllegalMove(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, _ := newTestSession(t, store, cache, rec, 5*time.Minute)
	defer s.Resign(1)

	err := s.ApplyMove(1, chessoracle.MoveDescriptor{SAN: "Qh5"})
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestApplyMovePushesActionAndBroadcastsMoveMade(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, _ := newTestSession(t, store, cache, rec, 5*time.Minute)
	defer s.Resign(1)

	require.NoError(t, s.ApplyMove(1, chessoracle.MoveDescriptor{SAN: "e4"}))

	cache.mu.Lock()
	require.Len(t, cache.pushed, 1)
	assert.Equal(t, "move", cache.pushed[0].ActionType)
	cache.mu.Unlock()

	assert.Equal(t, EventMoveMade, rec.last().Type)
}

// TestFoolsMateFinalizesGame plays the shortest possible checkmate through
// the session actor and checks that the game is finalized as a decisive
// checkmate win for black, with rating deltas applied to both sides.
func TestFoolsMateFinalizesGame(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, ended := newTestSession(t, store, cache, rec, 5*time.Minute)

	require.NoError(t, s.ApplyMove(1, chessoracle.MoveDescriptor{SAN: "f3"}))
	require.NoError(t, s.ApplyMove(2, chessoracle.MoveDescriptor{SAN: "e5"}))
	require.NoError(t, s.ApplyMove(1, chessoracle.MoveDescriptor{SAN: "g4"}))
	require.NoError(t, s.ApplyMove(2, chessoracle.MoveDescriptor{SAN: "Qh4#"}))

	waitForEnd(t, ended)
	assert.True(t, rec.hasType(EventGameOver))

	store.mu.Lock()
	require.Len(t, store.finalized, 1)
	fg := store.finalized[0]
	store.mu.Unlock()
	require.NotNil(t, fg.WinnerID)
	assert.Equal(t, int64(2), *fg.WinnerID)
	assert.Equal(t, models.ReasonCheckmate, fg.EndReason)

	store.mu.Lock()
	assert.ElementsMatch(t, []int64{1, 2}, store.ratingCalls)
	assert.Greater(t, store.users[2].Rating, 1200)
	assert.Less(t, store.users[1].Rating, 1200)
	store.mu.Unlock()

	cache.mu.Lock()
	assert.Contains(t, cache.evicted, "game-1")
	cache.mu.Unlock()
}

func TestResignEndsGameInFavorOfOpponent(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, ended := newTestSession(t, store, cache, rec, 5*time.Minute)

	require.NoError(t, s.Resign(1))
	waitForEnd(t, ended)

	store.mu.Lock()
	require.Len(t, store.finalized, 1)
	fg := store.finalized[0]
	store.mu.Unlock()
	require.NotNil(t, fg.WinnerID)
	assert.Equal(t, int64(2), *fg.WinnerID)
	assert.Equal(t, models.ReasonResignation, fg.EndReason)
}

func TestResignAfterGameOverIsRejected(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, ended := newTestSession(t, store, cache, rec, 5*time.Minute)

	require.NoError(t, s.Resign(1))
	waitForEnd(t, ended)

	err := s.Resign(2)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestFlagFallFinalizesGameAsTimeout(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	_, ended := newTestSession(t, store, cache, rec, 30*time.Millisecond)

	waitForEnd(t, ended)

	store.mu.Lock()
	require.Len(t, store.finalized, 1)
	fg := store.finalized[0]
	store.mu.Unlock()
	require.NotNil(t, fg.WinnerID)
	assert.Equal(t, int64(2), *fg.WinnerID)
	assert.Equal(t, models.ReasonTimeout, fg.EndReason)
}

func TestReconnectSnapshotReturnsAuthoritativeState(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, _ := newTestSession(t, store, cache, rec, 5*time.Minute)
	defer s.Resign(1)

	require.NoError(t, s.ApplyMove(1, chessoracle.MoveDescriptor{SAN: "e4"}))

	snap, err := s.ReconnectSnapshot(2)
	require.NoError(t, err)
	assert.Equal(t, chessoracle.Black, snap.SideToMove)
	assert.Equal(t, chessoracle.Black, snap.YourColor)
	assert.Equal(t, []string{"e4"}, snap.History)
}

func TestReconnectSnapshotRejectsNonParticipant(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, _ := newTestSession(t, store, cache, rec, 5*time.Minute)
	defer s.Resign(1)

	_, err := s.ReconnectSnapshot(999)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestChatTruncatesOverlongMessages(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, Rating: 1200}, models.User{ID: 2, Rating: 1200})
	cache := &fakeCache{}
	rec := &eventRecorder{}
	s, _ := newTestSession(t, store, cache, rec, 5*time.Minute)
	defer s.Resign(1)

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	s.Chat(1, string(long))

	require.Eventually(t, func() bool { return rec.hasType(EventChat) }, time.Second, 10*time.Millisecond)
	ev := rec.last()
	assert.LessOrEqual(t, len(ev.Payload["message"].(string)), 200)
}
