package matchmaker

import (
	"context"
	"testing"
	"time"

	"github.com/jason-s-yu/chessd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	inserted  []models.WaitingGame
	deleted   []string
	promoted  []string
}

func (f *fakeStore) InsertWaitingGame(ctx context.Context, wg models.WaitingGame) error {
	f.inserted = append(f.inserted, wg)
	return nil
}

func (f *fakeStore) DeleteWaiting(ctx context.Context, gameID string) error {
	f.deleted = append(f.deleted, gameID)
	return nil
}

func (f *fakeStore) PromoteToInProgress(ctx context.Context, gameID string, blackPlayerID int64) error {
	f.promoted = append(f.promoted, gameID)
	return nil
}

type allLive struct{}

func (allLive) IsLive(int64) bool { return true }

type liveSet map[int64]bool

func (s liveSet) IsLive(id int64) bool { return s[id] }

func TestCreateWaitingRecordsDurablyAndInMemory(t *testing.T) {
	store := &fakeStore{}
	mm := New(store, allLive{})

	wg, err := mm.CreateWaiting(context.Background(), Candidate{PlayerID: 1, Username: "alice", Rating: 1200}, 10*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, wg.GameID)
	assert.Equal(t, 1, mm.WaitingCount())
	assert.Len(t, store.inserted, 1)
}

func TestCreateWaitingReplacesExistingForSameOwner(t *testing.T) {
	store := &fakeStore{}
	mm := New(store, allLive{})
	ctx := context.Background()

	first, err := mm.CreateWaiting(ctx, Candidate{PlayerID: 1, Username: "alice", Rating: 1200}, time.Minute)
	require.NoError(t, err)
	_, err = mm.CreateWaiting(ctx, Candidate{PlayerID: 1, Username: "alice", Rating: 1200}, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, mm.WaitingCount())
	snap := mm.waitingSnapshot()
	require.Len(t, snap, 1)
	assert.NotEqual(t, first.GameID, snap[0].GameID)
}

func TestSearchPrefersClosestRatingWithinNarrowestBand(t *testing.T) {
	store := &fakeStore{}
	mm := New(store, allLive{})
	ctx := context.Background()

	_, err := mm.CreateWaiting(ctx, Candidate{PlayerID: 1, Username: "near", Rating: 1250}, 5*time.Minute)
	require.NoError(t, err)
	_, err = mm.CreateWaiting(ctx, Candidate{PlayerID: 2, Username: "far", Rating: 1600}, 5*time.Minute)
	require.NoError(t, err)

	paired, ok, err := mm.Search(ctx, Candidate{PlayerID: 3, Username: "searcher", Rating: 1200})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), paired.White.PlayerID)
	assert.Equal(t, int64(3), paired.Black.PlayerID)
	assert.Equal(t, 1, mm.WaitingCount())
	assert.Len(t, store.promoted, 1)
}

func TestSearchSkipsNonLiveCandidates(t *testing.T) {
	store := &fakeStore{}
	live := liveSet{2: false, 3: true}
	mm := New(store, live)
	ctx := context.Background()

	_, err := mm.CreateWaiting(ctx, Candidate{PlayerID: 2, Username: "offline", Rating: 1200}, time.Minute)
	require.NoError(t, err)
	_, err = mm.CreateWaiting(ctx, Candidate{PlayerID: 3, Username: "online", Rating: 1400}, time.Minute)
	require.NoError(t, err)

	paired, ok, err := mm.Search(ctx, Candidate{PlayerID: 4, Username: "searcher", Rating: 1200})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), paired.White.PlayerID)
}

func TestSearchFallsBackToUnboundedBand(t *testing.T) {
	store := &fakeStore{}
	mm := New(store, allLive{})
	ctx := context.Background()

	_, err := mm.CreateWaiting(ctx, Candidate{PlayerID: 1, Username: "far", Rating: 2400}, time.Minute)
	require.NoError(t, err)

	paired, ok, err := mm.Search(ctx, Candidate{PlayerID: 2, Username: "searcher", Rating: 800})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), paired.White.PlayerID)
}

func TestSearchReturnsNotOkWhenNoWaitingGames(t *testing.T) {
	store := &fakeStore{}
	mm := New(store, allLive{})
	_, ok, err := mm.Search(context.Background(), Candidate{PlayerID: 1, Rating: 1200})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelRemovesWaitingGame(t *testing.T) {
	store := &fakeStore{}
	mm := New(store, allLive{})
	ctx := context.Background()

	_, err := mm.CreateWaiting(ctx, Candidate{PlayerID: 1, Username: "alice", Rating: 1200}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, mm.Cancel(ctx, 1))

	assert.Equal(t, 0, mm.WaitingCount())
	assert.Len(t, store.deleted, 1)
}

func TestCancelUnknownPlayerIsNoop(t *testing.T) {
	store := &fakeStore{}
	mm := New(store, allLive{})
	require.NoError(t, mm.Cancel(context.Background(), 999))
	assert.Empty(t, store.deleted)
}
