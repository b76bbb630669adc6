package chessoracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPositionStartingState(t *testing.T) {
	pos := NewPosition()
	assert.Equal(t, White, pos.Turn())
	assert.Empty(t, pos.History())
	assert.False(t, pos.Terminal().Over)
}

func TestApplySANAlternatesTurn(t *testing.T) {
	pos := NewPosition()
	applied, err := pos.Apply(MoveDescriptor{SAN: "e4"})
	require.NoError(t, err)
	assert.Equal(t, Black, applied.Turn)
	assert.Equal(t, "e4", applied.SAN)
}

func TestApplyUCICoordinates(t *testing.T) {
	pos := NewPosition()
	applied, err := pos.Apply(MoveDescriptor{From: "e2", To: "e4"})
	require.NoError(t, err)
	assert.Equal(t, "e4", applied.To)
	assert.Equal(t, Black, applied.Turn)
}

func TestApplyIllegalMoveLeavesPositionUntouched(t *testing.T) {
	pos := NewPosition()
	_, err := pos.Apply(MoveDescriptor{SAN: "Qh5"})
	require.ErrorIs(t, err, ErrIllegalMove)
	assert.Equal(t, White, pos.Turn())
	assert.Empty(t, pos.History())
}

// TestFoolsMate plays the shortest possible checkmate and checks the
// oracle reports Black as the winner by checkmate.
func TestFoolsMate(t *testing.T) {
	pos := NewPosition()
	moves := []string{"f3", "e5", "g4", "Qh4#"}
	var applied Applied
	var err error
	for _, san := range moves {
		applied, err = pos.Apply(MoveDescriptor{SAN: san})
		require.NoError(t, err)
	}
	require.True(t, applied.Terminal.Over)
	assert.Equal(t, Black, applied.Terminal.Winner)
	assert.Equal(t, EndCheckmate, applied.Terminal.Reason)
}

func TestSideOther(t *testing.T) {
	assert.Equal(t, Black, White.Other())
	assert.Equal(t, White, Black.Other())
}
