package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMoveFromSANString(t *testing.T) {
	raw, err := json.Marshal("e4")
	require.NoError(t, err)

	desc, err := decodeMove(raw)
	require.NoError(t, err)
	assert.Equal(t, "e4", desc.SAN)
}

func TestDecodeMoveFromCoordinateObject(t *testing.T) {
	raw, err := json.Marshal(moveRequest{From: "e2", To: "e4"})
	require.NoError(t, err)

	desc, err := decodeMove(raw)
	require.NoError(t, err)
	assert.Equal(t, "e2", desc.From)
	assert.Equal(t, "e4", desc.To)
}

func TestDecodeMoveFromObjectWithSANField(t *testing.T) {
	raw, err := json.Marshal(moveRequest{SAN: "Nf3"})
	require.NoError(t, err)

	desc, err := decodeMove(raw)
	require.NoError(t, err)
	assert.Equal(t, "Nf3", desc.SAN)
}

func TestDecodeMoveRejectsMissingToField(t *testing.T) {
	raw, err := json.Marshal(moveRequest{From: "e2"})
	require.NoError(t, err)

	_, err = decodeMove(raw)
	assert.Error(t, err)
}

func TestDecodeMoveRejectsGarbage(t *testing.T) {
	_, err := decodeMove(json.RawMessage(`42`))
	assert.Error(t, err)
}
