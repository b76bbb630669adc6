package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateHashAndComparePasswordAndHashRoundTrip(t *testing.T) {
	hash, err := CreateHash("correct horse battery staple", Params)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := ComparePasswordAndHash("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestComparePasswordAndHashRejectsWrongPassword(t *testing.T) {
	hash, err := CreateHash("correct horse battery staple", Params)
	require.NoError(t, err)

	ok, err := ComparePasswordAndHash("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComparePasswordAndHashRejectsMalformedHash(t *testing.T) {
	_, err := ComparePasswordAndHash("anything", "not-a-valid-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestCreateHashProducesUniqueSaltPerCall(t *testing.T) {
	first, err := CreateHash("same password", Params)
	require.NoError(t, err)
	second, err := CreateHash("same password", Params)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
