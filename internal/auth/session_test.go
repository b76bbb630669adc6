package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJWTAndAuthenticateJWTRoundTrip(t *testing.T) {
	require.NoError(t, Init(time.Hour))

	token, err := CreateJWT(42)
	require.NoError(t, err)

	userID, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestAuthenticateJWTRejectsGarbage(t *testing.T) {
	require.NoError(t, Init(time.Hour))

	_, err := AuthenticateJWT("not.a.jwt")
	assert.Error(t, err)
}

func TestAuthenticateJWTRejectsExpiredToken(t *testing.T) {
	require.NoError(t, Init(-time.Minute))

	token, err := CreateJWT(7)
	require.NoError(t, err)

	_, err = AuthenticateJWT(token)
	assert.Error(t, err)
}
