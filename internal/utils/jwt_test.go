package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccessToken(t *testing.T) {
	at, err := NewAccessToken("secret", "u-1", "MANAGER", "park-a", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), at.Exp, 5*time.Second)

	tok, err := jwt.Parse(at.Token, func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	assert.Equal(t, "u-1", claims["sub"])
	assert.Equal(t, "MANAGER", claims["role"])
	assert.Equal(t, "park-a", claims["park_id"])
}

func TestNewAccessToken_NoPark(t *testing.T) {
	at, err := NewAccessToken("secret", "root", "ADMIN", "", time.Minute)
	require.NoError(t, err)
	tok, err := jwt.Parse(at.Token, func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	_, ok := tok.Claims.(jwt.MapClaims)["park_id"]
	assert.False(t, ok)
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	require.NoError(t, err)
	b, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
