package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestAccessToken_RoundTrip(t *testing.T) {
	svc := NewJWTService(testSecret, time.Hour, 24*time.Hour)

	token, err := svc.GenerateAccessToken("u1", "a@example.com", "Alice")
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "Alice", claims.Name)
}

func TestRefreshToken_NotAcceptedAsAccess(t *testing.T) {
	svc := NewJWTService(testSecret, time.Hour, 24*time.Hour)

	refresh, err := svc.GenerateRefreshToken("u1", "a@example.com", "Alice")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims, err := svc.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewJWTService(testSecret, -time.Minute, time.Hour)

	token, err := svc.GenerateAccessToken("u1", "a@example.com", "Alice")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewJWTService(testSecret, time.Hour, time.Hour)
	other := NewJWTService("another-secret-another-secret-xx", time.Hour, time.Hour)

	token, err := issuer.GenerateAccessToken("u1", "", "")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
