package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signedToken(t *testing.T, subject, secret string, expiresIn time.Duration) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifyToken(t *testing.T) {
	t.Run("valid token returns the subject", func(t *testing.T) {
		token := signedToken(t, "user-1", testSecret, time.Hour)
		subject, err := verifyToken(token, testSecret)
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signedToken(t, "user-1", "other-secret", time.Hour)
		_, err := verifyToken(token, testSecret)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signedToken(t, "user-1", testSecret, -time.Minute)
		_, err := verifyToken(token, testSecret)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signedToken(t, "", testSecret, time.Hour)
		_, err := verifyToken(token, testSecret)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := verifyToken("not.a.jwt", testSecret)
		assert.Error(t, err)
	})
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc123", bearerToken("Bearer abc123"))
	assert.Equal(t, "abc123", bearerToken("Bearer  abc123"))
	assert.Empty(t, bearerToken("Basic abc123"))
	assert.Empty(t, bearerToken(""))
	assert.Empty(t, bearerToken("abc123"))
}
