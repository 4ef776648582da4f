package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims IdentityClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateIdentityToken(t *testing.T) {
	SetJWTSecret("test-secret")
	defer SetJWTSecret("your-secret-key-change-in-production")

	signed := signToken(t, "test-secret", IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := ValidateIdentityToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestValidateIdentityTokenRejectsExpiredAndForeign(t *testing.T) {
	SetJWTSecret("test-secret")
	defer SetJWTSecret("your-secret-key-change-in-production")

	expired := signToken(t, "test-secret", IdentityClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	_, err := ValidateIdentityToken(expired)
	assert.Error(t, err)

	foreign := signToken(t, "other-secret", IdentityClaims{UserID: "user-1"})
	_, err = ValidateIdentityToken(foreign)
	assert.Error(t, err)
}
