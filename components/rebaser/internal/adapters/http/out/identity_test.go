package out

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, key []byte, issuer string) string {
	t.Helper()

	claims := identityClaims{
		WorkspaceID: "ws-1",
		Role:        "collaborator",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "token-1",
			Issuer:    issuer,
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)

	return token
}

func TestIdentityValidatorAcceptsValidToken(t *testing.T) {
	key := []byte("shared-secret")
	validator := NewIdentityValidator("loom-identity", key)

	identity, err := validator.Validate(mintToken(t, key, "loom-identity"))
	require.NoError(t, err)

	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "ws-1", identity.WorkspaceID)
	assert.Equal(t, "collaborator", identity.Role)
	assert.Equal(t, "token-1", identity.TokenID)
}

func TestIdentityValidatorRejectsWrongKeyOrIssuer(t *testing.T) {
	key := []byte("shared-secret")
	validator := NewIdentityValidator("loom-identity", key)

	_, err := validator.Validate(mintToken(t, []byte("other-secret"), "loom-identity"))
	assert.Error(t, err)

	_, err = validator.Validate(mintToken(t, key, "someone-else"))
	assert.Error(t, err)
}
