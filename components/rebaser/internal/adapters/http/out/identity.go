package out

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the validated caller context extracted from an access
// token by the external identity service's signing contract.
type Identity struct {
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	Role        string `json:"role"`
	TokenID     string `json:"tokenId,omitempty"`
}

// IdentityValidator verifies access tokens minted by the identity
// service. The service publishes an HMAC secret per environment; token
// validation happens locally so the hot path never blocks on HTTP.
type IdentityValidator struct {
	signingKey []byte
	issuer     string
}

// NewIdentityValidator returns a validator for the given issuer and
// shared secret.
func NewIdentityValidator(issuer string, signingKey []byte) *IdentityValidator {
	return &IdentityValidator{signingKey: signingKey, issuer: issuer}
}

type identityClaims struct {
	WorkspaceID string `json:"workspaceId"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Validate parses and verifies a token, returning the caller identity.
func (v *IdentityValidator) Validate(token string) (*Identity, error) {
	claims := &identityClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		return v.signingKey, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return nil, err
	}

	if !parsed.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}

	return &Identity{
		UserID:      claims.Subject,
		WorkspaceID: claims.WorkspaceID,
		Role:        claims.Role,
		TokenID:     claims.ID,
	}, nil
}
