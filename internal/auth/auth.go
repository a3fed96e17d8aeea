// Package auth defines the TokenValidator boundary the gateway and HTTP surface authenticate
// through. Token issuance, password hashing, and credential storage are an external
// collaborator's responsibility; this package only validates a bearer token into a user id.
package auth

import (
	"context"

	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// TokenValidator resolves a bearer token into the user id it authenticates, or reports failure.
// It is stateless: no session, refresh, or revocation state lives in this package.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (snowflake.ID, error)
}

// JWTValidator is the default TokenValidator: an HMAC-signed JWT whose Subject claim is a
// snowflake user id. It validates tokens minted by an external issuer; this package never
// mints one itself.
type JWTValidator struct {
	secret string
	issuer string
}

// NewJWTValidator returns a JWTValidator keyed by secret, optionally enforcing issuer.
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: secret, issuer: issuer}
}

// Validate parses and verifies token, returning the user id in its Subject claim.
func (v *JWTValidator) Validate(_ context.Context, token string) (snowflake.ID, error) {
	claims, err := ValidateAccessToken(token, v.secret, v.issuer)
	if err != nil {
		return 0, ErrInvalidToken
	}

	id, err := snowflake.Parse(claims.Subject)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}
