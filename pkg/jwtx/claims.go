package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token lifetimes used across the auth core. Overridable per-service.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultPendingTokenTTL is the window between password verification
	// and second-factor verification.
	DefaultPendingTokenTTL = 5 * time.Minute
)

// Token type discriminators carried in the "typ" claim. An access token
// must never be accepted where a pending token is expected and vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypePending = "2fa_pending"
)

// Claims are the signed assertions this core mints: either a full access
// token or a short-lived pending-2FA token. Additive changes only, the
// claim set is schema-stable for downstream consumers.
type Claims struct {
	jwt.RegisteredClaims

	// TokenType discriminates access tokens from pending-2FA tokens.
	TokenType string `json:"typ,omitempty"`

	// Role is the account role ("admin" or "user"). Only set on access tokens.
	Role string `json:"role,omitempty"`
}

// NewAccessClaims builds claims for a full access token.
func NewAccessClaims(subject, role, issuer string, ttl time.Duration, now time.Time) Claims {
	return newClaims(subject, issuer, ttl, now, TokenTypeAccess, role)
}

// NewPendingClaims builds claims for the pending-2FA assertion handed to a
// caller between password verification and TOTP verification.
func NewPendingClaims(subject, issuer string, ttl time.Duration, now time.Time) Claims {
	return newClaims(subject, issuer, ttl, now, TokenTypePending, "")
}

func newClaims(subject, issuer string, ttl time.Duration, now time.Time, typ, role string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TokenType: typ,
		Role:      role,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// ValidateType checks the token type discriminator.
func (c *Claims) ValidateType(expected string) error {
	if c.TokenType != expected {
		return ErrTokenType
	}
	return nil
}
