package domain

import "time"

// TokenPair is what a completed authentication returns: the short-lived
// access token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`           // access token lifetime
}

// RefreshToken models a stored refresh token record. The raw bearer value
// is never persisted, only its fingerprint. FamilyID ties together the
// lineage of rotations descending from one original issuance; within a
// family at most one non-revoked record exists at any time.
type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string // hex SHA-256 fingerprint of the opaque value
	FamilyID  string

	Revoked        bool
	ReplacedByHash *string // set when rotated, points at the successor's hash

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
