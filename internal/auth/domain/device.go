package domain

import "time"

// TrustedDevice is a remembered device that may bypass second-factor
// verification until ExpiresAt. The bearer token is stored hashed.
type TrustedDevice struct {
	ID        string
	AccountID string
	TokenHash string

	// Label is a human-readable description derived from the client's
	// user-agent string ("Firefox on Linux").
	Label string

	SourceAddress *string

	LastUsedAt time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the device window has passed.
func (d TrustedDevice) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// DeviceContext describes the client requesting a trusted-device token.
type DeviceContext struct {
	UserAgent     string
	SourceAddress string
}
