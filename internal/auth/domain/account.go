package domain

import "time"

// Role is the two-role model: administrators manage other accounts, users
// manage only themselves. At least one active admin must exist at all
// times once any account exists.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Account is an identity plus its credentials. PasswordHash and
// ExternalSubject are both optional but an account needs at least one of
// them to be reachable; both set means dual login.
type Account struct {
	ID    string
	Email *string // unique when present

	PasswordHash    *string // argon2id encoded; nil for external-only accounts
	ExternalSubject *string // unique subject from the external identity provider

	FirstName string
	LastName  string

	Role               Role
	IsActive           bool
	MustChangePassword bool

	// TOTPSecret is the encrypted-at-rest envelope, nil when no secret
	// has been provisioned.
	TOTPSecret *string

	// Password-reset grant: single-use, one outstanding grant per account.
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasLocalPassword reports whether the account can authenticate with a password.
func (a Account) HasLocalPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// DisplayName is a best-effort human label for notifications.
func (a Account) DisplayName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	case a.Email != nil:
		return *a.Email
	default:
		return a.ID
	}
}

// SecondFactorPreference records whether TOTP is active for an account.
// It exists independently of whether a secret is provisioned so that
// "secret generated but not yet confirmed" is distinguishable from
// "active".
type SecondFactorPreference struct {
	AccountID   string
	TOTPEnabled bool
	UpdatedAt   time.Time
}

// Profile carries the mutable name fields supplied at registration.
type Profile struct {
	FirstName string
	LastName  string
}
