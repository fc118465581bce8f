package store

import (
	"context"
	"errors"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep concerns
// tidy and testable.
type Store interface {
	Accounts() Accounts
	Preferences() Preferences
	RefreshTokens() RefreshTokens
	TrustedDevices() TrustedDevices

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., refresh
	// rotation). The caller MUST call Commit() or Rollback() on the
	// returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction; rolled back when fn errors,
	// committed otherwise. The driver must hand out write transactions so
	// that two concurrent rotations of the same refresh token serialize:
	// the loser re-reads the row as revoked instead of losing an update.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByEmail matches the normalized (lowercased) email.
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, error)

	// GetAccountByExternalSubject matches the external identity provider subject.
	GetAccountByExternalSubject(ctx context.Context, subject string) (domain.Account, error)

	// GetAccountByResetTokenHash matches a pending password-reset grant.
	GetAccountByResetTokenHash(ctx context.Context, hash string) (domain.Account, error)

	// CreateAccount inserts a new account (id is provided by app via ULID).
	// Returns ErrAlreadyExists on email or external-subject uniqueness conflicts.
	CreateAccount(ctx context.Context, a domain.Account) error

	UpdateProfile(ctx context.Context, accountID, firstName, lastName string) error
	UpdateEmail(ctx context.Context, accountID, email string) error

	// UpdatePasswordHash sets the password hash and clears must_change_password.
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error

	UpdateRole(ctx context.Context, accountID string, role domain.Role) error
	SetActive(ctx context.Context, accountID string, active bool) error
	SetExternalSubject(ctx context.Context, accountID, subject string) error

	// UpdateTOTPSecret stores (or clears, when nil) the encrypted TOTP envelope.
	UpdateTOTPSecret(ctx context.Context, accountID string, envelope *string) error

	SetResetToken(ctx context.Context, accountID, hash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, accountID string) error

	// ClearExpiredResetTokens drops stale grants; housekeeping only.
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)

	TouchLastLogin(ctx context.Context, accountID string, at time.Time) error

	DeleteAccount(ctx context.Context, accountID string) error

	// CountAccounts backs the first-account-becomes-admin rule.
	CountAccounts(ctx context.Context) (int64, error)

	// CountActiveAdmins backs the last-admin invariant.
	CountActiveAdmins(ctx context.Context) (int64, error)
}

type Preferences interface {
	// GetPreference returns ErrNotFound when no row exists for the account.
	GetPreference(ctx context.Context, accountID string) (domain.SecondFactorPreference, error)

	// UpsertPreference creates or updates the per-account preference row.
	UpsertPreference(ctx context.Context, accountID string, totpEnabled bool) error

	DeletePreference(ctx context.Context, accountID string) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the record matching the fingerprint,
	// revoked or not; the caller decides what a revoked hit means.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken flips revoked on a single record, optionally
	// recording the hash of its replacement.
	RevokeRefreshToken(ctx context.Context, hash string, replacedByHash *string) error

	// RevokeFamily flips revoked on every record in the rotation lineage.
	RevokeFamily(ctx context.Context, familyID string) error

	// RevokeAllForAccount bulk-revokes every non-revoked record for an account.
	RevokeAllForAccount(ctx context.Context, accountID string) error

	// ListFamily returns all records sharing a familyId, oldest first.
	ListFamily(ctx context.Context, familyID string) ([]domain.RefreshToken, error)

	// DeleteExpired physically removes records past their expiry.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type TrustedDevices interface {
	CreateTrustedDevice(ctx context.Context, d domain.TrustedDevice) error

	GetTrustedDeviceByHash(ctx context.Context, accountID, hash string) (domain.TrustedDevice, error)

	// TouchTrustedDevice refreshes last_used_at on a successful bypass.
	TouchTrustedDevice(ctx context.Context, deviceID string, at time.Time) error

	// ListTrustedDevices returns the account's devices, most recently used first.
	ListTrustedDevices(ctx context.Context, accountID string) ([]domain.TrustedDevice, error)

	// DeleteTrustedDevice removes one device scoped to its owner; reports
	// ErrNotFound when the device does not belong to the account.
	DeleteTrustedDevice(ctx context.Context, accountID, deviceID string) error

	// DeleteExpiredForAccount removes the account's lapsed devices (lazy expiry).
	DeleteExpiredForAccount(ctx context.Context, accountID string, now time.Time) (int64, error)

	// DeleteAllForAccount removes every device for the account, returning the count.
	DeleteAllForAccount(ctx context.Context, accountID string) (int64, error)
}
