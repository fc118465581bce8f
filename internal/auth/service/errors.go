package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every service error wraps exactly one of these so callers
// can map failures to a transport status with a single errors.Is chain.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad_request")
	ErrNotFound        = errors.New("not_found")
	ErrConflict        = errors.New("conflict")
)

// Specific failures. Each wraps its kind, so
// errors.Is(err, ErrInvalidCredentials) and errors.Is(err, ErrUnauthenticated)
// both hold for a bad login.
var (
	// ErrInvalidCredentials is returned for unknown email, wrong password
	// and external-only accounts alike. Callers must not be able to probe
	// which one it was.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid_credentials", ErrUnauthenticated)

	// ErrAccountDisabled is only returned after the password verified.
	ErrAccountDisabled = fmt.Errorf("%w: account_disabled", ErrUnauthenticated)

	// ErrInvalidRefresh covers unknown, expired and malformed refresh tokens.
	ErrInvalidRefresh = fmt.Errorf("%w: invalid_refresh_token", ErrUnauthenticated)

	// ErrRefreshReuse means a revoked refresh token was presented. The
	// whole family has been revoked by the time the caller sees this.
	ErrRefreshReuse = fmt.Errorf("%w: refresh_token_reuse", ErrUnauthenticated)

	// ErrInvalidSecondFactor is a wrong or replayed TOTP code.
	ErrInvalidSecondFactor = fmt.Errorf("%w: invalid_second_factor", ErrUnauthenticated)

	// ErrTooManyAttempts is returned when the login rate limit trips.
	ErrTooManyAttempts = fmt.Errorf("%w: too_many_attempts", ErrUnauthenticated)

	// ErrLastAdmin guards the last-active-admin invariant on demotion
	// and deactivation.
	ErrLastAdmin = fmt.Errorf("%w: last_admin", ErrBadRequest)

	// ErrLastAdminDelete refuses deleting the last active admin.
	ErrLastAdminDelete = fmt.Errorf("%w: last_admin", ErrForbidden)

	// ErrSelfTarget rejects admins operating on their own role or status.
	ErrSelfTarget = fmt.Errorf("%w: self_target", ErrForbidden)

	// ErrTwoFactorPolicy rejects disabling TOTP while policy requires it.
	ErrTwoFactorPolicy = fmt.Errorf("%w: two_factor_required_by_policy", ErrForbidden)

	// ErrRegistrationClosed rejects self-registration when disabled.
	ErrRegistrationClosed = fmt.Errorf("%w: registration_closed", ErrForbidden)

	// ErrEmailTaken is returned on any registration with an email that is
	// already in use, active or not.
	ErrEmailTaken = fmt.Errorf("%w: email_taken", ErrConflict)

	// ErrTwoFactorNotReady means confirm/verify was called before a
	// secret was provisioned.
	ErrTwoFactorNotReady = fmt.Errorf("%w: two_factor_not_provisioned", ErrBadRequest)

	// ErrResetInvalid covers unknown, expired and already-used reset tokens.
	ErrResetInvalid = fmt.Errorf("%w: invalid_reset_token", ErrBadRequest)

	// ErrPasswordPolicy is a new password rejected by the strength policy.
	ErrPasswordPolicy = fmt.Errorf("%w: password_policy", ErrBadRequest)

	// ErrPasswordMismatch is a wrong current password on change-password.
	// This sits after authentication, so it is a bad request rather than
	// an authentication failure.
	ErrPasswordMismatch = fmt.Errorf("%w: wrong_password", ErrBadRequest)

	// ErrNoLocalPassword rejects password operations on external-only accounts.
	ErrNoLocalPassword = fmt.Errorf("%w: no_local_password", ErrBadRequest)
)
