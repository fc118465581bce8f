package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/internal/auth/store"
	"github.com/tallyhq/tally/pkg/cryptox"
	"github.com/tallyhq/tally/pkg/idx"
	"github.com/tallyhq/tally/pkg/slogx"
)

const (
	// MinPasswordLength is the floor for new passwords.
	MinPasswordLength = 8

	// DefaultResetTokenTTL bounds the password-reset grant window.
	DefaultResetTokenTTL = time.Hour
)

// AccountService owns account lifecycle: registration, credential
// verification, password management and the admin invariants. Security
// events (password change/reset, deactivation, deletion) cascade through
// the token ledger and the external API-token revoker.
type AccountService struct {
	Store     store.Store
	Tokens    *TokenService
	Notifier  Notifier
	APITokens APITokenRevoker

	// AllowRegistration gates self-service signup. The very first account
	// can always be created so a fresh deployment is bootstrappable.
	AllowRegistration bool

	ResetTTL time.Duration
}

// normalizeEmail lowercases and trims; all email comparisons go through this.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordPolicy
	}
	return nil
}

// Register creates a local-credential account. The first account ever
// created becomes an admin; everyone after is a regular user.
func (s *AccountService) Register(ctx context.Context, email, password string, profile domain.Profile) (domain.Account, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	email = normalizeEmail(email)
	if email == "" {
		return domain.Account{}, ErrBadRequest
	}
	if err := validatePassword(password); err != nil {
		return domain.Account{}, err
	}

	total, err := s.Store.Accounts().CountAccounts(ctx)
	if err != nil {
		return domain.Account{}, err
	}
	if total > 0 && !s.AllowRegistration {
		return domain.Account{}, ErrRegistrationClosed
	}

	role := domain.RoleUser
	if total == 0 {
		role = domain.RoleAdmin
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.Account{}, err
	}

	account := domain.Account{
		ID:           idx.New().String(),
		Email:        &email,
		PasswordHash: &hash,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.Store.Accounts().CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Account{}, ErrEmailTaken
		}
		return domain.Account{}, err
	}

	l.Info("account registered",
		slog.String("account_id", account.ID),
		slog.String("role", string(role)),
	)
	return account, nil
}

// VerifyLocalCredentials checks an email/password pair. Unknown email,
// external-only account and wrong password all return the same error;
// only a disabled account (after the password verified) is distinguishable.
func (s *AccountService) VerifyLocalCredentials(ctx context.Context, email, password string) (domain.Account, error) {
	account, err := s.Store.Accounts().GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, ErrInvalidCredentials
		}
		return domain.Account{}, err
	}

	if !account.HasLocalPassword() {
		return domain.Account{}, ErrInvalidCredentials
	}
	if cryptox.VerifyPassword(password, *account.PasswordHash) != nil {
		return domain.Account{}, ErrInvalidCredentials
	}
	if !account.IsActive {
		return domain.Account{}, ErrAccountDisabled
	}

	return account, nil
}

// GetAccount loads one account by id.
func (s *AccountService) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, ErrNotFound
		}
		return domain.Account{}, err
	}
	return account, nil
}

// ChangeRole promotes or demotes a target account. Admins cannot change
// their own role, and the last active admin cannot be demoted.
func (s *AccountService) ChangeRole(ctx context.Context, actingAdminID, targetID string, newRole domain.Role) error {
	if actingAdminID == targetID {
		return ErrSelfTarget
	}
	if !newRole.Valid() {
		return ErrBadRequest
	}

	target, err := s.GetAccount(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Role == newRole {
		return nil
	}

	if target.Role == domain.RoleAdmin && target.IsActive {
		admins, err := s.Store.Accounts().CountActiveAdmins(ctx)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	return s.Store.Accounts().UpdateRole(ctx, targetID, newRole)
}

// SetActive toggles an account's active flag. Deactivation cascades to
// every live session and long-lived API token.
func (s *AccountService) SetActive(ctx context.Context, actingAdminID, targetID string, active bool) error {
	if actingAdminID == targetID {
		return ErrSelfTarget
	}

	target, err := s.GetAccount(ctx, targetID)
	if err != nil {
		return err
	}
	if target.IsActive == active {
		return nil
	}

	if !active && target.Role == domain.RoleAdmin {
		admins, err := s.Store.Accounts().CountActiveAdmins(ctx)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	if err := s.Store.Accounts().SetActive(ctx, targetID, active); err != nil {
		return err
	}

	if !active {
		return s.revokeSessions(ctx, targetID)
	}
	return nil
}

// DeleteAccount removes an account permanently. Self-delete is allowed
// except when the target is the last active admin. Preference row goes
// first, then all sessions are revoked, then the account row; revocation
// before deletion so no live token ever points at a vanished account.
func (s *AccountService) DeleteAccount(ctx context.Context, actorID, targetID string) error {
	l := slogx.FromContext(ctx)

	target, err := s.GetAccount(ctx, targetID)
	if err != nil {
		return err
	}

	if target.Role == domain.RoleAdmin && target.IsActive {
		admins, err := s.Store.Accounts().CountActiveAdmins(ctx)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdminDelete
		}
	}

	if err := s.Store.Preferences().DeletePreference(ctx, targetID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := s.revokeSessions(ctx, targetID); err != nil {
		return err
	}
	if _, err := s.Store.TrustedDevices().DeleteAllForAccount(ctx, targetID); err != nil {
		return err
	}

	if err := s.Store.Accounts().DeleteAccount(ctx, targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	l.Info("account deleted",
		slog.String("account_id", targetID),
		slog.String("actor_id", actorID),
	)
	return nil
}

// ResetPasswordRequest starts a password reset. Returns the raw single-use
// token, or "" when the email is unknown or belongs to an external-only
// account; the caller reports success either way so the call cannot be
// used to probe which addresses exist.
func (s *AccountService) ResetPasswordRequest(ctx context.Context, email string) (string, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	account, err := s.Store.Accounts().GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if !account.HasLocalPassword() || !account.IsActive {
		return "", nil
	}

	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	ttl := s.ResetTTL
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	if err := s.Store.Accounts().SetResetToken(ctx, account.ID, cryptox.FingerprintToken(raw), now.Add(ttl)); err != nil {
		return "", err
	}

	if s.Notifier != nil && account.Email != nil {
		if err := s.Notifier.SendPasswordReset(ctx, *account.Email, account.DisplayName(), raw); err != nil {
			// Delivery failure must not change the outcome of the flow.
			l.Error("password reset notification failed",
				slog.Any("error", err),
				slog.String("account_id", account.ID),
			)
		}
	}

	return raw, nil
}

// ResetPasswordApply redeems a reset token. The grant is single-use and
// every live session is revoked so all devices re-authenticate.
func (s *AccountService) ResetPasswordApply(ctx context.Context, rawToken, newPassword string) error {
	now := time.Now().UTC()

	if rawToken == "" {
		return ErrResetInvalid
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	account, err := s.Store.Accounts().GetAccountByResetTokenHash(ctx, cryptox.FingerprintToken(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrResetInvalid
		}
		return err
	}
	if account.ResetTokenExpiresAt == nil || now.After(*account.ResetTokenExpiresAt) {
		_ = s.Store.Accounts().ClearResetToken(ctx, account.ID)
		return ErrResetInvalid
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Store.Accounts().UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return err
	}
	if err := s.Store.Accounts().ClearResetToken(ctx, account.ID); err != nil {
		return err
	}

	return s.revokeSessions(ctx, account.ID)
}

// ChangePassword replaces a known current password and revokes every
// other live session.
func (s *AccountService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.HasLocalPassword() {
		return ErrNoLocalPassword
	}
	if cryptox.VerifyPassword(currentPassword, *account.PasswordHash) != nil {
		return ErrPasswordMismatch
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Store.Accounts().UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return err
	}

	return s.revokeSessions(ctx, accountID)
}

// UpdateProfile changes the name fields.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID, firstName, lastName string) error {
	err := s.Store.Accounts().UpdateProfile(ctx, accountID, firstName, lastName)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// ChangeEmail updates the account's email address.
func (s *AccountService) ChangeEmail(ctx context.Context, accountID, newEmail string) error {
	newEmail = normalizeEmail(newEmail)
	if newEmail == "" {
		return ErrBadRequest
	}
	err := s.Store.Accounts().UpdateEmail(ctx, accountID, newEmail)
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		return ErrEmailTaken
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	}
	return err
}

// revokeSessions bulk-revokes refresh tokens and cascades into the
// external API-token store. Every security event that invalidates a
// password or account must pass through here.
func (s *AccountService) revokeSessions(ctx context.Context, accountID string) error {
	if err := s.Tokens.RevokeAllForAccount(ctx, accountID); err != nil {
		return err
	}
	if s.APITokens != nil {
		if err := s.APITokens.RevokeAPITokens(ctx, accountID); err != nil {
			return err
		}
	}
	return nil
}
