package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/pkg/cryptox"
)

func TestRegister_FirstAccountBecomesAdmin(t *testing.T) {
	st := newTestStore(t)
	svc := newAccountService(t, st, newTokenService(t, st))

	first := registerAccount(t, svc, "root@example.com", "password123")
	require.Equal(t, domain.RoleAdmin, first.Role)
	require.True(t, first.IsActive)

	second := registerAccount(t, svc, "user@example.com", "password123")
	require.Equal(t, domain.RoleUser, second.Role)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	st := newTestStore(t)
	svc := newAccountService(t, st, newTokenService(t, st))

	registerAccount(t, svc, "alice@example.com", "password123")

	_, err := svc.Register(context.Background(), "alice@example.com", "different-pw", domain.Profile{})
	require.ErrorIs(t, err, ErrEmailTaken)
	require.ErrorIs(t, err, ErrConflict)

	// Email matching is case-insensitive.
	_, err = svc.Register(context.Background(), "ALICE@example.com", "different-pw", domain.Profile{})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_ClosedRegistration(t *testing.T) {
	st := newTestStore(t)
	svc := newAccountService(t, st, newTokenService(t, st))
	svc.AllowRegistration = false

	// Bootstrap account always goes through.
	registerAccount(t, svc, "root@example.com", "password123")

	_, err := svc.Register(context.Background(), "user@example.com", "password123", domain.Profile{})
	require.ErrorIs(t, err, ErrRegistrationClosed)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestRegister_WeakPassword(t *testing.T) {
	st := newTestStore(t)
	svc := newAccountService(t, st, newTokenService(t, st))

	_, err := svc.Register(context.Background(), "alice@example.com", "short", domain.Profile{})
	require.ErrorIs(t, err, ErrPasswordPolicy)
}

func TestVerifyLocalCredentials(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newAccountService(t, st, newTokenService(t, st))
	account := registerAccount(t, svc, "alice@example.com", "password123")

	t.Run("success", func(t *testing.T) {
		got, err := svc.VerifyLocalCredentials(ctx, "alice@example.com", "password123")
		require.NoError(t, err)
		require.Equal(t, account.ID, got.ID)
	})

	t.Run("unknown email and wrong password are indistinguishable", func(t *testing.T) {
		_, err := svc.VerifyLocalCredentials(ctx, "nobody@example.com", "password123")
		require.ErrorIs(t, err, ErrInvalidCredentials)

		_, err2 := svc.VerifyLocalCredentials(ctx, "alice@example.com", "wrong-password")
		require.ErrorIs(t, err2, ErrInvalidCredentials)
		require.Equal(t, err.Error(), err2.Error())
	})

	t.Run("external-only account", func(t *testing.T) {
		subject := "provider|123"
		email := "ext@example.com"
		require.NoError(t, st.Accounts().CreateAccount(ctx, domain.Account{
			ID:              "ext-account",
			Email:           &email,
			ExternalSubject: &subject,
			Role:            domain.RoleUser,
			IsActive:        true,
		}))

		_, err := svc.VerifyLocalCredentials(ctx, "ext@example.com", "anything")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("disabled account is distinguishable", func(t *testing.T) {
		disabled := registerAccount(t, svc, "disabled@example.com", "password123")
		require.NoError(t, st.Accounts().SetActive(ctx, disabled.ID, false))

		_, err := svc.VerifyLocalCredentials(ctx, "disabled@example.com", "password123")
		require.ErrorIs(t, err, ErrAccountDisabled)
	})
}

func TestChangeRole(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newAccountService(t, st, newTokenService(t, st))

	admin := registerAccount(t, svc, "admin@example.com", "password123")
	user := registerAccount(t, svc, "user@example.com", "password123")

	t.Run("self role change forbidden", func(t *testing.T) {
		err := svc.ChangeRole(ctx, admin.ID, admin.ID, domain.RoleUser)
		require.ErrorIs(t, err, ErrSelfTarget)
	})

	t.Run("unknown target", func(t *testing.T) {
		err := svc.ChangeRole(ctx, admin.ID, "missing", domain.RoleAdmin)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid role", func(t *testing.T) {
		err := svc.ChangeRole(ctx, admin.ID, user.ID, domain.Role("superuser"))
		require.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("promotion then demotion", func(t *testing.T) {
		require.NoError(t, svc.ChangeRole(ctx, admin.ID, user.ID, domain.RoleAdmin))

		got, err := svc.GetAccount(ctx, user.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RoleAdmin, got.Role)

		// Two active admins now, so demoting one is fine.
		require.NoError(t, svc.ChangeRole(ctx, admin.ID, user.ID, domain.RoleUser))
	})

	t.Run("last admin cannot be demoted", func(t *testing.T) {
		err := svc.ChangeRole(ctx, user.ID, admin.ID, domain.RoleUser)
		require.ErrorIs(t, err, ErrLastAdmin)
		require.ErrorIs(t, err, ErrBadRequest)
	})
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tokens := newTokenService(t, st)
	svc := newAccountService(t, st, tokens)

	admin := registerAccount(t, svc, "admin@example.com", "password123")
	user := registerAccount(t, svc, "user@example.com", "password123")

	t.Run("self target forbidden", func(t *testing.T) {
		require.ErrorIs(t, svc.SetActive(ctx, admin.ID, admin.ID, false), ErrSelfTarget)
	})

	t.Run("last active admin cannot be deactivated", func(t *testing.T) {
		require.ErrorIs(t, svc.SetActive(ctx, user.ID, admin.ID, false), ErrLastAdmin)
	})

	t.Run("deactivation revokes sessions", func(t *testing.T) {
		pair, err := tokens.IssuePair(ctx, user)
		require.NoError(t, err)

		require.NoError(t, svc.SetActive(ctx, admin.ID, user.ID, false))

		got, err := svc.GetAccount(ctx, user.ID)
		require.NoError(t, err)
		require.False(t, got.IsActive)

		record, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
		require.NoError(t, err)
		require.True(t, record.Revoked)
	})
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tokens := newTokenService(t, st)
	svc := newAccountService(t, st, tokens)

	admin := registerAccount(t, svc, "admin@example.com", "password123")

	t.Run("last active admin cannot be deleted, even by self", func(t *testing.T) {
		err := svc.DeleteAccount(ctx, admin.ID, admin.ID)
		require.ErrorIs(t, err, ErrLastAdminDelete)
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("regular self-delete cascades", func(t *testing.T) {
		user := registerAccount(t, svc, "user@example.com", "password123")
		pair, err := tokens.IssuePair(ctx, user)
		require.NoError(t, err)
		require.NoError(t, st.Preferences().UpsertPreference(ctx, user.ID, true))

		require.NoError(t, svc.DeleteAccount(ctx, user.ID, user.ID))

		_, err = svc.GetAccount(ctx, user.ID)
		require.ErrorIs(t, err, ErrNotFound)

		_, err = st.Preferences().GetPreference(ctx, user.ID)
		require.Error(t, err)

		// Revocation happened before the row went away.
		_, err = st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
		require.Error(t, err, "cascade removed the rows entirely")
	})

	t.Run("second admin unblocks deletion", func(t *testing.T) {
		other := registerAccount(t, svc, "admin2@example.com", "password123")
		require.NoError(t, svc.ChangeRole(ctx, admin.ID, other.ID, domain.RoleAdmin))

		require.NoError(t, svc.DeleteAccount(ctx, other.ID, admin.ID))
	})
}

func TestResetPassword_OneTimeUse(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tokens := newTokenService(t, st)
	svc := newAccountService(t, st, tokens)

	account := registerAccount(t, svc, "alice@example.com", "password123")
	pair, err := tokens.IssuePair(ctx, account)
	require.NoError(t, err)

	raw, err := svc.ResetPasswordRequest(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	require.NoError(t, svc.ResetPasswordApply(ctx, raw, "new-password-456"))

	// New password works, old one does not.
	_, err = svc.VerifyLocalCredentials(ctx, "alice@example.com", "new-password-456")
	require.NoError(t, err)
	_, err = svc.VerifyLocalCredentials(ctx, "alice@example.com", "password123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// All sessions from before the reset are dead.
	record, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
	require.NoError(t, err)
	require.True(t, record.Revoked)

	// The grant is single-use.
	err = svc.ResetPasswordApply(ctx, raw, "another-password-789")
	require.ErrorIs(t, err, ErrResetInvalid)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestResetPasswordRequest_UnknownEmailReportsNothing(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newAccountService(t, st, newTokenService(t, st))

	raw, err := svc.ResetPasswordRequest(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.Empty(t, raw)

	// External-only accounts look exactly the same.
	subject := "provider|42"
	email := "ext@example.com"
	require.NoError(t, st.Accounts().CreateAccount(ctx, domain.Account{
		ID:              "ext-account",
		Email:           &email,
		ExternalSubject: &subject,
		Role:            domain.RoleUser,
		IsActive:        true,
	}))

	raw, err = svc.ResetPasswordRequest(ctx, "ext@example.com")
	require.NoError(t, err)
	require.Empty(t, raw)
}

func TestResetPasswordApply_UnknownToken(t *testing.T) {
	st := newTestStore(t)
	svc := newAccountService(t, st, newTokenService(t, st))

	err := svc.ResetPasswordApply(context.Background(), "bogus-token", "new-password-456")
	require.ErrorIs(t, err, ErrResetInvalid)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tokens := newTokenService(t, st)
	svc := newAccountService(t, st, tokens)

	account := registerAccount(t, svc, "alice@example.com", "password123")

	t.Run("wrong current password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, account.ID, "not-the-password", "new-password-456")
		require.ErrorIs(t, err, ErrPasswordMismatch)
		require.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("success revokes sessions", func(t *testing.T) {
		pair, err := tokens.IssuePair(ctx, account)
		require.NoError(t, err)

		require.NoError(t, svc.ChangePassword(ctx, account.ID, "password123", "new-password-456"))

		_, err = svc.VerifyLocalCredentials(ctx, "alice@example.com", "new-password-456")
		require.NoError(t, err)

		record, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
		require.NoError(t, err)
		require.True(t, record.Revoked)
	})
}
