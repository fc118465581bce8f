package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/pkg/cryptox"
)

func TestTwoFactorSetupAndConfirm(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tokens := newTokenService(t, st)
	accounts := newAccountService(t, st, tokens)
	twofa := newTwoFactorService(t, st, tokens)

	account := registerAccount(t, accounts, "alice@example.com", "password123")

	enrollment, err := twofa.Setup(ctx, account.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.True(t, strings.HasPrefix(enrollment.ProvisioningURI, "otpauth://totp/"))

	// The secret is stored encrypted, never in the clear.
	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TOTPSecret)
	require.NotContains(t, *stored.TOTPSecret, enrollment.Secret)

	// Secret stored but not confirmed: not enabled yet.
	enabled, err := twofa.Enabled(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, enabled)

	require.ErrorIs(t, twofa.Confirm(ctx, account.ID, "000000"), ErrBadRequest)

	require.NoError(t, twofa.Confirm(ctx, account.ID, totpCode(t, enrollment.Secret)))

	enabled, err = twofa.Enabled(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestTwoFactorConfirm_WithoutSetup(t *testing.T) {
	st := newTestStore(t)
	tokens := newTokenService(t, st)
	accounts := newAccountService(t, st, tokens)
	twofa := newTwoFactorService(t, st, tokens)

	account := registerAccount(t, accounts, "alice@example.com", "password123")

	err := twofa.Confirm(context.Background(), account.ID, "123456")
	require.ErrorIs(t, err, ErrTwoFactorNotReady)
}

func TestVerifyPending(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tokens := newTokenService(t, st)
	accounts := newAccountService(t, st, tokens)
	twofa := newTwoFactorService(t, st, tokens)

	account := registerAccount(t, accounts, "alice@example.com", "password123")
	enrollment, err := twofa.Setup(ctx, account.ID)
	require.NoError(t, err)
	require.NoError(t, twofa.Confirm(ctx, account.ID, totpCode(t, enrollment.Secret)))

	pending, err := tokens.MintPending(ctx, account.ID)
	require.NoError(t, err)

	t.Run("wrong code leaves no trace", func(t *testing.T) {
		_, err := twofa.VerifyPending(ctx, pending, "000000", false, domain.DeviceContext{})
		require.ErrorIs(t, err, ErrInvalidSecondFactor)

		got, err := st.Accounts().GetAccountByID(ctx, account.ID)
		require.NoError(t, err)
		require.Nil(t, got.LastLoginAt, "failed verification must not mutate state")
	})

	t.Run("garbage pending token", func(t *testing.T) {
		_, err := twofa.VerifyPending(ctx, "not-a-token", totpCode(t, enrollment.Secret), false, domain.DeviceContext{})
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("access token is not a pending token", func(t *testing.T) {
		pair, err := tokens.IssuePair(ctx, account)
		require.NoError(t, err)

		_, err = twofa.VerifyPending(ctx, pair.AccessToken, totpCode(t, enrollment.Secret), false, domain.DeviceContext{})
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("correct code issues tokens", func(t *testing.T) {
		result, err := twofa.VerifyPending(ctx, pending, totpCode(t, enrollment.Secret), false, domain.DeviceContext{})
		require.NoError(t, err)
		require.NotNil(t, result.Tokens)
		require.NotEmpty(t, result.Tokens.AccessToken)
		require.Empty(t, result.DeviceToken, "no device token unless requested")

		got, err := st.Accounts().GetAccountByID(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastLoginAt)
	})

	t.Run("remember device returns bearer token", func(t *testing.T) {
		result, err := twofa.VerifyPending(ctx, pending, totpCode(t, enrollment.Secret), true, domain.DeviceContext{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0 Safari/537.36",
		})
		require.NoError(t, err)
		require.NotEmpty(t, result.DeviceToken)

		devices, err := twofa.Devices.List(ctx, account.ID)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		require.Equal(t, "Chrome on macOS", devices[0].Label)
	})
}

func TestTwoFactorDisable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tokens := newTokenService(t, st)
	accounts := newAccountService(t, st, tokens)
	twofa := newTwoFactorService(t, st, tokens)

	account := registerAccount(t, accounts, "alice@example.com", "password123")
	enrollment, err := twofa.Setup(ctx, account.ID)
	require.NoError(t, err)
	require.NoError(t, twofa.Confirm(ctx, account.ID, totpCode(t, enrollment.Secret)))

	_, err = twofa.Devices.Remember(ctx, account.ID, domain.DeviceContext{UserAgent: "Firefox/121.0 Linux"})
	require.NoError(t, err)
	pair, err := tokens.IssuePair(ctx, account)
	require.NoError(t, err)

	t.Run("policy forbids disabling", func(t *testing.T) {
		twofa.RequireTwoFactor = true
		defer func() { twofa.RequireTwoFactor = false }()

		err := twofa.Disable(ctx, account.ID, totpCode(t, enrollment.Secret))
		require.ErrorIs(t, err, ErrTwoFactorPolicy)
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("wrong code", func(t *testing.T) {
		require.ErrorIs(t, twofa.Disable(ctx, account.ID, "000000"), ErrBadRequest)
	})

	t.Run("success clears everything", func(t *testing.T) {
		require.NoError(t, twofa.Disable(ctx, account.ID, totpCode(t, enrollment.Secret)))

		enabled, err := twofa.Enabled(ctx, account.ID)
		require.NoError(t, err)
		require.False(t, enabled)

		got, err := st.Accounts().GetAccountByID(ctx, account.ID)
		require.NoError(t, err)
		require.Nil(t, got.TOTPSecret, "secret is gone")

		devices, err := twofa.Devices.List(ctx, account.ID)
		require.NoError(t, err)
		require.Empty(t, devices, "no standing bypasses after disable")

		record, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
		require.NoError(t, err)
		require.True(t, record.Revoked, "sessions re-authenticate after disable")
	})
}
