package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/pkg/ratex"
)

func TestPasswordLogin_NoSecondFactor(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newLoginService(t, st)

	account := registerAccount(t, login.Accounts, "alice@example.com", "password123")

	result, err := login.PasswordLogin(ctx, "alice@example.com", "password123", "")
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	require.False(t, result.TwoFactorRequired)
	require.Empty(t, result.PendingToken)

	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
}

func TestPasswordLogin_BadCredentials(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newLoginService(t, st)

	registerAccount(t, login.Accounts, "alice@example.com", "password123")

	_, err := login.PasswordLogin(ctx, "alice@example.com", "wrong", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordLogin_SecondFactorGate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newLoginService(t, st)

	account := registerAccount(t, login.Accounts, "alice@example.com", "password123")

	enrollment, err := login.TwoFactor.Setup(ctx, account.ID)
	require.NoError(t, err)
	require.NoError(t, login.TwoFactor.Confirm(ctx, account.ID, totpCode(t, enrollment.Secret)))

	// Password alone yields only a pending token.
	result, err := login.PasswordLogin(ctx, "alice@example.com", "password123", "")
	require.NoError(t, err)
	require.True(t, result.TwoFactorRequired)
	require.Nil(t, result.Tokens, "no usable tokens before the second factor")
	require.NotEmpty(t, result.PendingToken)

	// The pending token plus a valid code completes the login.
	verified, err := login.TwoFactor.VerifyPending(ctx, result.PendingToken, totpCode(t, enrollment.Secret), true, domain.DeviceContext{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0",
	})
	require.NoError(t, err)
	require.NotNil(t, verified.Tokens)
	require.NotEmpty(t, verified.DeviceToken)

	// A remembered device bypasses the gate on the next login.
	result, err = login.PasswordLogin(ctx, "alice@example.com", "password123", verified.DeviceToken)
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	require.False(t, result.TwoFactorRequired)

	// A bogus device token does not.
	result, err = login.PasswordLogin(ctx, "alice@example.com", "password123", "bogus-device-token")
	require.NoError(t, err)
	require.True(t, result.TwoFactorRequired)
	require.Nil(t, result.Tokens)
}

func TestPasswordLogin_RateLimited(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newLoginService(t, st)
	login.Limiter = ratex.New(ratex.Config{Attempts: 2, Window: time.Hour, Burst: 2})

	registerAccount(t, login.Accounts, "alice@example.com", "password123")

	for i := 0; i < 2; i++ {
		_, err := login.PasswordLogin(ctx, "alice@example.com", "wrong", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := login.PasswordLogin(ctx, "alice@example.com", "password123", "")
	require.ErrorIs(t, err, ErrTooManyAttempts)

	// Other accounts are unaffected.
	registerAccount(t, login.Accounts, "bob@example.com", "password123")
	_, err = login.PasswordLogin(ctx, "bob@example.com", "password123", "")
	require.NoError(t, err)
}

func TestExternalLogin(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newLoginService(t, st)

	result, err := login.ExternalLogin(ctx, map[string]any{
		"sub":            "provider|7",
		"email":          "carol@example.com",
		"email_verified": true,
		"given_name":     "Carol",
	}, "")
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)

	t.Run("second factor applies to external logins too", func(t *testing.T) {
		account, err := st.Accounts().GetAccountByExternalSubject(ctx, "provider|7")
		require.NoError(t, err)

		enrollment, err := login.TwoFactor.Setup(ctx, account.ID)
		require.NoError(t, err)
		require.NoError(t, login.TwoFactor.Confirm(ctx, account.ID, totpCode(t, enrollment.Secret)))

		result, err := login.ExternalLogin(ctx, map[string]any{
			"sub": "provider|7",
		}, "")
		require.NoError(t, err)
		require.True(t, result.TwoFactorRequired)
		require.Nil(t, result.Tokens)
	})

	t.Run("malformed claims", func(t *testing.T) {
		_, err := login.ExternalLogin(ctx, map[string]any{"email": "x@y.com"}, "")
		require.ErrorIs(t, err, ErrBadRequest)
	})
}
