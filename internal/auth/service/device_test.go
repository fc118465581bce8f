package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/pkg/cryptox"
	"github.com/tallyhq/tally/pkg/idx"
)

func TestDeviceRememberAndValidate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &DeviceService{Store: st}

	accounts := newAccountService(t, st, newTokenService(t, st))
	account := registerAccount(t, accounts, "alice@example.com", "password123")

	raw, err := svc.Remember(ctx, account.ID, domain.DeviceContext{
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0",
		SourceAddress: "203.0.113.7",
	})
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	ok, err := svc.Validate(ctx, account.ID, raw)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("wrong token", func(t *testing.T) {
		ok, err := svc.Validate(ctx, account.ID, "never-issued")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("empty token", func(t *testing.T) {
		ok, err := svc.Validate(ctx, account.ID, "")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("token is account scoped", func(t *testing.T) {
		other := registerAccount(t, accounts, "bob@example.com", "password123")
		ok, err := svc.Validate(ctx, other.ID, raw)
		require.NoError(t, err)
		require.False(t, ok, "one account's device must not vouch for another")
	})
}

func TestDeviceValidate_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &DeviceService{Store: st}

	accounts := newAccountService(t, st, newTokenService(t, st))
	account := registerAccount(t, accounts, "alice@example.com", "password123")

	raw := cryptox.MustGenerateToken(cryptox.TokenSize256)
	now := time.Now().UTC()
	require.NoError(t, st.TrustedDevices().CreateTrustedDevice(ctx, domain.TrustedDevice{
		ID:         idx.New().String(),
		AccountID:  account.ID,
		TokenHash:  cryptox.FingerprintToken(raw),
		Label:      "old laptop",
		LastUsedAt: now.Add(-40 * 24 * time.Hour),
		ExpiresAt:  now.Add(-10 * 24 * time.Hour),
		CreatedAt:  now.Add(-40 * 24 * time.Hour),
	}))

	ok, err := svc.Validate(ctx, account.ID, raw)
	require.NoError(t, err)
	require.False(t, ok)

	// The expired record was deleted on the spot.
	devices, err := st.TrustedDevices().ListTrustedDevices(ctx, account.ID)
	require.NoError(t, err)
	require.Empty(t, devices)
}

func TestDeviceList_DropsExpiredAndOrders(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &DeviceService{Store: st}

	accounts := newAccountService(t, st, newTokenService(t, st))
	account := registerAccount(t, accounts, "alice@example.com", "password123")

	now := time.Now().UTC()
	mk := func(label string, lastUsed, expires time.Time) {
		require.NoError(t, st.TrustedDevices().CreateTrustedDevice(ctx, domain.TrustedDevice{
			ID:         idx.New().String(),
			AccountID:  account.ID,
			TokenHash:  cryptox.FingerprintToken(label),
			Label:      label,
			LastUsedAt: lastUsed,
			ExpiresAt:  expires,
			CreatedAt:  lastUsed,
		}))
	}
	mk("stale", now.Add(-40*24*time.Hour), now.Add(-time.Hour))
	mk("older", now.Add(-48*time.Hour), now.Add(20*24*time.Hour))
	mk("newer", now.Add(-time.Hour), now.Add(29*24*time.Hour))

	devices, err := svc.List(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, devices, 2, "expired devices dropped on list")
	require.Equal(t, "newer", devices[0].Label)
	require.Equal(t, "older", devices[1].Label)
}

func TestDeviceRevoke(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &DeviceService{Store: st}

	accounts := newAccountService(t, st, newTokenService(t, st))
	alice := registerAccount(t, accounts, "alice@example.com", "password123")
	bob := registerAccount(t, accounts, "bob@example.com", "password123")

	_, err := svc.Remember(ctx, alice.ID, domain.DeviceContext{UserAgent: "Firefox/121.0 Linux"})
	require.NoError(t, err)

	devices, err := svc.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	t.Run("cannot revoke another account's device", func(t *testing.T) {
		err := svc.Revoke(ctx, bob.ID, devices[0].ID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("owner revokes", func(t *testing.T) {
		require.NoError(t, svc.Revoke(ctx, alice.ID, devices[0].ID))

		remaining, err := svc.List(ctx, alice.ID)
		require.NoError(t, err)
		require.Empty(t, remaining)
	})
}

func TestDeviceRevokeAll(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &DeviceService{Store: st}

	accounts := newAccountService(t, st, newTokenService(t, st))
	account := registerAccount(t, accounts, "alice@example.com", "password123")

	for i := 0; i < 3; i++ {
		_, err := svc.Remember(ctx, account.ID, domain.DeviceContext{UserAgent: "Firefox/121.0 Linux"})
		require.NoError(t, err)
	}

	count, err := svc.RevokeAll(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestDeviceLabel(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{
			"chrome on macos",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
			"Chrome on macOS",
		},
		{
			"firefox on linux",
			"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			"Firefox on Linux",
		},
		{
			"edge on windows",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			"Edge on Windows",
		},
		{
			"safari on ios",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 Version/17.2 Safari/604.1",
			"Safari on iOS",
		},
		{"os only", "SomethingCustom (Android 14)", "Android"},
		{"empty", "", "Unknown device"},
		{"garbage", "curl/8.4.0", "Unknown device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, deviceLabel(tt.userAgent))
		})
	}
}
