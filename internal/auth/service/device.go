package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/internal/auth/store"
	"github.com/tallyhq/tally/pkg/cryptox"
	"github.com/tallyhq/tally/pkg/idx"
)

// DefaultTrustedDeviceWindow is how long a remembered device may bypass
// second-factor verification.
const DefaultTrustedDeviceWindow = 30 * 24 * time.Hour

// DeviceService manages trusted-device bypass tokens. Records expire
// lazily: validation and listing delete lapsed rows as they encounter
// them, so no background sweep is needed for this entity.
type DeviceService struct {
	Store  store.Store
	Window time.Duration
}

func (s *DeviceService) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return DefaultTrustedDeviceWindow
}

// Remember creates a trusted-device record and returns the raw bearer
// token once. The caller hands it back on future logins to skip TOTP.
func (s *DeviceService) Remember(ctx context.Context, accountID string, device domain.DeviceContext) (string, error) {
	now := time.Now().UTC()

	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	record := domain.TrustedDevice{
		ID:         idx.New().String(),
		AccountID:  accountID,
		TokenHash:  cryptox.FingerprintToken(raw),
		Label:      deviceLabel(device.UserAgent),
		LastUsedAt: now,
		ExpiresAt:  now.Add(s.window()),
		CreatedAt:  now,
	}
	if device.SourceAddress != "" {
		addr := device.SourceAddress
		record.SourceAddress = &addr
	}

	if err := s.Store.TrustedDevices().CreateTrustedDevice(ctx, record); err != nil {
		return "", err
	}
	return raw, nil
}

// Validate reports whether the raw token is a live trusted device for the
// account. A matching but expired record is deleted on the spot and
// reported as invalid; a live match refreshes last_used_at.
func (s *DeviceService) Validate(ctx context.Context, accountID, rawToken string) (bool, error) {
	if rawToken == "" {
		return false, nil
	}
	now := time.Now().UTC()

	record, err := s.Store.TrustedDevices().GetTrustedDeviceByHash(ctx, accountID, cryptox.FingerprintToken(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if record.Expired(now) {
		if err := s.Store.TrustedDevices().DeleteTrustedDevice(ctx, accountID, record.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		return false, nil
	}

	if err := s.Store.TrustedDevices().TouchTrustedDevice(ctx, record.ID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	return true, nil
}

// List returns the account's live devices, most recently used first,
// clearing out any expired ones on the way.
func (s *DeviceService) List(ctx context.Context, accountID string) ([]domain.TrustedDevice, error) {
	if _, err := s.Store.TrustedDevices().DeleteExpiredForAccount(ctx, accountID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.Store.TrustedDevices().ListTrustedDevices(ctx, accountID)
}

// Revoke removes one device. The lookup is owner-scoped so an account can
// never revoke another account's device.
func (s *DeviceService) Revoke(ctx context.Context, accountID, deviceID string) error {
	err := s.Store.TrustedDevices().DeleteTrustedDevice(ctx, accountID, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// RevokeAll removes every device for the account and reports how many went.
func (s *DeviceService) RevokeAll(ctx context.Context, accountID string) (int64, error) {
	return s.Store.TrustedDevices().DeleteAllForAccount(ctx, accountID)
}

// deviceLabel derives a human label like "Chrome on macOS" from a raw
// user-agent string. Best effort; unknown agents get a generic label.
func deviceLabel(userAgent string) string {
	browser := matchFirst(userAgent, []uaToken{
		{"Edg/", "Edge"},
		{"OPR/", "Opera"},
		{"Firefox/", "Firefox"},
		{"Chrome/", "Chrome"},
		{"Safari/", "Safari"},
	})
	os := matchFirst(userAgent, []uaToken{
		{"Windows", "Windows"},
		{"Android", "Android"},
		{"iPhone", "iOS"},
		{"iPad", "iOS"},
		{"Mac OS X", "macOS"},
		{"Macintosh", "macOS"},
		{"Linux", "Linux"},
	})

	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	case os != "":
		return os
	default:
		return "Unknown device"
	}
}

type uaToken struct {
	needle string
	label  string
}

func matchFirst(userAgent string, tokens []uaToken) string {
	for _, t := range tokens {
		if strings.Contains(userAgent, t.needle) {
			return t.label
		}
	}
	return ""
}
