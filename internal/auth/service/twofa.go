package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/internal/auth/store"
	"github.com/tallyhq/tally/pkg/cryptox"
	"github.com/tallyhq/tally/pkg/slogx"
)

// TwoFactorEnrollment is what setup returns: the plaintext secret and the
// otpauth:// URI for the authenticator app. Shown once, never recoverable.
type TwoFactorEnrollment struct {
	Secret          string
	ProvisioningURI string
}

// VerifyResult is the outcome of completing a pending-2FA login. The raw
// trusted-device token is only set when the caller asked to be remembered.
type VerifyResult struct {
	Tokens      *domain.TokenPair
	DeviceToken string
}

// TwoFactorService owns TOTP enrollment, verification and disablement.
// Secrets live encrypted at rest; the envelope only opens at verify time.
type TwoFactorService struct {
	Store     store.Store
	Tokens    *TokenService
	Devices   *DeviceService
	APITokens APITokenRevoker
	Issuer    string

	// RequireTwoFactor is the operator policy that forbids disabling TOTP.
	RequireTwoFactor bool
}

// Enabled reports whether TOTP is active for the account. Absence of a
// preference row means not enabled.
func (s *TwoFactorService) Enabled(ctx context.Context, accountID string) (bool, error) {
	pref, err := s.Store.Preferences().GetPreference(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return pref.TOTPEnabled, nil
}

// Setup provisions a new TOTP secret for the account and stores it
// encrypted immediately. Enablement happens in Confirm; re-running Setup
// before confirming simply replaces the pending secret.
func (s *TwoFactorService) Setup(ctx context.Context, accountID string) (TwoFactorEnrollment, error) {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TwoFactorEnrollment{}, ErrNotFound
		}
		return TwoFactorEnrollment{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: account.DisplayName(),
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TwoFactorEnrollment{}, fmt.Errorf("generate TOTP key: %w", err)
	}

	masterKey, err := cryptox.MasterKey()
	if err != nil {
		return TwoFactorEnrollment{}, err
	}
	envelope, err := cryptox.EncryptSecret(key.Secret(), masterKey)
	if err != nil {
		return TwoFactorEnrollment{}, err
	}

	if err := s.Store.Accounts().UpdateTOTPSecret(ctx, accountID, &envelope); err != nil {
		return TwoFactorEnrollment{}, err
	}

	return TwoFactorEnrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// Confirm verifies a code against the pending secret and flips TOTP on.
// It does not re-store the secret; Setup already did.
func (s *TwoFactorService) Confirm(ctx context.Context, accountID, code string) error {
	secret, err := s.loadSecret(ctx, accountID)
	if err != nil {
		return err
	}
	if !totp.Validate(code, secret) {
		return fmt.Errorf("%w: invalid code", ErrBadRequest)
	}

	if err := s.Store.Preferences().UpsertPreference(ctx, accountID, true); err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("two-factor enabled", slog.String("account_id", accountID))
	return nil
}

// VerifyPending completes a login that stopped at the 2FA gate. The
// pending token asserts which account verified its password; the TOTP
// code proves possession of the second factor. On success the real pair
// is issued and, if asked, the device is remembered.
func (s *TwoFactorService) VerifyPending(
	ctx context.Context,
	pendingToken, code string,
	rememberDevice bool,
	device domain.DeviceContext,
) (VerifyResult, error) {
	l := slogx.FromContext(ctx)

	accountID, err := s.Tokens.ParsePending(pendingToken)
	if err != nil {
		return VerifyResult{}, err
	}

	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return VerifyResult{}, ErrInvalidSecondFactor
		}
		return VerifyResult{}, err
	}
	if !account.IsActive {
		return VerifyResult{}, ErrAccountDisabled
	}

	secret, err := s.loadSecret(ctx, accountID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !totp.Validate(code, secret) {
		l.Warn("second-factor verification failed", slog.String("account_id", accountID))
		return VerifyResult{}, ErrInvalidSecondFactor
	}

	if err := s.Store.Accounts().TouchLastLogin(ctx, accountID, time.Now().UTC()); err != nil {
		return VerifyResult{}, err
	}

	pair, err := s.Tokens.IssuePair(ctx, account)
	if err != nil {
		return VerifyResult{}, err
	}

	result := VerifyResult{Tokens: pair}
	if rememberDevice {
		deviceToken, err := s.Devices.Remember(ctx, accountID, device)
		if err != nil {
			return VerifyResult{}, err
		}
		result.DeviceToken = deviceToken
	}

	return result, nil
}

// Disable turns TOTP off after re-proving possession of the factor.
// Every trusted device and live session goes with it; a disabled second
// factor must not leave standing bypasses.
func (s *TwoFactorService) Disable(ctx context.Context, accountID, code string) error {
	if s.RequireTwoFactor {
		return ErrTwoFactorPolicy
	}

	secret, err := s.loadSecret(ctx, accountID)
	if err != nil {
		return err
	}
	if !totp.Validate(code, secret) {
		return fmt.Errorf("%w: invalid code", ErrBadRequest)
	}

	if err := s.Store.Accounts().UpdateTOTPSecret(ctx, accountID, nil); err != nil {
		return err
	}
	if err := s.Store.Preferences().UpsertPreference(ctx, accountID, false); err != nil {
		return err
	}
	if _, err := s.Devices.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	if err := s.Tokens.RevokeAllForAccount(ctx, accountID); err != nil {
		return err
	}
	if s.APITokens != nil {
		if err := s.APITokens.RevokeAPITokens(ctx, accountID); err != nil {
			return err
		}
	}

	slogx.FromContext(ctx).Info("two-factor disabled", slog.String("account_id", accountID))
	return nil
}

// loadSecret decrypts the stored TOTP envelope for the account.
func (s *TwoFactorService) loadSecret(ctx context.Context, accountID string) (string, error) {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if account.TOTPSecret == nil || *account.TOTPSecret == "" {
		return "", ErrTwoFactorNotReady
	}

	masterKey, err := cryptox.MasterKey()
	if err != nil {
		return "", err
	}
	secret, err := cryptox.DecryptSecret(*account.TOTPSecret, masterKey)
	if err != nil {
		return "", fmt.Errorf("decrypt TOTP secret: %w", err)
	}
	return secret, nil
}
