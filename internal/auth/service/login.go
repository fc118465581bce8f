package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/pkg/ratex"
	"github.com/tallyhq/tally/pkg/slogx"
)

// LoginResult is the outcome of a login attempt. Exactly one of Tokens
// and PendingToken is set: a caller holding only a pending token is not
// authenticated yet.
type LoginResult struct {
	Tokens            *domain.TokenPair
	PendingToken      string
	TwoFactorRequired bool
}

// LoginService orchestrates the login flows: password and external
// identity both funnel through the same second-factor gate before any
// real tokens are issued.
type LoginService struct {
	Accounts  *AccountService
	Tokens    *TokenService
	TwoFactor *TwoFactorService
	Devices   *DeviceService
	External  *ExternalIdentityService

	// Limiter throttles password attempts per email. Nil disables limiting.
	Limiter *ratex.Limiter
}

// PasswordLogin verifies local credentials and walks the 2FA gate. A
// valid trusted-device token short-circuits the gate.
func (s *LoginService) PasswordLogin(ctx context.Context, email, password, deviceToken string) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	if s.Limiter != nil && !s.Limiter.Allow(normalizeEmail(email)) {
		l.Warn("login rate limit tripped", slog.String("email", normalizeEmail(email)))
		return LoginResult{}, ErrTooManyAttempts
	}

	account, err := s.Accounts.VerifyLocalCredentials(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}

	return s.completeLogin(ctx, account, deviceToken)
}

// ExternalLogin resolves OIDC claims to an account and walks the same
// 2FA gate as a password login.
func (s *LoginService) ExternalLogin(ctx context.Context, rawClaims map[string]any, deviceToken string) (LoginResult, error) {
	claims, err := NormalizeExternalClaims(rawClaims)
	if err != nil {
		return LoginResult{}, ErrBadRequest
	}

	account, err := s.External.Resolve(ctx, claims)
	if err != nil {
		return LoginResult{}, err
	}

	return s.completeLogin(ctx, account, deviceToken)
}

// completeLogin is the shared tail of every login flow: if TOTP is on
// and no live trusted device vouches for the caller, only a pending
// token comes out.
func (s *LoginService) completeLogin(ctx context.Context, account domain.Account, deviceToken string) (LoginResult, error) {
	enabled, err := s.TwoFactor.Enabled(ctx, account.ID)
	if err != nil {
		return LoginResult{}, err
	}

	if enabled {
		trusted := false
		if deviceToken != "" {
			trusted, err = s.Devices.Validate(ctx, account.ID, deviceToken)
			if err != nil {
				return LoginResult{}, err
			}
		}
		if !trusted {
			pending, err := s.Tokens.MintPending(ctx, account.ID)
			if err != nil {
				return LoginResult{}, err
			}
			return LoginResult{PendingToken: pending, TwoFactorRequired: true}, nil
		}
	}

	if err := s.Accounts.Store.Accounts().TouchLastLogin(ctx, account.ID, time.Now().UTC()); err != nil {
		return LoginResult{}, err
	}

	pair, err := s.Tokens.IssuePair(ctx, account)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Tokens: pair}, nil
}
