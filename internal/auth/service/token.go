package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/internal/auth/store"
	"github.com/tallyhq/tally/pkg/cryptox"
	"github.com/tallyhq/tally/pkg/idx"
	"github.com/tallyhq/tally/pkg/jwtx"
	"github.com/tallyhq/tally/pkg/slogx"
)

// TokenService mints access/refresh pairs and owns the refresh rotation
// protocol. Refresh tokens are opaque random values stored by fingerprint;
// access and pending tokens are Ed25519 JWTs.
type TokenService struct {
	Store    store.Store
	Signer   *jwtx.Signer
	Verifier *jwtx.Verifier
	Issuer   string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	PendingTTL time.Duration
}

// IssuePair mints a fresh access/refresh pair for the account, starting a
// new refresh family.
func (s *TokenService) IssuePair(ctx context.Context, account domain.Account) (*domain.TokenPair, error) {
	return s.issuePair(ctx, s.Store.RefreshTokens(), account, idx.New().String(), time.Now().UTC())
}

// issuePair mints a pair inside an existing family. repo may be tx-scoped.
func (s *TokenService) issuePair(
	ctx context.Context,
	repo store.RefreshTokens,
	account domain.Account,
	familyID string,
	now time.Time,
) (*domain.TokenPair, error) {
	accessToken, err := s.Signer.Sign(jwtx.NewAccessClaims(account.ID, string(account.Role), s.Issuer, s.AccessTTL, now))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	record := domain.RefreshToken{
		ID:        idx.New().String(),
		AccountID: account.ID,
		TokenHash: cryptox.FingerprintToken(refreshOpaque),
		FamilyID:  familyID,
		Revoked:   false,
		ExpiresAt: now.Add(s.RefreshTTL),
	}
	if err := repo.CreateRefreshToken(ctx, record); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// Rotate redeems a refresh token for a new pair, single-use. Presenting a
// token that has already been rotated revokes its entire family: a replay
// means either the legitimate holder or a thief has a descendant token,
// and there is no way to tell which, so both lose.
//
// The lookup and the revoke+create run in one write transaction so two
// concurrent redemptions of the same token serialize; the loser observes
// the revoked row and takes the reuse path.
func (s *TokenService) Rotate(ctx context.Context, refreshOpaque string) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	if refreshOpaque == "" {
		return nil, ErrInvalidRefresh
	}
	fp := cryptox.FingerprintToken(refreshOpaque)

	// Denial verdicts that carry a revocation (reuse, expiry, dead account)
	// must commit their writes. The closure stashes the sentinel and returns
	// nil so WithTx commits; returning the sentinel would roll the
	// revocation back with the rest of the transaction.
	var pair *domain.TokenPair
	var denied error
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		record, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				denied = ErrInvalidRefresh
				return nil
			}
			return err
		}

		if record.Revoked {
			if err := tx.RefreshTokens().RevokeFamily(ctx, record.FamilyID); err != nil {
				return err
			}
			l.Warn("refresh token reuse detected, family revoked",
				slog.String("account_id", record.AccountID),
				slog.String("family_id", record.FamilyID),
			)
			denied = ErrRefreshReuse
			return nil
		}

		if now.After(record.ExpiresAt) {
			if err := tx.RefreshTokens().RevokeRefreshToken(ctx, fp, nil); err != nil {
				return err
			}
			denied = ErrInvalidRefresh
			return nil
		}

		account, err := tx.Accounts().GetAccountByID(ctx, record.AccountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				if err := tx.RefreshTokens().RevokeFamily(ctx, record.FamilyID); err != nil {
					return err
				}
				denied = ErrInvalidRefresh
				return nil
			}
			return err
		}
		if !account.IsActive {
			if err := tx.RefreshTokens().RevokeFamily(ctx, record.FamilyID); err != nil {
				return err
			}
			denied = ErrAccountDisabled
			return nil
		}

		next, err := s.issuePair(ctx, tx.RefreshTokens(), account, record.FamilyID, now)
		if err != nil {
			return err
		}
		nextHash := cryptox.FingerprintToken(next.RefreshToken)
		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, fp, &nextHash); err != nil {
			return err
		}

		pair = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if denied != nil {
		return nil, denied
	}

	return pair, nil
}

// RevokeByRawToken handles logout: the presented refresh token's whole
// family is revoked so no descendant survives. Unknown tokens are a
// silent no-op; logout never fails because the session was already gone.
func (s *TokenService) RevokeByRawToken(ctx context.Context, refreshOpaque string) error {
	if refreshOpaque == "" {
		return nil
	}
	record, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(refreshOpaque))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.Store.RefreshTokens().RevokeFamily(ctx, record.FamilyID)
}

// RevokeAllForAccount invalidates every outstanding session for an account.
func (s *TokenService) RevokeAllForAccount(ctx context.Context, accountID string) error {
	return s.Store.RefreshTokens().RevokeAllForAccount(ctx, accountID)
}

// PurgeExpired physically deletes refresh token records past expiry.
func (s *TokenService) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.Store.RefreshTokens().DeleteExpired(ctx, now)
}

// MintPending issues the short-lived assertion handed to a caller whose
// password verified but who still owes a second factor. It carries no
// role and grants no access.
func (s *TokenService) MintPending(ctx context.Context, accountID string) (string, error) {
	token, err := s.Signer.Sign(jwtx.NewPendingClaims(accountID, s.Issuer, s.PendingTTL, time.Now().UTC()))
	if err != nil {
		return "", fmt.Errorf("sign pending token: %w", err)
	}
	return token, nil
}

// ParsePending validates a pending-2FA token and returns the account ID
// it asserts. Access tokens are rejected here regardless of validity.
func (s *TokenService) ParsePending(pendingToken string) (string, error) {
	claims, err := s.Verifier.Verify(pendingToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if err := claims.ValidateType(jwtx.TokenTypePending); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return claims.Subject, nil
}

// ParseAccess validates an access token and returns its claims. Pending
// tokens are rejected; they must never be usable as access tokens.
func (s *TokenService) ParseAccess(accessToken string) (*jwtx.Claims, error) {
	claims, err := s.Verifier.Verify(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if err := claims.ValidateType(jwtx.TokenTypeAccess); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return claims, nil
}
