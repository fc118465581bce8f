package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/internal/auth/store"
	"github.com/tallyhq/tally/pkg/idx"
	"github.com/tallyhq/tally/pkg/slogx"
)

// ExternalIdentityService resolves a validated OIDC claims map to a local
// account, creating or linking as needed. The one hard rule: linking to
// an existing local account only ever happens on a provider-verified
// email claim. An unverified email is display data, nothing more.
type ExternalIdentityService struct {
	Store store.Store

	// AllowRegistration gates creating accounts for unknown identities.
	// The first account ever is always allowed through for bootstrap.
	AllowRegistration bool
}

// NormalizeExternalClaims turns the untyped claims map an OIDC provider
// returns into the fixed struct the linker consumes. All duck-typed
// parsing lives here: email_verified arrives as bool or string depending
// on provider, and name may be one claim or two.
func NormalizeExternalClaims(claims map[string]any) (domain.ExternalClaims, error) {
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return domain.ExternalClaims{}, errors.New("claims missing sub")
	}

	out := domain.ExternalClaims{Subject: subject}

	if email, ok := claims["email"].(string); ok {
		out.Email = normalizeEmail(email)
	}

	switch v := claims["email_verified"].(type) {
	case bool:
		out.EmailVerified = v
	case string:
		out.EmailVerified = v == "true"
	}

	out.FirstName, _ = claims["given_name"].(string)
	out.LastName, _ = claims["family_name"].(string)

	if out.FirstName == "" && out.LastName == "" {
		if full, ok := claims["name"].(string); ok {
			parts := strings.Fields(full)
			if len(parts) > 0 {
				out.FirstName = parts[0]
			}
			if len(parts) > 1 {
				out.LastName = strings.Join(parts[1:], " ")
			}
		}
	}

	return out, nil
}

// Resolve maps external claims to an account. Resolution order: by
// subject, then by verified email (link), then create. A creation race
// losing to a concurrent identical flow re-resolves by verified email
// and links instead of failing.
func (s *ExternalIdentityService) Resolve(ctx context.Context, claims domain.ExternalClaims) (domain.Account, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	if claims.Subject == "" {
		return domain.Account{}, ErrBadRequest
	}

	// 1. Known subject.
	account, err := s.Store.Accounts().GetAccountByExternalSubject(ctx, claims.Subject)
	switch {
	case err == nil:
		return s.refresh(ctx, account, claims, now)
	case !errors.Is(err, store.ErrNotFound):
		return domain.Account{}, err
	}

	// 2. Verified email matching an existing local account: link.
	if claims.EmailVerified && claims.Email != "" {
		account, err := s.Store.Accounts().GetAccountByEmail(ctx, claims.Email)
		switch {
		case err == nil:
			if err := s.Store.Accounts().SetExternalSubject(ctx, account.ID, claims.Subject); err != nil {
				return domain.Account{}, err
			}
			l.Info("external identity linked",
				slog.String("account_id", account.ID),
				slog.String("subject", claims.Subject),
			)
			subject := claims.Subject
			account.ExternalSubject = &subject
			return s.refresh(ctx, account, claims, now)
		case !errors.Is(err, store.ErrNotFound):
			return domain.Account{}, err
		}
	}

	// 3. Unknown identity: create, unless registration is closed.
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

	subject := claims.Subject
	account = domain.Account{
		ID:              idx.New().String(),
		ExternalSubject: &subject,
		FirstName:       claims.FirstName,
		LastName:        claims.LastName,
		Role:            role,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// An unverified email is kept for display but never used for linking;
	// when another account already holds the address, the new account
	// simply goes without one.
	if claims.Email != "" {
		keep := claims.EmailVerified
		if !keep {
			_, err := s.Store.Accounts().GetAccountByEmail(ctx, claims.Email)
			keep = errors.Is(err, store.ErrNotFound)
		}
		if keep {
			email := claims.Email
			account.Email = &email
		}
	}

	err = s.Store.Accounts().CreateAccount(ctx, account)
	if err == nil {
		if err := s.Store.Accounts().TouchLastLogin(ctx, account.ID, now); err != nil {
			return domain.Account{}, err
		}
		account.LastLoginAt = &now
		l.Info("account created from external identity",
			slog.String("account_id", account.ID),
			slog.String("role", string(role)),
		)
		return account, nil
	}

	// 4. Creation raced a concurrent flow. With a verified email we can
	// safely land on whoever won; otherwise the conflict stands.
	if errors.Is(err, store.ErrAlreadyExists) && claims.EmailVerified && claims.Email != "" {
		existing, lookupErr := s.Store.Accounts().GetAccountByEmail(ctx, claims.Email)
		if lookupErr != nil {
			return domain.Account{}, err
		}
		if existing.ExternalSubject == nil {
			if linkErr := s.Store.Accounts().SetExternalSubject(ctx, existing.ID, claims.Subject); linkErr != nil {
				return domain.Account{}, linkErr
			}
			existing.ExternalSubject = &subject
		}
		return s.refresh(ctx, existing, claims, now)
	}

	return domain.Account{}, err
}

// refresh applies the per-login mutations after resolution: lastLoginAt
// always, profile fields only on a verified email claim.
func (s *ExternalIdentityService) refresh(ctx context.Context, account domain.Account, claims domain.ExternalClaims, now time.Time) (domain.Account, error) {
	if !account.IsActive {
		return domain.Account{}, ErrAccountDisabled
	}

	if claims.EmailVerified {
		if claims.FirstName != "" || claims.LastName != "" {
			first, last := claims.FirstName, claims.LastName
			if first == "" {
				first = account.FirstName
			}
			if last == "" {
				last = account.LastName
			}
			if first != account.FirstName || last != account.LastName {
				if err := s.Store.Accounts().UpdateProfile(ctx, account.ID, first, last); err != nil {
					return domain.Account{}, err
				}
				account.FirstName, account.LastName = first, last
			}
		}
		if claims.Email != "" && (account.Email == nil || *account.Email != claims.Email) {
			if err := s.Store.Accounts().UpdateEmail(ctx, account.ID, claims.Email); err != nil {
				if !errors.Is(err, store.ErrAlreadyExists) {
					return domain.Account{}, err
				}
				// Another account already holds this address; keep ours.
			} else {
				email := claims.Email
				account.Email = &email
			}
		}
	}

	if err := s.Store.Accounts().TouchLastLogin(ctx, account.ID, now); err != nil {
		return domain.Account{}, err
	}
	loginAt := now
	account.LastLoginAt = &loginAt

	return account, nil
}
