package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `id, email, password_hash, external_subject, first_name, last_name,
	role, is_active, must_change_password, totp_secret,
	reset_token_hash, reset_token_expires_at, last_login_at, created_at, updated_at`

func scanAccount(row *sql.Row) (domain.Account, error) {
	var (
		a            domain.Account
		email        sql.NullString
		passwordHash sql.NullString
		extSubject   sql.NullString
		totpSecret   sql.NullString
		resetHash    sql.NullString
		resetExpiry  sql.NullTime
		lastLogin    sql.NullTime
	)

	err := row.Scan(
		&a.ID, &email, &passwordHash, &extSubject, &a.FirstName, &a.LastName,
		&a.Role, &a.IsActive, &a.MustChangePassword, &totpSecret,
		&resetHash, &resetExpiry, &lastLogin, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.Email = mapNullStringPtr(email)
	a.PasswordHash = mapNullStringPtr(passwordHash)
	a.ExternalSubject = mapNullStringPtr(extSubject)
	a.TOTPSecret = mapNullStringPtr(totpSecret)
	a.ResetTokenHash = mapNullStringPtr(resetHash)
	a.ResetTokenExpiresAt = mapNullTimePtr(resetExpiry)
	a.LastLoginAt = mapNullTimePtr(lastLogin)

	return a, nil
}

func (r *accountsRepo) getBy(ctx context.Context, where string, arg any) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where, arg))
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	return r.getBy(ctx, `id = ?`, id)
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	return r.getBy(ctx, `email = ?`, email)
}

func (r *accountsRepo) GetAccountByExternalSubject(ctx context.Context, subject string) (domain.Account, error) {
	return r.getBy(ctx, `external_subject = ?`, subject)
}

func (r *accountsRepo) GetAccountByResetTokenHash(ctx context.Context, hash string) (domain.Account, error) {
	return r.getBy(ctx, `reset_token_hash = ?`, hash)
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, external_subject, first_name, last_name,
			role, is_active, must_change_password, totp_secret,
			reset_token_hash, reset_token_expires_at, last_login_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, mapOptionalString(a.Email), mapOptionalString(a.PasswordHash),
		mapOptionalString(a.ExternalSubject), a.FirstName, a.LastName,
		a.Role, a.IsActive, a.MustChangePassword, mapOptionalString(a.TOTPSecret),
		mapOptionalString(a.ResetTokenHash), mapOptionalTime(a.ResetTokenExpiresAt),
		mapOptionalTime(a.LastLoginAt), now, now,
	)
	return mapConflict(err)
}

func (r *accountsRepo) update(ctx context.Context, set string, args ...any) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return mapConflict(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}

func (r *accountsRepo) UpdateProfile(ctx context.Context, accountID, firstName, lastName string) error {
	return r.update(ctx, `first_name = ?, last_name = ?`,
		firstName, lastName, time.Now().UTC(), accountID)
}

func (r *accountsRepo) UpdateEmail(ctx context.Context, accountID, email string) error {
	return r.update(ctx, `email = ?`, email, time.Now().UTC(), accountID)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, accountID, newHash string) error {
	return r.update(ctx, `password_hash = ?, must_change_password = 0`,
		newHash, time.Now().UTC(), accountID)
}

func (r *accountsRepo) UpdateRole(ctx context.Context, accountID string, role domain.Role) error {
	return r.update(ctx, `role = ?`, role, time.Now().UTC(), accountID)
}

func (r *accountsRepo) SetActive(ctx context.Context, accountID string, active bool) error {
	return r.update(ctx, `is_active = ?`, active, time.Now().UTC(), accountID)
}

func (r *accountsRepo) SetExternalSubject(ctx context.Context, accountID, subject string) error {
	return r.update(ctx, `external_subject = ?`, subject, time.Now().UTC(), accountID)
}

func (r *accountsRepo) UpdateTOTPSecret(ctx context.Context, accountID string, envelope *string) error {
	return r.update(ctx, `totp_secret = ?`,
		mapOptionalString(envelope), time.Now().UTC(), accountID)
}

func (r *accountsRepo) SetResetToken(ctx context.Context, accountID, hash string, expiresAt time.Time) error {
	return r.update(ctx, `reset_token_hash = ?, reset_token_expires_at = ?`,
		hash, expiresAt.UTC(), time.Now().UTC(), accountID)
}

func (r *accountsRepo) ClearResetToken(ctx context.Context, accountID string) error {
	return r.update(ctx, `reset_token_hash = NULL, reset_token_expires_at = NULL`,
		time.Now().UTC(), accountID)
}

func (r *accountsRepo) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ?
		WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at < ?`,
		time.Now().UTC(), now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *accountsRepo) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	return r.update(ctx, `last_login_at = ?`, at.UTC(), time.Now().UTC(), accountID)
}

func (r *accountsRepo) DeleteAccount(ctx context.Context, accountID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}

func (r *accountsRepo) CountAccounts(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	return count, err
}

func (r *accountsRepo) CountActiveAdmins(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE role = 'admin' AND is_active = 1`).Scan(&count)
	return count, err
}
