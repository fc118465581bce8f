package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

const refreshTokenColumns = `id, account_id, token_hash, family_id, revoked,
	replaced_by_hash, expires_at, created_at, updated_at`

func scanRefreshToken(scan func(dest ...any) error) (domain.RefreshToken, error) {
	var (
		t          domain.RefreshToken
		replacedBy sql.NullString
	)
	err := scan(
		&t.ID, &t.AccountID, &t.TokenHash, &t.FamilyID, &t.Revoked,
		&replacedBy, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.ReplacedByHash = mapNullStringPtr(replacedBy)
	return t, nil
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (
			id, account_id, token_hash, family_id, revoked,
			replaced_by_hash, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.TokenHash, t.FamilyID, t.Revoked,
		mapOptionalString(t.ReplacedByHash), t.ExpiresAt.UTC(), now, now,
	)
	return mapConflict(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash)
	return scanRefreshToken(row.Scan)
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string, replacedByHash *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = 1, replaced_by_hash = COALESCE(?, replaced_by_hash), updated_at = ?
		WHERE token_hash = ?`,
		mapOptionalString(replacedByHash), time.Now().UTC(), hash,
	)
	return err
}

func (r *refreshTokensRepo) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ?
		WHERE family_id = ? AND revoked = 0`,
		time.Now().UTC(), familyID,
	)
	return err
}

func (r *refreshTokensRepo) RevokeAllForAccount(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ?
		WHERE account_id = ? AND revoked = 0`,
		time.Now().UTC(), accountID,
	)
	return err
}

func (r *refreshTokensRepo) ListFamily(ctx context.Context, familyID string) ([]domain.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens
		WHERE family_id = ? ORDER BY created_at ASC, id ASC`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *refreshTokensRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
