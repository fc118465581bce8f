package sqlite

import (
	"context"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
)

type preferencesRepo struct {
	db dbtx
}

func (r *preferencesRepo) GetPreference(ctx context.Context, accountID string) (domain.SecondFactorPreference, error) {
	var p domain.SecondFactorPreference
	err := r.db.QueryRowContext(ctx, `
		SELECT account_id, totp_enabled, updated_at
		FROM second_factor_preferences WHERE account_id = ?`, accountID,
	).Scan(&p.AccountID, &p.TOTPEnabled, &p.UpdatedAt)
	if err != nil {
		return domain.SecondFactorPreference{}, mapNotFound(err)
	}
	return p, nil
}

func (r *preferencesRepo) UpsertPreference(ctx context.Context, accountID string, totpEnabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO second_factor_preferences (account_id, totp_enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET totp_enabled = excluded.totp_enabled,
			updated_at = excluded.updated_at`,
		accountID, totpEnabled, time.Now().UTC(),
	)
	return err
}

func (r *preferencesRepo) DeletePreference(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM second_factor_preferences WHERE account_id = ?`, accountID)
	return err
}
