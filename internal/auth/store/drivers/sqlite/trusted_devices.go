package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tallyhq/tally/internal/auth/domain"
	"github.com/tallyhq/tally/internal/auth/store"
)

type trustedDevicesRepo struct {
	db dbtx
}

const trustedDeviceColumns = `id, account_id, token_hash, label, source_address,
	last_used_at, expires_at, created_at`

func scanTrustedDevice(scan func(dest ...any) error) (domain.TrustedDevice, error) {
	var (
		d      domain.TrustedDevice
		source sql.NullString
	)
	err := scan(
		&d.ID, &d.AccountID, &d.TokenHash, &d.Label, &source,
		&d.LastUsedAt, &d.ExpiresAt, &d.CreatedAt,
	)
	if err != nil {
		return domain.TrustedDevice{}, mapNotFound(err)
	}
	d.SourceAddress = mapNullStringPtr(source)
	return d, nil
}

func (r *trustedDevicesRepo) CreateTrustedDevice(ctx context.Context, d domain.TrustedDevice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trusted_devices (
			id, account_id, token_hash, label, source_address,
			last_used_at, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AccountID, d.TokenHash, d.Label, mapOptionalString(d.SourceAddress),
		d.LastUsedAt.UTC(), d.ExpiresAt.UTC(), d.CreatedAt.UTC(),
	)
	return mapConflict(err)
}

func (r *trustedDevicesRepo) GetTrustedDeviceByHash(ctx context.Context, accountID, hash string) (domain.TrustedDevice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+trustedDeviceColumns+` FROM trusted_devices
		WHERE account_id = ? AND token_hash = ?`, accountID, hash)
	return scanTrustedDevice(row.Scan)
}

func (r *trustedDevicesRepo) TouchTrustedDevice(ctx context.Context, id string, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trusted_devices SET last_used_at = ? WHERE id = ?`, usedAt.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *trustedDevicesRepo) ListTrustedDevices(ctx context.Context, accountID string) ([]domain.TrustedDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+trustedDeviceColumns+` FROM trusted_devices
		WHERE account_id = ? ORDER BY last_used_at DESC, id ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrustedDevice
	for rows.Next() {
		d, err := scanTrustedDevice(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *trustedDevicesRepo) DeleteTrustedDevice(ctx context.Context, accountID, deviceID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE account_id = ? AND id = ?`, accountID, deviceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *trustedDevicesRepo) DeleteExpiredForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE account_id = ? AND expires_at < ?`,
		accountID, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *trustedDevicesRepo) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
