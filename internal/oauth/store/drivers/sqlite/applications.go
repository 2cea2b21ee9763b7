package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
)

type applicationsRepo struct {
	q dbtx
}

func (r *applicationsRepo) GetApplicationByClientID(
	ctx context.Context,
	clientID string,
) (domain.Application, error) {
	var (
		a                        domain.Application
		secretHash               sql.NullString
		accessValidMS            int64
		refreshValidMS           int64
		renew                    sql.NullBool
		createdAt, updatedAt     int64
	)

	err := r.q.QueryRowContext(ctx, `
		SELECT client_id, name, secret_hash, issuer_type,
		       access_token_validity_ms, refresh_token_validity_ms,
		       renew_refresh_token, binding_type, validate_binding,
		       created_at, updated_at
		FROM applications
		WHERE client_id = ?`,
		clientID,
	).Scan(
		&a.ClientID, &a.Name, &secretHash, &a.IssuerType,
		&accessValidMS, &refreshValidMS,
		&renew, &a.BindingType, &a.ValidateBinding,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Application{}, mapNotFound(err)
	}

	a.SecretHash = mapNullString(secretHash)
	a.AccessTokenValidity = time.Duration(accessValidMS) * time.Millisecond
	a.RefreshTokenValidity = time.Duration(refreshValidMS) * time.Millisecond
	a.RenewRefreshToken = mapNullBoolPtr(renew)
	a.CreatedAt = fromMS(createdAt)
	a.UpdatedAt = fromMS(updatedAt)
	return a, nil
}

func (r *applicationsRepo) CreateApplication(ctx context.Context, a domain.Application) error {
	now := ms(time.Now())
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO applications (client_id, name, secret_hash, issuer_type,
			access_token_validity_ms, refresh_token_validity_ms,
			renew_refresh_token, binding_type, validate_binding,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ClientID, a.Name, mapStringNull(a.SecretHash), a.IssuerType,
		a.AccessTokenValidity.Milliseconds(), a.RefreshTokenValidity.Milliseconds(),
		mapOptionalBool(a.RenewRefreshToken), a.BindingType, a.ValidateBinding,
		now, now,
	)
	return err
}

func (r *applicationsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM applications`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
