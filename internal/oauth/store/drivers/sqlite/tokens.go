package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	"github.com/aussiebroadwan/regrant/internal/oauth/store"
)

type tokensRepo struct {
	q dbtx

	// root is set on the non-transactional repo so InvalidateAndCreate can
	// open its own transaction; nil inside a caller-owned transaction.
	root *Store
}

const tokenColumns = `id, token_id, access_token, refresh_token, client_id, user_id,
	user_domain, idp_name, scope, internal_scope, binding_ref, grant_type,
	issued_at, validity_ms, refresh_issued_at, refresh_validity_ms,
	state, consented, created_at, updated_at`

func (r *tokensRepo) CreateToken(ctx context.Context, t domain.TokenRecord) error {
	return insertToken(ctx, r.q, t)
}

func insertToken(ctx context.Context, q dbtx, t domain.TokenRecord) error {
	now := ms(time.Now())
	createdAt := now
	if !t.CreatedAt.IsZero() {
		createdAt = ms(t.CreatedAt)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenID, t.AccessToken, t.RefreshToken, t.ClientID, t.UserID,
		t.UserDomain, t.IdentityProvider, joinScopes(t.Scopes), joinScopes(t.InternalScopes),
		t.BindingRef, t.GrantType,
		ms(t.IssuedAt), t.Validity.Milliseconds(),
		ms(t.RefreshIssuedAt), t.RefreshValidity.Milliseconds(),
		string(t.State), t.Consented, createdAt, now,
	)
	return err
}

func (r *tokensRepo) GetByRefreshToken(
	ctx context.Context,
	clientID, refreshToken string,
) (domain.TokenRecord, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE client_id = ? AND refresh_token = ?
		ORDER BY issued_at DESC, created_at DESC
		LIMIT 1`,
		clientID, refreshToken,
	)
	return scanToken(row)
}

func (r *tokensRepo) GetByAccessToken(
	ctx context.Context,
	accessToken string,
) (domain.TokenRecord, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE access_token = ?
		ORDER BY issued_at DESC
		LIMIT 1`,
		accessToken,
	)
	return scanToken(row)
}

func (r *tokensRepo) GetLatestAccessTokens(
	ctx context.Context,
	clientID, userID, userDomain, scope, bindingRef string,
	activeOnly bool,
	limit int,
) ([]domain.TokenRecord, error) {
	states := `('ACTIVE', 'EXPIRED')`
	if activeOnly {
		states = `('ACTIVE')`
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE client_id = ? AND user_id = ? AND user_domain = ?
		  AND scope = ? AND binding_ref = ?
		  AND state IN `+states+`
		ORDER BY issued_at DESC, created_at DESC
		LIMIT ?`,
		clientID, userID, userDomain, scope, bindingRef, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TokenRecord
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *tokensRepo) GetTokenBinding(
	ctx context.Context,
	tokenID, bindingRef string,
) (domain.TokenBinding, error) {
	var b domain.TokenBinding
	err := r.q.QueryRowContext(ctx, `
		SELECT token_id, binding_type, binding_ref, binding_value
		FROM token_bindings
		WHERE token_id = ? AND binding_ref = ?`,
		tokenID, bindingRef,
	).Scan(&b.TokenID, &b.Type, &b.Reference, &b.Value)
	if err != nil {
		return domain.TokenBinding{}, mapNotFound(err)
	}
	return b, nil
}

func (r *tokensRepo) CreateTokenBinding(ctx context.Context, b domain.TokenBinding) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO token_bindings (token_id, binding_type, binding_ref, binding_value, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.TokenID, b.Type, b.Reference, b.Value, ms(time.Now()),
	)
	return err
}

// InvalidateAndCreate performs the rotation commit: the guarded transition
// of the prior record and the insert of the new record happen in one
// transaction, or not at all. A prior record that is no longer ACTIVE or
// EXPIRED means a concurrent rotation won; the caller gets ErrConflict and
// nothing is written.
func (r *tokensRepo) InvalidateAndCreate(
	ctx context.Context,
	oldTokenID string,
	newState domain.TokenState,
	clientID, rotationID string,
	t domain.TokenRecord,
	userDomain, grantType string,
) error {
	if r.root == nil {
		// Already inside a caller-owned transaction.
		return invalidateAndCreate(ctx, r.q, oldTokenID, newState, clientID, rotationID, t, userDomain, grantType)
	}

	return r.root.WithTx(ctx, func(tx store.Tx) error {
		txRepo, ok := tx.Tokens().(*tokensRepo)
		if !ok {
			return fmt.Errorf("sqlite: unexpected tokens repo type %T", tx.Tokens())
		}
		return invalidateAndCreate(ctx, txRepo.q, oldTokenID, newState, clientID, rotationID, t, userDomain, grantType)
	})
}

func invalidateAndCreate(
	ctx context.Context,
	q dbtx,
	oldTokenID string,
	newState domain.TokenState,
	clientID, rotationID string,
	t domain.TokenRecord,
	userDomain, grantType string,
) error {
	res, err := q.ExecContext(ctx, `
		UPDATE tokens SET state = ?, updated_at = ?
		WHERE token_id = ? AND client_id = ? AND state IN ('ACTIVE', 'EXPIRED')`,
		string(newState), ms(time.Now()), oldTokenID, clientID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrConflict
	}

	if err := insertToken(ctx, q, t); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO token_rotations (id, old_token_id, new_token_id, client_id, user_domain, grant_type, rotated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rotationID, oldTokenID, t.TokenID, clientID, userDomain, grantType, ms(time.Now()),
	)
	return err
}

func (r *tokensRepo) ExpireOverdueTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE tokens SET state = 'EXPIRED', updated_at = ?
		WHERE state = 'ACTIVE'
		  AND refresh_validity_ms >= 0
		  AND refresh_issued_at + refresh_validity_ms <= ?`,
		ms(now), ms(now),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *tokensRepo) DeleteInactiveTokensBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM tokens
		WHERE state = 'INACTIVE' AND updated_at < ?`,
		ms(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (domain.TokenRecord, error) {
	var (
		t                            domain.TokenRecord
		scope, internalScope, state  string
		issuedAt, refreshIssuedAt    int64
		validityMS, refreshValidMS   int64
		createdAt, updatedAt         int64
	)

	err := row.Scan(
		&t.ID, &t.TokenID, &t.AccessToken, &t.RefreshToken, &t.ClientID, &t.UserID,
		&t.UserDomain, &t.IdentityProvider, &scope, &internalScope, &t.BindingRef, &t.GrantType,
		&issuedAt, &validityMS, &refreshIssuedAt, &refreshValidMS,
		&state, &t.Consented, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.TokenRecord{}, mapNotFound(err)
	}

	t.Scopes = splitScopes(scope)
	t.InternalScopes = splitScopes(internalScope)
	t.State = domain.TokenState(state)
	t.IssuedAt = fromMS(issuedAt)
	t.Validity = time.Duration(validityMS) * time.Millisecond
	t.RefreshIssuedAt = fromMS(refreshIssuedAt)
	t.RefreshValidity = time.Duration(refreshValidMS) * time.Millisecond
	t.CreatedAt = fromMS(createdAt)
	t.UpdatedAt = fromMS(updatedAt)
	return t, nil
}
