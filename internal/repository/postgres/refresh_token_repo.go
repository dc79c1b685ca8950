package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/auth"
	"github.com/jackc/pgx/v5"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct{ db *DB }

func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const (
	qRTPut = `
INSERT INTO refresh_tokens (token_id, user_id, issued_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token_id) DO UPDATE
SET user_id = EXCLUDED.user_id,
    issued_at = EXCLUDED.issued_at,
    expires_at = EXCLUDED.expires_at;`

	qRTByTokenID = `
SELECT token_id, user_id, issued_at, expires_at
FROM refresh_tokens
WHERE token_id = $1 AND expires_at > NOW();`

	qRTByUser = `
SELECT token_id, user_id, issued_at, expires_at
FROM refresh_tokens
WHERE user_id = $1 AND expires_at > NOW()
ORDER BY issued_at;`

	qRTDelete = `DELETE FROM refresh_tokens WHERE token_id = $1;`

	qRTDeleteByUser = `DELETE FROM refresh_tokens WHERE user_id = $1;`

	qRTSweep = `DELETE FROM refresh_tokens WHERE expires_at <= $1;`
)

func (r *RefreshTokenRepo) Put(ctx context.Context, t *auth.RefreshToken) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qRTPut, t.TokenID, t.PrincipalID, t.IssuedAt, t.ExpiresAt); err != nil {
		return unavailable(auth.ErrStoreUnavailable, "put refresh", err)
	}
	return nil
}

func (r *RefreshTokenRepo) GetByTokenID(ctx context.Context, tokenID string) (*auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t auth.RefreshToken
	err := r.db.execQueryer(ctx).QueryRow(ctx, qRTByTokenID, tokenID).
		Scan(&t.TokenID, &t.PrincipalID, &t.IssuedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrRecordNotFound
		}
		return nil, unavailable(auth.ErrStoreUnavailable, "get refresh", err)
	}
	return &t, nil
}

func (r *RefreshTokenRepo) ListForPrincipal(ctx context.Context, principalID string) ([]auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qRTByUser, principalID)
	if err != nil {
		return nil, unavailable(auth.ErrStoreUnavailable, "list refresh", err)
	}
	defer rows.Close()

	var out []auth.RefreshToken
	for rows.Next() {
		var t auth.RefreshToken
		if err := rows.Scan(&t.TokenID, &t.PrincipalID, &t.IssuedAt, &t.ExpiresAt); err != nil {
			return nil, unavailable(auth.ErrStoreUnavailable, "scan refresh", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(auth.ErrStoreUnavailable, "list refresh", err)
	}
	return out, nil
}

func (r *RefreshTokenRepo) DeleteByTokenID(ctx context.Context, tokenID string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qRTDelete, tokenID); err != nil {
		return unavailable(auth.ErrStoreUnavailable, "delete refresh", err)
	}
	return nil
}

func (r *RefreshTokenRepo) DeleteAllForPrincipal(ctx context.Context, principalID string) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTDeleteByUser, principalID)
	if err != nil {
		return 0, unavailable(auth.ErrStoreUnavailable, "delete user refresh", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTSweep, now)
	if err != nil {
		return 0, unavailable(auth.ErrStoreUnavailable, "sweep refresh", err)
	}
	return tag.RowsAffected(), nil
}
