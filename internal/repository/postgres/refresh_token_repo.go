package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civicworks/sessiond/internal/domain/session"
)

var _ session.TokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct{ db *DB }

func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const (
	qRTCreate = `
INSERT INTO refresh_tokens (id, user_id, family_id, token_verification_hash, token_lookup_key, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;`

	qRTByLookup = `
SELECT id, user_id, family_id, token_verification_hash, token_lookup_key, expires_at, created_at, revoked_at, replaced_by
FROM refresh_tokens
WHERE token_lookup_key = $1`

	qRTLegacy = `
SELECT id, user_id, family_id, token_verification_hash, token_lookup_key, expires_at, created_at, revoked_at, replaced_by
FROM refresh_tokens
WHERE token_lookup_key IS NULL`

	qRTUpdateHashes = `
UPDATE refresh_tokens
SET token_lookup_key = $2, token_verification_hash = $3
WHERE id = $1;`

	qRTRevoke = `
UPDATE refresh_tokens
SET revoked_at = $2
WHERE id = $1 AND revoked_at IS NULL;`

	qRTSetReplacedBy = `
UPDATE refresh_tokens
SET replaced_by = $2
WHERE id = $1 AND replaced_by IS NULL;`

	qRTRevokeAll = `
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL;`
)

func (r *RefreshTokenRepo) Create(ctx context.Context, t *session.RefreshToken) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).
		QueryRow(ctx, qRTCreate, t.ID, t.UserID, t.FamilyID, t.TokenVerificationHash, nullString(t.TokenLookupKey), t.ExpiresAt).
		Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("refresh token insert: %w", mapPgErr(err))
	}
	return nil
}

func (r *RefreshTokenRepo) GetByLookupKey(ctx context.Context, lookupKey string, forUpdate bool) (*session.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	q := qRTByLookup + lockSuffix(forUpdate)
	var t session.RefreshToken
	if err := scanToken(r.db.execQueryer(ctx).QueryRow(ctx, q, lookupKey), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *RefreshTokenRepo) ListLegacy(ctx context.Context, forUpdate bool) ([]*session.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	q := qRTLegacy + lockSuffix(forUpdate)
	rows, err := r.db.execQueryer(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list legacy tokens: %w", mapPgErr(err))
	}
	defer rows.Close()

	var out []*session.RefreshToken
	for rows.Next() {
		var t session.RefreshToken
		if err := scanTokenRow(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list legacy tokens: %w", mapPgErr(err))
	}
	return out, nil
}

func (r *RefreshTokenRepo) UpdateHashes(ctx context.Context, id uuid.UUID, lookupKey, verificationHash string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qRTUpdateHashes, id, lookupKey, verificationHash); err != nil {
		return fmt.Errorf("upgrade token hashes: %w", mapPgErr(err))
	}
	return nil
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevoke, id, at); err != nil {
		return fmt.Errorf("revoke token: %w", mapPgErr(err))
	}
	return nil
}

func (r *RefreshTokenRepo) SetReplacedBy(ctx context.Context, id uuid.UUID, successor uuid.UUID) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qRTSetReplacedBy, id, successor); err != nil {
		return fmt.Errorf("link successor: %w", mapPgErr(err))
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeAll, userID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke all for user: %w", mapPgErr(err))
	}
	return tag.RowsAffected(), nil
}

func lockSuffix(forUpdate bool) string {
	if forUpdate {
		return "\nFOR UPDATE;"
	}
	return ";"
}

func scanToken(row pgx.Row, out *session.RefreshToken) error {
	if err := scanTokenRow(row, out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.ErrTokenNotFound
		}
		return err
	}
	return nil
}

func scanTokenRow(row pgx.Row, out *session.RefreshToken) error {
	var lookup *string
	if err := row.Scan(
		&out.ID, &out.UserID, &out.FamilyID,
		&out.TokenVerificationHash, &lookup,
		&out.ExpiresAt, &out.CreatedAt, &out.RevokedAt, &out.ReplacedBy,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scan refresh token: %w", mapPgErr(err))
	}
	if lookup != nil {
		out.TokenLookupKey = *lookup
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
