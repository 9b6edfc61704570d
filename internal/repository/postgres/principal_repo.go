package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civicworks/sessiond/internal/domain/principal"
)

var _ principal.Repo = (*PrincipalRepo)(nil)

type PrincipalRepo struct{ db *DB }

func NewPrincipalRepo(db *DB) *PrincipalRepo { return &PrincipalRepo{db: db} }

const (
	qPrincipalUpsert = `
INSERT INTO principals (id, email, role, last_login_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email,
    role = EXCLUDED.role,
    last_login_at = NOW(),
    updated_at = NOW()
RETURNING id, email, role, last_login_at, created_at, updated_at;`

	qPrincipalByID = `
SELECT id, email, role, last_login_at, created_at, updated_at
FROM principals
WHERE id = $1;`
)

func (r *PrincipalRepo) Upsert(ctx context.Context, p *principal.Principal) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := scanPrincipal(r.db.execQueryer(ctx).QueryRow(ctx, qPrincipalUpsert, p.ID, p.Email, p.Role), p); err != nil {
		return fmt.Errorf("principal upsert: %w", err)
	}
	return nil
}

func (r *PrincipalRepo) GetByID(ctx context.Context, id uuid.UUID) (*principal.Principal, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var p principal.Principal
	if err := scanPrincipal(r.db.execQueryer(ctx).QueryRow(ctx, qPrincipalByID, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPrincipal(row pgx.Row, out *principal.Principal) error {
	if err := row.Scan(&out.ID, &out.Email, &out.Role, &out.LastLoginAt, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan principal: %w", mapPgErr(err))
	}
	return nil
}
