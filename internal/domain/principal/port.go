package principal

import (
	"context"

	"github.com/google/uuid"
)

type Repo interface {
	// Upsert records the verified identity snapshot and stamps last_login_at.
	Upsert(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id uuid.UUID) (*Principal, error)
}
