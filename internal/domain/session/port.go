package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenRepo is the credential store. Implementations must honor the
// transaction injected into ctx by Transactor.WithTx; forUpdate asks for a
// pessimistic row lock held until that transaction finalizes.
type TokenRepo interface {
	Create(ctx context.Context, t *RefreshToken) error
	// GetByLookupKey reports ErrTokenNotFound when no row carries the key.
	GetByLookupKey(ctx context.Context, lookupKey string, forUpdate bool) (*RefreshToken, error)
	// ListLegacy returns rows that predate the lookup-key column.
	ListLegacy(ctx context.Context, forUpdate bool) ([]*RefreshToken, error)
	// UpdateHashes backfills the lookup key and upgrades the verification
	// hash on a legacy row.
	UpdateHashes(ctx context.Context, id uuid.UUID, lookupKey, verificationHash string) error
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	SetReplacedBy(ctx context.Context, id uuid.UUID, successor uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
}

// Transactor scopes a function to a single database transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SecurityEvents notifies an external collaborator about destructive
// session-security outcomes. Publishing is best-effort and must never
// influence the auth decision itself.
type SecurityEvents interface {
	PublishBreach(ctx context.Context, userID, familyID uuid.UUID, tokensRevoked int64) error
	PublishRevokeAll(ctx context.Context, userID uuid.UUID, tokensRevoked int64) error
}
