package session

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one issued refresh secret. The raw secret is never stored;
// only the two derived hashes are persisted.
type RefreshToken struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	FamilyID              uuid.UUID
	TokenVerificationHash string
	// TokenLookupKey is empty on rows that predate the lookup-key column;
	// such rows are repaired in place on first successful use.
	TokenLookupKey string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	RevokedAt      *time.Time
	ReplacedBy     *uuid.UUID
}

// Usable reports whether the token may still be rotated or used to mint an
// access token: not revoked and not past its absolute expiry.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Rotated reports whether the token was retired by rotation, as opposed to
// plain logout or aging out. A rotated token always names its successor.
func (t *RefreshToken) Rotated() bool {
	return t.RevokedAt != nil && t.ReplacedBy != nil
}
