package principal

import (
	"time"

	"github.com/google/uuid"
)

// Principal is the identity snapshot handed to us by the trusted verifier at
// login. sessiond never authenticates principals itself; it only replays this
// snapshot into access-token claims on rotation.
type Principal struct {
	ID          uuid.UUID
	Email       string
	Role        string
	LastLoginAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
