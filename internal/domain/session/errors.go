package session

import "errors"

// Failure taxonomy for the token state machine. The first four are auth
// outcomes surfaced as 401 with a machine-readable reason; lock contention
// is transient infrastructure noise and is retried by the transport layer.
var (
	ErrMissingToken   = errors.New("refresh token missing")
	ErrInvalidToken   = errors.New("invalid refresh token")
	ErrExpiredToken   = errors.New("refresh token expired")
	ErrBreachDetected = errors.New("refresh token reuse detected")
	ErrLockContention = errors.New("row lock contention")
)

// ErrTokenNotFound is the store-level miss: no row carries the presented
// lookup key. It is distinct from ErrInvalidToken so the locator can tell a
// clean miss (fall back to the legacy scan) from a storage failure, which
// must never be reported as an auth outcome.
var ErrTokenNotFound = errors.New("refresh token record not found")
