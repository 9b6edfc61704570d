package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// LockContentionPolicy retries transient row-lock failures (deadlock,
// serialization) without ever retrying auth-semantic failures.
func LockContentionPolicy(log *zap.Logger, retryable func(error) bool) Policy {
	return Policy{
		Name:      "rotate_lock",
		Attempts:  3,
		Backoff:   ExpoJitter{Base: 25 * time.Millisecond, Max: 500 * time.Millisecond, Jitter: 0.2},
		Retryable: retryable,
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("lock contention retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("lock contention retries exhausted", zap.Error(err))
			}
		},
	}
}
