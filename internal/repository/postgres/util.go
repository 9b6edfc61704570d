package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/civicworks/sessiond/internal/domain/session"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// mapPgErr converts infrastructure-level failures the caller is expected to
// retry (deadlock, serialization) into the shared lock-contention sentinel.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return session.ErrLockContention
		case "23505":
			return ErrConflict
		}
	}
	return err
}
