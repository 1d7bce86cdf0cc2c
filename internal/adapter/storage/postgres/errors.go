package postgres

import (
	"context"
	"errors"
	"fmt"

	"balance-platform/pkg/apperror"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes that indicate a lost race rather than broken storage.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// wrapDBError classifies a driver error: lock-wait timeouts, deadlocks and
// serialization failures become ConcurrencyConflict (retryable, no partial
// state), everything else is a StorageFailure.
func wrapDBError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return apperror.ErrConcurrencyConflict(fmt.Errorf("%s: %w", op, err))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.ErrConcurrencyConflict(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
