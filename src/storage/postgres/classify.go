package postgres

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"crmhub/src/core/ingest"
)

// Classify translates driver-level errors into the engine's typed taxonomy
// so retry and fallback decisions never depend on matching error text.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return &ingest.DuplicateError{Err: err}
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CrashShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow,
			pgErr.Code == pgerrcode.TooManyConnections:
			return &ingest.TransientError{Err: err}
		default:
			return &ingest.PermanentError{Err: err}
		}
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &ingest.DuplicateError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ingest.TransientError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ingest.TransientError{Err: err}
	}

	return err
}
