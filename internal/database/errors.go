package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// StorageError wraps a database failure with its severity. Transient
// failures (connection loss, serialization conflicts, lock timeouts) are
// retried by the caller; fatal ones (disk full, corruption) abort the run.
type StorageError struct {
	Fatal bool
	Err   error
}

func (e *StorageError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("fatal storage error: %v", e.Err)
	}
	return fmt.Sprintf("transient storage error: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Postgres error classes treated as fatal. Everything else is assumed
// transient: the collector would rather retry a genuinely-broken statement
// a few times than abort a long run on a connection blip.
var fatalPgClasses = map[string]bool{
	"53": true, // insufficient resources (53100 = disk full)
	"XX": true, // internal error / data corruption
	"42": true, // syntax error or access rule violation (schema drift)
	"22": true, // data exception
}

// WrapError classifies err as a StorageError. Returns nil for nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var stErr *StorageError
	if errors.As(err, &stErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		return &StorageError{Fatal: fatalPgClasses[pgErr.Code[:2]], Err: err}
	}

	// Context cancellation during shutdown is not a storage fault.
	if errors.Is(err, context.Canceled) {
		return err
	}

	return &StorageError{Fatal: false, Err: err}
}

// IsFatalStorage reports whether err is a fatal StorageError.
func IsFatalStorage(err error) bool {
	var stErr *StorageError
	return errors.As(err, &stErr) && stErr.Fatal
}
