package database

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrStorageUnavailable means the database file could not be created or opened.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrQueryFailed matches every error returned by a statement executed against the store.
	ErrQueryFailed = errors.New("query failed")

	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrInUse           = errors.New("row is still referenced")
	ErrCheckViolation  = errors.New("check constraint violated")
	ErrBusy            = errors.New("database is busy")
	ErrNotFound        = errors.New("not found")

	// ErrStatementCount rejects Execute input that is not exactly one statement.
	ErrStatementCount = errors.New("expected exactly one statement")
)

// QueryError carries the storage-layer cause of a failed statement.
type QueryError struct {
	Op   string
	Kind error
	Err  error
}

func (e *QueryError) Error() string {
	if e.Kind != nil {
		return "failed to " + e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	}
	return "failed to " + e.Op + ": " + e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is matches ErrQueryFailed and the classified kind.
func (e *QueryError) Is(target error) bool {
	if target == ErrQueryFailed {
		return true
	}
	return e.Kind != nil && target == e.Kind
}

func wrapQueryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{Op: op, Kind: classify(err), Err: err}
}

// classify maps a driver error onto one of the exported kinds, or nil.
func classify(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return ErrUniqueViolation
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrInUse
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return ErrCheckViolation
		}
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return ErrBusy
		}
	}

	// Fall back to the engine's message when the extended code is not available
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return ErrUniqueViolation
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrInUse
	case strings.Contains(msg, "CHECK constraint failed"):
		return ErrCheckViolation
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return ErrBusy
	}
	return nil
}
