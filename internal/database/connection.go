package database

import (
	"context"
	"database/sql"
	"errors"
)

// querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store holds the record methods shared by DB and Tx. Every statement goes through
// exec, query or queryRow so driver errors are classified in one place.
type store struct {
	q     querier
	retry RetryPolicy
}

func (s *store) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := withRetry(ctx, s.retry, op, func() error {
		var err error
		result, err = s.q.ExecContext(ctx, query, args...)
		return wrapQueryError(op, err)
	})
	return result, err
}

// query runs a statement and hands each row to scan. rows are always closed.
func (s *store) query(ctx context.Context, op, query string, scan func(*sql.Rows) error, args ...any) error {
	return withRetry(ctx, s.retry, op, func() error {
		rows, err := s.q.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapQueryError(op, err)
		}
		defer rows.Close()

		for rows.Next() {
			if err := scan(rows); err != nil {
				return wrapQueryError(op, err)
			}
		}
		return wrapQueryError(op, rows.Err())
	})
}

// queryRow scans a single row into dest. sql.ErrNoRows is returned unwrapped.
func (s *store) queryRow(ctx context.Context, op, query string, args []any, dest ...any) error {
	return withRetry(ctx, s.retry, op, func() error {
		err := s.q.QueryRowContext(ctx, query, args...).Scan(dest...)
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return wrapQueryError(op, err)
	})
}

func (s *store) count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.queryRow(ctx, "count "+table, "SELECT COUNT(*) FROM "+table, nil, &n)
	return n, err
}
