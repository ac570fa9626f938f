package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Result is what Execute returns: Rows for statements that produce columns, Ack otherwise.
type Result struct {
	Rows *RowSet
	Ack  *WriteAck
}

// RowSet is an untyped tabular result.
type RowSet struct {
	Columns []string
	Values  [][]any
}

// WriteAck acknowledges a write statement.
type WriteAck struct {
	LastInsertID int64
	RowsAffected int64
}

// Execute runs exactly one parameterized statement on a connection acquired for this call.
// Input holding no statement or more than one fails with ErrStatementCount before anything
// runs. The statement runs in its own transaction, committed only when commit is set;
// otherwise it is rolled back. Reads and uncommitted statements use a deferred transaction
// so they do not wait for a writer. The connection is returned to the pool on every exit path.
func (db *DB) Execute(ctx context.Context, statement string, args []any, commit bool) (*Result, error) {
	n, statement, keyword := scanStatements(statement)
	if n != 1 {
		return nil, &QueryError{
			Op:   "execute statement",
			Kind: ErrStatementCount,
			Err:  fmt.Errorf("got %d statements", n),
		}
	}

	pool := db.conn
	if !commit || readOnlyStatement(keyword) {
		pool = db.reader
	}

	var res *Result
	err := withRetry(ctx, db.opts.Retry, "execute", func() error {
		var err error
		res, err = db.execute(ctx, pool, statement, args, commit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (db *DB) execute(ctx context.Context, pool *sql.DB, statement string, args []any, commit bool) (res *Result, err error) {
	conn, err := pool.Conn(ctx)
	if err != nil {
		return nil, wrapQueryError("acquire connection", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapQueryError("begin statement", err)
	}
	defer func() {
		if err != nil || !commit {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err == nil {
				err = wrapQueryError("rollback statement", rbErr)
			}
		}
	}()

	rows, err := tx.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, wrapQueryError("execute statement", err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, wrapQueryError("read columns", err)
	}

	if len(cols) > 0 {
		set, err := collectRows(rows, cols)
		if err != nil {
			return nil, wrapQueryError("read rows", err)
		}
		res = &Result{Rows: set}
	} else {
		for rows.Next() {
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, wrapQueryError("execute statement", err)
		}
		if err := rows.Close(); err != nil {
			return nil, wrapQueryError("execute statement", err)
		}
		ack, err := acknowledge(ctx, tx)
		if err != nil {
			return nil, err
		}
		res = &Result{Ack: ack}
	}

	if commit {
		if err := tx.Commit(); err != nil {
			return nil, wrapQueryError("commit statement", err)
		}
	}
	return res, nil
}

func collectRows(rows *sql.Rows, cols []string) (*RowSet, error) {
	defer rows.Close()

	set := &RowSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		set.Values = append(set.Values, vals)
	}
	return set, rows.Err()
}

// acknowledge reads the write counters of the statement just run on tx's connection.
func acknowledge(ctx context.Context, tx *sql.Tx) (*WriteAck, error) {
	ack := &WriteAck{}
	err := tx.QueryRowContext(ctx, "SELECT last_insert_rowid(), changes()").Scan(&ack.LastInsertID, &ack.RowsAffected)
	if err != nil {
		return nil, wrapQueryError("read write acknowledgment", err)
	}
	return ack, nil
}
