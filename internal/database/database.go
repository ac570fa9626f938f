package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	DefaultMaxOpenConns = 4
	DefaultBusyTimeout  = 5 * time.Second
)

// Options controls how the store is opened and seeded.
type Options struct {
	MaxOpenConns int
	BusyTimeout  time.Duration
	Retry        RetryPolicy

	// HashPassword hashes the seeded administrator password. Seeding fails without it.
	HashPassword  func(password string) (string, error)
	AdminPassword string
}

// DB wraps the SQLite connection pools. conn begins transactions IMMEDIATE so writers take
// the write lock up front; reader begins them DEFERRED so reads never wait for a writer.
type DB struct {
	store
	conn   *sql.DB
	reader *sql.DB
	path   string
	opts   Options

	// created is decided once in Open, before any table exists.
	created bool

	mu     sync.Mutex
	seeded bool
}

// Open opens the SQLite store at path, creating the file and its parent directory when missing.
func Open(path string, opts Options) (*DB, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = DefaultMaxOpenConns
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	opts.Retry = opts.Retry.withDefaults()
	if opts.AdminPassword == "" {
		opts.AdminPassword = DefaultAdminPassword
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create directory %s: %w", ErrStorageUnavailable, dir, err)
		}
	}

	created, err := createFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	conn, err := openPool(dsn(path, opts.BusyTimeout, true), opts.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	reader, err := openPool(dsn(path, opts.BusyTimeout, false), opts.MaxOpenConns)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if created {
		log.Info().Str("path", path).Msg("Database not found, created a new one")
	} else {
		log.Debug().Str("path", path).Msg("Database connection established")
	}

	db := &DB{
		conn:    conn,
		reader:  reader,
		path:    path,
		opts:    opts,
		created: created,
	}
	db.store = store{q: conn, retry: opts.Retry}
	return db, nil
}

// createFile creates path exclusively and reports whether this call created it.
func createFile(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		if err := f.Close(); err != nil {
			return false, fmt.Errorf("failed to close %s: %w", path, err)
		}
		return true, nil
	}
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to create %s: %w", path, err)
}

func openPool(dsn string, maxOpen int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrStorageUnavailable, err)
	}

	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrStorageUnavailable, err)
	}

	// WAL allows concurrent readers; writers are serialized by SQLite itself
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(2)
	return pool, nil
}

func dsn(path string, busyTimeout time.Duration, immediate bool) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	if immediate {
		q.Set("_txlock", "immediate")
	}
	return path + "?" + q.Encode()
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Created reports whether Open created the database file.
func (db *DB) Created() bool {
	return db.created
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	return errors.Join(db.reader.Close(), db.conn.Close())
}

// Tx is a write transaction. It exposes the same record methods as DB.
type Tx struct {
	store
}

// Transaction runs fn inside one immediate transaction. Any error or panic rolls back every
// statement fn executed. Busy errors on BEGIN or COMMIT re-run the whole transaction.
func (db *DB) Transaction(ctx context.Context, fn func(*Tx) error) error {
	return withRetry(ctx, db.opts.Retry, "transaction", func() error {
		return db.runTx(ctx, fn)
	})
}

func (db *DB) runTx(ctx context.Context, fn func(*Tx) error) (err error) {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapQueryError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
		}
	}()

	// Statements inside a transaction are not retried individually; the whole
	// transaction is.
	tx := &Tx{store: store{q: sqlTx, retry: RetryPolicy{Attempts: 1}}}
	if err = fn(tx); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return wrapQueryError("commit transaction", err)
	}
	return nil
}
