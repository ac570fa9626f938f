package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// schemaTables are applied one by one on every start. Each statement is idempotent on its
// own, so an interrupted run is completed by the next one.
var schemaTables = []struct {
	Name string
	SQL  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('admin', 'staff')),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
	{"categories", `
		CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			description TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
	{"products", `
		CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			category_id INTEGER REFERENCES categories(id),
			price REAL NOT NULL CHECK(price >= 0),
			stock INTEGER NOT NULL CHECK(stock >= 0),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
	{"customers", `
		CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT UNIQUE,
			phone TEXT UNIQUE,
			address TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
	{"invoices", `
		CREATE TABLE IF NOT EXISTS invoices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER REFERENCES customers(id),
			total_amount REAL NOT NULL CHECK(total_amount >= 0),
			discount REAL NOT NULL DEFAULT 0 CHECK(discount >= 0),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
	{"invoice_items", `
		CREATE TABLE IF NOT EXISTS invoice_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invoice_id INTEGER NOT NULL REFERENCES invoices(id),
			product_id INTEGER NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL CHECK(quantity > 0),
			subtotal REAL NOT NULL CHECK(subtotal >= 0)
		)`},
	{"payments", `
		CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invoice_id INTEGER UNIQUE NOT NULL REFERENCES invoices(id),
			amount_paid REAL NOT NULL CHECK(amount_paid >= 0),
			payment_method TEXT NOT NULL DEFAULT 'cash',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`},
	{"schema_migrations", `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`},
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations holds schema changes layered on top of the baseline tables.
var migrations = []migration{
	{
		Version: 1,
		Name:    "lookup_indexes",
		SQL: `
			CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);
			CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customer_id);
			CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);
			CREATE INDEX IF NOT EXISTS idx_invoice_items_product ON invoice_items(product_id);
		`,
	},
	{
		Version: 2,
		Name:    "settings",
		SQL: `
			-- Runtime-tunable settings
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}

// ReadyReport describes what EnsureReady did.
type ReadyReport struct {
	Created           bool
	Seeded            bool
	MigrationsApplied int
}

// EnsureReady creates missing tables, applies pending migrations and, only when Open created
// the database file, seeds the baseline catalog and administrator. It never drops or
// truncates data and is safe to call on every start.
func (db *DB) EnsureReady(ctx context.Context) (*ReadyReport, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, table := range schemaTables {
		if _, err := db.exec(ctx, "create table "+table.Name, table.SQL); err != nil {
			return nil, err
		}
	}

	applied, err := db.migrate(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.InitializeDefaults(ctx); err != nil {
		return nil, err
	}

	report := &ReadyReport{Created: db.created, MigrationsApplied: applied}
	if db.created && !db.seeded {
		if err := db.seed(ctx); err != nil {
			return nil, err
		}
		db.seeded = true
		report.Seeded = true
	}
	return report, nil
}

func (db *DB) migrate(ctx context.Context) (int, error) {
	var currentVersion int
	if err := db.queryRow(ctx, "get current migration version",
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations", nil, &currentVersion); err != nil {
		return 0, err
	}

	log.Debug().Int("current_version", currentVersion).Msg("Current schema version")

	applied := 0
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")

		err := db.Transaction(ctx, func(tx *Tx) error {
			// Another process may have applied it between the version read and our write lock
			var done int
			if err := tx.queryRow(ctx, "check migration", "SELECT COUNT(*) FROM schema_migrations WHERE version = ?",
				[]any{m.Version}, &done); err != nil {
				return err
			}
			if done > 0 {
				return nil
			}
			for i, stmt := range splitSQLStatements(m.SQL) {
				if _, err := tx.exec(ctx, fmt.Sprintf("apply migration %d statement %d", m.Version, i+1), stmt); err != nil {
					return err
				}
			}
			_, err := tx.exec(ctx, fmt.Sprintf("record migration %d", m.Version),
				"INSERT INTO schema_migrations (version) VALUES (?)", m.Version)
			return err
		})
		if err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// splitSQLStatements splits a SQL string into individual statements.
// It handles comments and only returns non-empty statements.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	for line := range strings.SplitSeq(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	// Handle any remaining content without trailing semicolon
	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}

	return statements
}
