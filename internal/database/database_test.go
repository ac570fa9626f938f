package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

func testOptions() Options {
	return Options{
		HashPassword: func(password string) (string, error) {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
			return string(hash), err
		},
	}
}

func openTestDBWith(t *testing.T, path string, opts Options) *DB {
	t.Helper()

	db, err := Open(path, opts)
	require.NoError(t, err, "failed to open db")
	t.Cleanup(func() { db.Close() })

	_, err = db.EnsureReady(context.Background())
	require.NoError(t, err, "failed to prepare db")
	return db
}

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	return openTestDBWith(t, path, testOptions())
}

func counts(t *testing.T, db *DB) (users, categories, products int) {
	t.Helper()
	ctx := context.Background()

	var err error
	users, err = db.CountUsers(ctx)
	require.NoError(t, err)
	categories, err = db.CountCategories(ctx)
	require.NoError(t, err)
	products, err = db.CountProducts(ctx)
	require.NoError(t, err)
	return users, categories, products
}

func TestEnsureReady_SeedsNewDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.db")

	db, err := Open(path, testOptions())
	require.NoError(t, err)
	defer db.Close()

	require.True(t, db.Created(), "expected Open to report the file as created")

	report, err := db.EnsureReady(ctx)
	require.NoError(t, err)
	assert.True(t, report.Seeded)
	assert.Equal(t, len(migrations), report.MigrationsApplied)

	users, categories, products := counts(t, db)
	assert.Equal(t, 1, users)
	assert.Equal(t, 3, categories)
	assert.Equal(t, 5, products)

	admin, err := db.GetUserByUsername(ctx, DefaultAdminUsername)
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, RoleAdmin, admin.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(DefaultAdminPassword)))

	laptop, err := db.GetProduct(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, laptop)
	assert.Equal(t, "Laptop", laptop.Name)
	assert.Equal(t, int64(25), laptop.Stock)
	assert.True(t, laptop.Price.Equal(decimal.RequireFromString("1299.99")), "got price %s", laptop.Price)
	require.NotNil(t, laptop.CategoryID)
	assert.Equal(t, int64(1), *laptop.CategoryID)
}

func TestEnsureReady_RerunKeepsData(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	report, err := db.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Seeded)
	assert.Zero(t, report.MigrationsApplied)

	users, categories, products := counts(t, db)
	assert.Equal(t, []int{1, 3, 5}, []int{users, categories, products})
}

func TestEnsureReady_ExistingFileIsNotReseeded(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	db, err := Open(path, testOptions())
	require.NoError(t, err)
	_, err = db.EnsureReady(ctx)
	require.NoError(t, err)
	for _, stmt := range []string{"DELETE FROM products", "DELETE FROM categories", "DELETE FROM users"} {
		_, err := db.exec(ctx, "clear", stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())

	reopened, err := Open(path, testOptions())
	require.NoError(t, err)
	defer reopened.Close()

	assert.False(t, reopened.Created())
	report, err := reopened.EnsureReady(ctx)
	require.NoError(t, err)
	assert.False(t, report.Seeded)

	users, categories, products := counts(t, reopened)
	assert.Equal(t, []int{0, 0, 0}, []int{users, categories, products})
}

func TestOpen_UnwritableLocation(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Open(filepath.Join(blocker, "store.db"), testOptions())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestExecute_RowsAndAcknowledgment(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	res, err := db.Execute(ctx, "SELECT name FROM categories WHERE id = ?", []any{1}, false)
	require.NoError(t, err)
	require.NotNil(t, res.Rows)
	assert.Nil(t, res.Ack)
	assert.Equal(t, []string{"name"}, res.Rows.Columns)
	require.Len(t, res.Rows.Values, 1)
	assert.Equal(t, "Electronics", res.Rows.Values[0][0])

	res, err = db.Execute(ctx, "INSERT INTO categories (name) VALUES (?)", []any{"Toys"}, true)
	require.NoError(t, err)
	require.NotNil(t, res.Ack)
	assert.Equal(t, int64(1), res.Ack.RowsAffected)
	assert.Equal(t, int64(4), res.Ack.LastInsertID)

	n, err := db.CountCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "expected committed insert")
}

func TestExecute_WithoutCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	res, err := db.Execute(ctx, "DELETE FROM users", nil, false)
	require.NoError(t, err)
	require.NotNil(t, res.Ack)
	assert.Equal(t, int64(1), res.Ack.RowsAffected)

	n, err := db.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expected uncommitted delete to be rolled back")
}

func TestExecute_ConstraintViolation(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	_, err := db.Execute(context.Background(), "INSERT INTO categories (name) VALUES (?)", []any{"Books"}, true)
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestExecute_RejectsMultipleStatements(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	tests := []struct {
		name string
		sql  string
		args []any
	}{
		{"trailing delete", "SELECT 1; DELETE FROM users", nil},
		{"parameterized insert then delete", "INSERT INTO categories (name) VALUES (?); DELETE FROM users", []any{"Toys"}},
		{"empty", "  ", nil},
		{"only separators", ";;", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := db.Execute(ctx, tt.sql, tt.args, true)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrQueryFailed)
			assert.ErrorIs(t, err, ErrStatementCount)
		})
	}

	users, categories, _ := counts(t, db)
	assert.Equal(t, 1, users, "no statement may have run")
	assert.Equal(t, 3, categories, "no statement may have run")

	res, err := db.Execute(ctx, "SELECT ';' AS semi; -- trailing; comment", nil, false)
	require.NoError(t, err)
	require.NotNil(t, res.Rows)
	assert.Equal(t, ";", res.Rows.Values[0][0])
}

func TestExecute_ReadsDuringOpenTransaction(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.BusyTimeout = 200 * time.Millisecond
	opts.Retry = RetryPolicy{Attempts: 1}
	db := openTestDBWith(t, filepath.Join(t.TempDir(), "store.db"), opts)

	locked := make(chan struct{})
	release := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		return db.Transaction(ctx, func(tx *Tx) error {
			if _, err := tx.CreateUser(ctx, "writer", "hash", RoleStaff); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	})

	select {
	case <-locked:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatalf("writer never took the lock: %v", g.Wait())
	}

	start := time.Now()
	res, readErr := db.Execute(ctx, "SELECT COUNT(*) FROM users", nil, false)
	elapsed := time.Since(start)

	close(release)
	require.NoError(t, g.Wait())

	require.NoError(t, readErr, "a read must not wait for the open writer")
	assert.Less(t, elapsed, opts.BusyTimeout)
	require.NotNil(t, res.Rows)
	assert.EqualValues(t, 1, res.Rows.Values[0][0], "uncommitted rows must not be visible")

	n, err := db.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	err := db.Transaction(ctx, func(tx *Tx) error {
		inv, err := tx.CreateInvoice(ctx, nil, decimal.NewFromInt(10), decimal.Zero)
		if err != nil {
			return err
		}
		if err := tx.CreateInvoiceItem(ctx, &InvoiceItem{InvoiceID: inv.ID, ProductID: 1, Quantity: 1, Subtotal: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		if _, err := tx.DecrementStock(ctx, 1, 1); err != nil {
			return err
		}
		return os.ErrInvalid
	})
	require.ErrorIs(t, err, os.ErrInvalid)

	invoices, err := db.CountInvoices(ctx)
	require.NoError(t, err)
	items, err := db.CountInvoiceItems(ctx)
	require.NoError(t, err)
	assert.Zero(t, invoices)
	assert.Zero(t, items)

	p, err := db.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.Stock, "expected stock restored by rollback")
}

func TestDeleteCategory_InUse(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	assert.ErrorIs(t, db.DeleteCategory(ctx, 1), ErrInUse)

	c, err := db.CreateCategory(ctx, "Garden", "")
	require.NoError(t, err)
	require.NoError(t, db.DeleteCategory(ctx, c.ID))
	assert.ErrorIs(t, db.DeleteCategory(ctx, c.ID), ErrNotFound)
}

func TestStock_GuardsAgainstNegative(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	ok, err := db.DecrementStock(ctx, 2, 26)
	require.NoError(t, err)
	assert.False(t, ok, "expected decrement beyond stock to be refused")

	assert.ErrorIs(t, db.AdjustStock(ctx, 2, -26), ErrCheckViolation)
	require.NoError(t, db.AdjustStock(ctx, 2, 5))

	p, err := db.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(30), p.Stock)
}

func TestCreateCustomer_OptionalContactFields(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	require.NoError(t, db.CreateCustomer(ctx, &Customer{Name: "Walk-in One"}))
	require.NoError(t, db.CreateCustomer(ctx, &Customer{Name: "Walk-in Two"}), "customers without email must coexist")

	withEmail := &Customer{Name: "Ana", Email: "ana@example.com", Phone: "555-0100"}
	require.NoError(t, db.CreateCustomer(ctx, withEmail))
	err := db.CreateCustomer(ctx, &Customer{Name: "Other Ana", Email: "ana@example.com"})
	assert.ErrorIs(t, err, ErrUniqueViolation)

	saved, err := db.GetCustomer(ctx, withEmail.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "ana@example.com", saved.Email)
	assert.Empty(t, saved.Address)

	missing, err := db.GetCustomer(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreatePayment_OnePerInvoice(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	inv, err := db.CreateInvoice(ctx, nil, decimal.RequireFromString("29.99"), decimal.Zero)
	require.NoError(t, err)

	p, err := db.CreatePayment(ctx, inv.ID, inv.TotalAmount, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPaymentMethod, p.Method)

	_, err = db.CreatePayment(ctx, inv.ID, inv.TotalAmount, "card")
	assert.ErrorIs(t, err, ErrUniqueViolation)

	saved, err := db.GetPaymentByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "29.99", saved.AmountPaid.StringFixed(2))
}

func TestSettings_DefaultsDoNotOverwrite(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	method, err := db.GetSetting("billing.default_payment_method")
	require.NoError(t, err)
	assert.Equal(t, DefaultPaymentMethod, method)

	require.NoError(t, db.SetSetting(ctx, "billing.default_payment_method", "card"))
	_, err = db.EnsureReady(ctx)
	require.NoError(t, err)

	method, err = db.GetSetting("billing.default_payment_method")
	require.NoError(t, err)
	assert.Equal(t, "card", method, "expected stored value to survive")

	missing, err := db.GetSetting("no.such.key")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMaintenance(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "store.db"))

	require.NoError(t, db.Optimize(ctx))
	require.NoError(t, db.Vacuum(ctx))
}
