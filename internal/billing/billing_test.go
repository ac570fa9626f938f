package billing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tallybook/tallybook/internal/database"
)

// Seeded catalog ids
const (
	smartphoneID = 1
	laptopID     = 2
	tshirtID     = 3
	bookID       = 5
)

func newTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "billing.db"), database.Options{
		HashPassword: func(password string) (string, error) { return "hash:" + password, nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.EnsureReady(context.Background())
	require.NoError(t, err)

	return NewService(db, ""), db
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func countRows(t *testing.T, db *database.DB) (invoices, items, payments int) {
	t.Helper()
	ctx := context.Background()
	var err error
	invoices, err = db.CountInvoices(ctx)
	require.NoError(t, err)
	items, err = db.CountInvoiceItems(ctx)
	require.NoError(t, err)
	payments, err = db.CountPayments(ctx)
	require.NoError(t, err)
	return invoices, items, payments
}

func stockOf(t *testing.T, db *database.DB, id int64) int64 {
	t.Helper()
	p, err := db.GetProduct(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Stock
}

func TestRecordSale(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	id, err := svc.RecordSale(ctx, Sale{
		Lines: []Line{
			{ProductID: tshirtID, Quantity: 2},
			{ProductID: bookID, Quantity: 1},
		},
		Discount: money("10"),
	})
	require.NoError(t, err)

	view, err := svc.Invoice(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, view.Invoice.CustomerID)
	assert.Equal(t, "99.97", view.Invoice.TotalAmount.StringFixed(2))
	assert.Equal(t, "10.00", view.Invoice.Discount.StringFixed(2))
	assert.Nil(t, view.Payment)

	require.Len(t, view.Items, 2)
	assert.Equal(t, "59.98", view.Items[0].Subtotal.StringFixed(2))
	assert.Equal(t, "49.99", view.Items[1].Subtotal.StringFixed(2))

	sum := decimal.Zero
	for _, it := range view.Items {
		sum = sum.Add(it.Subtotal)
	}
	assert.True(t, sum.Sub(view.Invoice.Discount).Equal(view.Invoice.TotalAmount),
		"items minus discount must equal the invoice total")

	assert.Equal(t, int64(98), stockOf(t, db, tshirtID))
	assert.Equal(t, int64(29), stockOf(t, db, bookID))
}

func TestRecordSale_InsufficientStockWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	_, err := svc.RecordSale(ctx, Sale{
		Lines: []Line{
			{ProductID: smartphoneID, Quantity: 1},
			{ProductID: laptopID, Quantity: 26},
		},
		Payment: &PaymentInput{},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(laptopID), stockErr.ProductID)
	assert.Equal(t, int64(26), stockErr.Requested)
	assert.Equal(t, int64(25), stockErr.Available)

	invoices, items, payments := countRows(t, db)
	assert.Zero(t, invoices)
	assert.Zero(t, items)
	assert.Zero(t, payments)

	assert.Equal(t, int64(50), stockOf(t, db, smartphoneID))
	assert.Equal(t, int64(25), stockOf(t, db, laptopID))
}

func TestRecordSale_RepeatedProductIsSummed(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	_, err := svc.RecordSale(ctx, Sale{
		Lines: []Line{
			{ProductID: bookID, Quantity: 20},
			{ProductID: bookID, Quantity: 11},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, int64(30), stockOf(t, db, bookID))

	id, err := svc.RecordSale(ctx, Sale{
		Lines: []Line{
			{ProductID: bookID, Quantity: 20},
			{ProductID: bookID, Quantity: 10},
		},
	})
	require.NoError(t, err)
	assert.Zero(t, stockOf(t, db, bookID))

	view, err := svc.Invoice(ctx, id)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, "1499.70", view.Invoice.TotalAmount.StringFixed(2))
}

func TestRecordSale_WithPayment(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	customer := &database.Customer{Name: "Ana", Email: "ana@example.com"}
	require.NoError(t, db.CreateCustomer(ctx, customer))

	id, err := svc.RecordSale(ctx, Sale{
		CustomerID: &customer.ID,
		Lines:      []Line{{ProductID: laptopID, Quantity: 1}},
		Payment:    &PaymentInput{},
	})
	require.NoError(t, err)

	view, err := svc.Invoice(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view.Invoice.CustomerID)
	assert.Equal(t, customer.ID, *view.Invoice.CustomerID)
	require.NotNil(t, view.Payment)
	assert.Equal(t, "1299.99", view.Payment.AmountPaid.StringFixed(2))
	assert.Equal(t, database.DefaultPaymentMethod, view.Payment.Method)

	_, err = svc.RecordPayment(ctx, id, money("1299.99"), "card")
	assert.ErrorIs(t, err, ErrPaymentExists)

	payments, err := db.CountPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, payments)
}

func TestRecordPayment(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	id, err := svc.RecordSale(ctx, Sale{Lines: []Line{{ProductID: tshirtID, Quantity: 1}}})
	require.NoError(t, err)

	p, err := svc.RecordPayment(ctx, id, money("29.99"), "card")
	require.NoError(t, err)
	assert.Equal(t, "card", p.Method)
	assert.Equal(t, id, p.InvoiceID)

	_, err = svc.RecordPayment(ctx, 999, money("1"), "")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	_, err = svc.RecordPayment(ctx, id, money("-1"), "")
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestRecordSale_Rejected(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)
	missingCustomer := int64(42)

	tests := []struct {
		name string
		sale Sale
		want error
	}{
		{"no lines", Sale{}, ErrInvalidSale},
		{"zero quantity", Sale{Lines: []Line{{ProductID: tshirtID, Quantity: 0}}}, ErrInvalidSale},
		{"negative discount", Sale{Lines: []Line{{ProductID: tshirtID, Quantity: 1}}, Discount: money("-1")}, ErrInvalidSale},
		{"discount above amount", Sale{Lines: []Line{{ProductID: tshirtID, Quantity: 1}}, Discount: money("30")}, ErrInvalidSale},
		{"unknown product", Sale{Lines: []Line{{ProductID: 99, Quantity: 1}}}, ErrProductNotFound},
		{"unknown customer", Sale{CustomerID: &missingCustomer, Lines: []Line{{ProductID: tshirtID, Quantity: 1}}}, ErrInvalidSale},
		{"negative payment", Sale{Lines: []Line{{ProductID: tshirtID, Quantity: 1}}, Payment: &PaymentInput{Amount: money("-5")}}, ErrInvalidPayment},
		{"unknown product with payment", Sale{Lines: []Line{{ProductID: 99, Quantity: 1}}, Payment: &PaymentInput{}}, ErrProductNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordSale(ctx, tt.sale)
			assert.True(t, errors.Is(err, tt.want), "expected %v, got %v", tt.want, err)
		})
	}

	invoices, items, payments := countRows(t, db)
	assert.Zero(t, invoices)
	assert.Zero(t, items)
	assert.Zero(t, payments)
	assert.Equal(t, int64(100), stockOf(t, db, tshirtID))
}

func TestRecordSale_StockTakenMidSaleRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	// Empties the product as soon as its line is written, so the guarded decrement misses.
	_, err := db.Execute(ctx, `CREATE TRIGGER drain_stock AFTER INSERT ON invoice_items
		BEGIN
			UPDATE products SET stock = 0 WHERE id = NEW.product_id;
		END`, nil, true)
	require.NoError(t, err)

	_, err = svc.RecordSale(ctx, Sale{
		Lines:   []Line{{ProductID: tshirtID, Quantity: 2}},
		Payment: &PaymentInput{},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(tshirtID), stockErr.ProductID)

	invoices, items, payments := countRows(t, db)
	assert.Zero(t, invoices)
	assert.Zero(t, items)
	assert.Zero(t, payments)
	assert.Equal(t, int64(100), stockOf(t, db, tshirtID), "the drained stock is rolled back")
}

func TestRecordSale_ConcurrentBuyersNeverOversell(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	const (
		buyers   = 12
		quantity = 3
		initial  = 25
	)

	var (
		mu        sync.Mutex
		successes int
		failures  []error
	)

	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		g.Go(func() error {
			_, err := svc.RecordSale(ctx, Sale{Lines: []Line{{ProductID: laptopID, Quantity: quantity}}})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
			} else {
				successes++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, successes*quantity, initial)
	assert.Equal(t, initial/quantity, successes, "every buyer that fits in stock succeeds")
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}

	invoices, items, _ := countRows(t, db)
	assert.Equal(t, successes, invoices)
	assert.Equal(t, successes, items)
	assert.Equal(t, int64(initial-quantity*successes), stockOf(t, db, laptopID))
}

func TestRecordSale_FullDiscount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	id, err := svc.RecordSale(ctx, Sale{
		Lines:    []Line{{ProductID: tshirtID, Quantity: 1}},
		Discount: money("29.99"),
	})
	require.NoError(t, err)

	view, err := svc.Invoice(ctx, id)
	require.NoError(t, err)
	assert.True(t, view.Invoice.TotalAmount.IsZero())
}

func TestInvoice_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Invoice(context.Background(), 7)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}
