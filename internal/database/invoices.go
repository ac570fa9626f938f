package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPaymentMethod is stored when a payment names no method.
const DefaultPaymentMethod = "cash"

// Invoice is a sale header. CustomerID is nil for walk-in sales.
type Invoice struct {
	ID          int64
	CustomerID  *int64
	TotalAmount decimal.Decimal
	Discount    decimal.Decimal
	CreatedAt   time.Time
}

// InvoiceItem is one line of an invoice.
type InvoiceItem struct {
	ID        int64
	InvoiceID int64
	ProductID int64
	Quantity  int64
	Subtotal  decimal.Decimal
}

// Payment settles an invoice. An invoice has at most one.
type Payment struct {
	ID         int64
	InvoiceID  int64
	AmountPaid decimal.Decimal
	Method     string
	CreatedAt  time.Time
}

// CreateInvoice inserts an invoice header.
func (s *store) CreateInvoice(ctx context.Context, customerID *int64, total, discount decimal.Decimal) (*Invoice, error) {
	now := time.Now().UTC()
	result, err := s.exec(ctx, "create invoice", `
		INSERT INTO invoices (customer_id, total_amount, discount, created_at) VALUES (?, ?, ?, ?)
	`, ptrToNullInt64(customerID), moneyValue(total), moneyValue(discount), now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, wrapQueryError("get invoice id", err)
	}
	return &Invoice{
		ID:          id,
		CustomerID:  customerID,
		TotalAmount: roundMoney(total),
		Discount:    roundMoney(discount),
		CreatedAt:   now,
	}, nil
}

// GetInvoice retrieves an invoice header. It returns nil, nil when absent.
func (s *store) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv := &Invoice{}
	var customerID sql.NullInt64
	var total, discount float64
	err := s.queryRow(ctx, "get invoice", `
		SELECT id, customer_id, total_amount, discount, created_at FROM invoices WHERE id = ?
	`, []any{id}, &inv.ID, &customerID, &total, &discount, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv.CustomerID = nullInt64ToPtr(customerID)
	inv.TotalAmount = moneyFromFloat(total)
	inv.Discount = moneyFromFloat(discount)
	return inv, nil
}

// CreateInvoiceItem inserts one invoice line.
func (s *store) CreateInvoiceItem(ctx context.Context, item *InvoiceItem) error {
	result, err := s.exec(ctx, "create invoice item", `
		INSERT INTO invoice_items (invoice_id, product_id, quantity, subtotal) VALUES (?, ?, ?, ?)
	`, item.InvoiceID, item.ProductID, item.Quantity, moneyValue(item.Subtotal))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapQueryError("get invoice item id", err)
	}
	item.ID = id
	item.Subtotal = roundMoney(item.Subtotal)
	return nil
}

// ListInvoiceItems returns the lines of an invoice in insertion order.
func (s *store) ListInvoiceItems(ctx context.Context, invoiceID int64) ([]*InvoiceItem, error) {
	var items []*InvoiceItem
	err := s.query(ctx, "list invoice items", `
		SELECT id, invoice_id, product_id, quantity, subtotal
		FROM invoice_items WHERE invoice_id = ? ORDER BY id
	`, func(rows *sql.Rows) error {
		it := &InvoiceItem{}
		var subtotal float64
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.Quantity, &subtotal); err != nil {
			return err
		}
		it.Subtotal = moneyFromFloat(subtotal)
		items = append(items, it)
		return nil
	}, invoiceID)
	return items, err
}

// CreatePayment records the payment of an invoice. A second payment for the same invoice
// fails with ErrUniqueViolation.
func (s *store) CreatePayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method string) (*Payment, error) {
	if method == "" {
		method = DefaultPaymentMethod
	}
	now := time.Now().UTC()
	result, err := s.exec(ctx, "create payment", `
		INSERT INTO payments (invoice_id, amount_paid, payment_method, created_at) VALUES (?, ?, ?, ?)
	`, invoiceID, moneyValue(amount), method, now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, wrapQueryError("get payment id", err)
	}
	return &Payment{
		ID:         id,
		InvoiceID:  invoiceID,
		AmountPaid: roundMoney(amount),
		Method:     method,
		CreatedAt:  now,
	}, nil
}

// GetPaymentByInvoice returns the payment of an invoice, or nil, nil when unpaid.
func (s *store) GetPaymentByInvoice(ctx context.Context, invoiceID int64) (*Payment, error) {
	p := &Payment{}
	var amount float64
	err := s.queryRow(ctx, "get payment", `
		SELECT id, invoice_id, amount_paid, payment_method, created_at FROM payments WHERE invoice_id = ?
	`, []any{invoiceID}, &p.ID, &p.InvoiceID, &amount, &p.Method, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.AmountPaid = moneyFromFloat(amount)
	return p, nil
}

// CountInvoices returns the number of invoice rows.
func (s *store) CountInvoices(ctx context.Context) (int, error) {
	return s.count(ctx, "invoices")
}

// CountInvoiceItems returns the number of invoice item rows.
func (s *store) CountInvoiceItems(ctx context.Context) (int, error) {
	return s.count(ctx, "invoice_items")
}

// CountPayments returns the number of payment rows.
func (s *store) CountPayments(ctx context.Context) (int, error) {
	return s.count(ctx, "payments")
}
