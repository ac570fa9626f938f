// Package billing records sales, their line items and payments as single transactions.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/database"
)

var (
	ErrInvalidSale       = errors.New("invalid sale")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrPaymentExists     = errors.New("invoice already has a payment")
)

// StockError names the product whose stock could not cover a sale.
type StockError struct {
	ProductID int64
	Name      string
	Requested int64
	Available int64
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (id %d): requested %d, available %d",
		e.Name, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Line is one product and quantity of a sale.
type Line struct {
	ProductID int64
	Quantity  int64
}

// PaymentInput records a payment together with the sale. A zero Amount pays the invoice
// total; an empty Method uses the default method.
type PaymentInput struct {
	Amount decimal.Decimal
	Method string
}

// Sale is the input of RecordSale. CustomerID is nil for walk-in sales.
type Sale struct {
	CustomerID *int64
	Lines      []Line
	Discount   decimal.Decimal
	Payment    *PaymentInput
}

// Service records sales against the store.
type Service struct {
	db *database.DB
	// defaultMethod is used for payments that name no method.
	defaultMethod string
}

// NewService creates a billing service. An empty defaultMethod falls back to "cash".
func NewService(db *database.DB, defaultMethod string) *Service {
	if defaultMethod == "" {
		defaultMethod = database.DefaultPaymentMethod
	}
	return &Service{db: db, defaultMethod: defaultMethod}
}

func (s *Service) validate(sale Sale) error {
	if len(sale.Lines) == 0 {
		return fmt.Errorf("%w: no lines", ErrInvalidSale)
	}
	for i, line := range sale.Lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d has quantity %d", ErrInvalidSale, i+1, line.Quantity)
		}
	}
	if sale.Discount.IsNegative() {
		return fmt.Errorf("%w: negative discount", ErrInvalidSale)
	}
	if sale.Payment != nil && sale.Payment.Amount.IsNegative() {
		return fmt.Errorf("%w: negative amount", ErrInvalidPayment)
	}
	return nil
}

// RecordSale writes the invoice, its items, the stock decrements and the optional payment in
// one transaction and returns the invoice id. Nothing is written when any step fails.
func (s *Service) RecordSale(ctx context.Context, sale Sale) (int64, error) {
	if err := s.validate(sale); err != nil {
		return 0, err
	}

	var invoiceID int64
	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		if sale.CustomerID != nil {
			customer, err := tx.GetCustomer(ctx, *sale.CustomerID)
			if err != nil {
				return err
			}
			if customer == nil {
				return fmt.Errorf("%w: customer %d does not exist", ErrInvalidSale, *sale.CustomerID)
			}
		}

		products, err := loadProducts(ctx, tx, sale.Lines)
		if err != nil {
			return err
		}

		items := make([]*database.InvoiceItem, 0, len(sale.Lines))
		sum := decimal.Zero
		for _, line := range sale.Lines {
			subtotal := lineSubtotal(products[line.ProductID].Price, line.Quantity)
			sum = sum.Add(subtotal)
			items = append(items, &database.InvoiceItem{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Subtotal:  subtotal,
			})
		}

		discount := sale.Discount.Round(2)
		if discount.GreaterThan(sum) {
			return fmt.Errorf("%w: discount %s exceeds sale amount %s", ErrInvalidSale, discount.StringFixed(2), sum.StringFixed(2))
		}
		total := sum.Sub(discount)

		inv, err := tx.CreateInvoice(ctx, sale.CustomerID, total, discount)
		if err != nil {
			return err
		}
		invoiceID = inv.ID

		for _, item := range items {
			item.InvoiceID = inv.ID
			if err := tx.CreateInvoiceItem(ctx, item); err != nil {
				return err
			}
			ok, err := tx.DecrementStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				p := products[item.ProductID]
				return &StockError{ProductID: p.ID, Name: p.Name, Requested: item.Quantity, Available: p.Stock}
			}
		}

		if sale.Payment != nil {
			amount := sale.Payment.Amount
			if amount.IsZero() {
				amount = total
			}
			if _, err := tx.CreatePayment(ctx, inv.ID, amount, s.method(sale.Payment.Method)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Int64("invoice_id", invoiceID).
		Int("lines", len(sale.Lines)).
		Bool("paid", sale.Payment != nil).
		Msg("Sale recorded")
	return invoiceID, nil
}

// loadProducts reads every product of the sale and checks the summed quantity per product
// against its stock.
func loadProducts(ctx context.Context, tx *database.Tx, lines []Line) (map[int64]*database.Product, error) {
	requested := make(map[int64]int64, len(lines))
	for _, line := range lines {
		requested[line.ProductID] += line.Quantity
	}

	products := make(map[int64]*database.Product, len(requested))
	for _, line := range lines {
		if _, ok := products[line.ProductID]; ok {
			continue
		}
		p, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, line.ProductID)
		}
		if want := requested[p.ID]; want > p.Stock {
			return nil, &StockError{ProductID: p.ID, Name: p.Name, Requested: want, Available: p.Stock}
		}
		products[p.ID] = p
	}
	return products, nil
}

func lineSubtotal(price decimal.Decimal, quantity int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity)).Round(2)
}

func (s *Service) method(m string) string {
	if m == "" {
		return s.defaultMethod
	}
	return m
}

// RecordPayment records the payment of an existing invoice. An invoice accepts one payment;
// a second attempt fails with ErrPaymentExists.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method string) (*database.Payment, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidPayment)
	}

	var payment *database.Payment
	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return fmt.Errorf("%w: id %d", ErrInvoiceNotFound, invoiceID)
		}

		payment, err = tx.CreatePayment(ctx, invoiceID, amount, s.method(method))
		if errors.Is(err, database.ErrUniqueViolation) {
			return fmt.Errorf("%w: invoice %d", ErrPaymentExists, invoiceID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("invoice_id", invoiceID).Str("method", payment.Method).Msg("Payment recorded")
	return payment, nil
}

// InvoiceView is an invoice with its lines and optional payment.
type InvoiceView struct {
	Invoice *database.Invoice
	Items   []*database.InvoiceItem
	Payment *database.Payment
}

// Invoice loads an invoice with its items and payment.
func (s *Service) Invoice(ctx context.Context, id int64) (*InvoiceView, error) {
	inv, err := s.db.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, id)
	}
	items, err := s.db.ListInvoiceItems(ctx, id)
	if err != nil {
		return nil, err
	}
	payment, err := s.db.GetPaymentByInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceView{Invoice: inv, Items: items, Payment: payment}, nil
}
