package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products
type Category struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Product is a sellable catalog entry. CategoryID is nil for uncategorized products.
type Product struct {
	ID         int64
	Name       string
	CategoryID *int64
	Price      decimal.Decimal
	Stock      int64
	CreatedAt  time.Time
}

// CreateCategory inserts a category. An empty description is stored as NULL.
func (s *store) CreateCategory(ctx context.Context, name, description string) (*Category, error) {
	now := time.Now().UTC()
	result, err := s.exec(ctx, "create category", `
		INSERT INTO categories (name, description, created_at) VALUES (?, ?, ?)
	`, name, nullString(description), now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, wrapQueryError("get category id", err)
	}
	return &Category{ID: id, Name: name, Description: description, CreatedAt: now}, nil
}

// ListCategories returns all categories ordered by id.
func (s *store) ListCategories(ctx context.Context) ([]*Category, error) {
	var categories []*Category
	err := s.query(ctx, "list categories", `
		SELECT id, name, description, created_at FROM categories ORDER BY id
	`, func(rows *sql.Rows) error {
		c := &Category{}
		var description sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &description, &c.CreatedAt); err != nil {
			return err
		}
		c.Description = nullStringValue(description)
		categories = append(categories, c)
		return nil
	})
	return categories, err
}

// DeleteCategory removes a category. It fails with ErrInUse while products reference it.
func (s *store) DeleteCategory(ctx context.Context, id int64) error {
	result, err := s.exec(ctx, "delete category", "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectAffected(result, "delete category")
}

// CountCategories returns the number of category rows.
func (s *store) CountCategories(ctx context.Context) (int, error) {
	return s.count(ctx, "categories")
}

// CreateProduct inserts a product.
func (s *store) CreateProduct(ctx context.Context, name string, categoryID *int64, price decimal.Decimal, stock int64) (*Product, error) {
	now := time.Now().UTC()
	result, err := s.exec(ctx, "create product", `
		INSERT INTO products (name, category_id, price, stock, created_at) VALUES (?, ?, ?, ?, ?)
	`, name, ptrToNullInt64(categoryID), moneyValue(price), stock, now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, wrapQueryError("get product id", err)
	}
	return &Product{ID: id, Name: name, CategoryID: categoryID, Price: roundMoney(price), Stock: stock, CreatedAt: now}, nil
}

const productColumns = "id, name, category_id, price, stock, created_at"

func scanProduct(scan func(dest ...any) error) (*Product, error) {
	p := &Product{}
	var categoryID sql.NullInt64
	var price float64
	if err := scan(&p.ID, &p.Name, &categoryID, &price, &p.Stock, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CategoryID = nullInt64ToPtr(categoryID)
	p.Price = moneyFromFloat(price)
	return p, nil
}

// GetProduct retrieves a product by id. It returns nil, nil when absent.
func (s *store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p *Product
	err := s.query(ctx, "get product", "SELECT "+productColumns+" FROM products WHERE id = ?", func(rows *sql.Rows) error {
		var err error
		p, err = scanProduct(rows.Scan)
		return err
	}, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts returns all products ordered by id.
func (s *store) ListProducts(ctx context.Context) ([]*Product, error) {
	var products []*Product
	err := s.query(ctx, "list products", "SELECT "+productColumns+" FROM products ORDER BY id", func(rows *sql.Rows) error {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return err
		}
		products = append(products, p)
		return nil
	})
	return products, err
}

// AdjustStock adds delta (which may be negative) to a product's stock. The CHECK constraint
// rejects a result below zero with ErrCheckViolation.
func (s *store) AdjustStock(ctx context.Context, productID, delta int64) error {
	result, err := s.exec(ctx, "adjust stock", "UPDATE products SET stock = stock + ? WHERE id = ?", delta, productID)
	if err != nil {
		return err
	}
	return expectAffected(result, "adjust stock")
}

// DecrementStock removes quantity from stock only when enough is available. It reports false
// when the product is missing or short.
func (s *store) DecrementStock(ctx context.Context, productID, quantity int64) (bool, error) {
	result, err := s.exec(ctx, "decrement stock",
		"UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?", quantity, productID, quantity)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, wrapQueryError("decrement stock", err)
	}
	return n == 1, nil
}

// DeleteProduct removes a product. It fails with ErrInUse while invoice items reference it.
func (s *store) DeleteProduct(ctx context.Context, id int64) error {
	result, err := s.exec(ctx, "delete product", "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectAffected(result, "delete product")
}

// CountProducts returns the number of product rows.
func (s *store) CountProducts(ctx context.Context) (int, error) {
	return s.count(ctx, "products")
}

// Customer is a buyer. Empty contact fields are stored as NULL.
type Customer struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	Address   string
	CreatedAt time.Time
}

// CreateCustomer inserts a customer. A reused email or phone fails with ErrUniqueViolation.
func (s *store) CreateCustomer(ctx context.Context, c *Customer) error {
	if c.Name == "" {
		return errors.New("customer name is required")
	}
	now := time.Now().UTC()
	result, err := s.exec(ctx, "create customer", `
		INSERT INTO customers (name, email, phone, address, created_at) VALUES (?, ?, ?, ?, ?)
	`, c.Name, nullString(c.Email), nullString(c.Phone), nullString(c.Address), now)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapQueryError("get customer id", err)
	}
	c.ID = id
	c.CreatedAt = now
	return nil
}

// GetCustomer retrieves a customer by id. It returns nil, nil when absent.
func (s *store) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	c := &Customer{}
	var email, phone, address sql.NullString
	err := s.queryRow(ctx, "get customer", `
		SELECT id, name, email, phone, address, created_at FROM customers WHERE id = ?
	`, []any{id}, &c.ID, &c.Name, &email, &phone, &address, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Email = nullStringValue(email)
	c.Phone = nullStringValue(phone)
	c.Address = nullStringValue(address)
	return c, nil
}

// DeleteCustomer removes a customer. It fails with ErrInUse while invoices reference it.
func (s *store) DeleteCustomer(ctx context.Context, id int64) error {
	result, err := s.exec(ctx, "delete customer", "DELETE FROM customers WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectAffected(result, "delete customer")
}
