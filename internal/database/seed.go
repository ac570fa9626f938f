package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "password"
)

type seedCategory struct {
	Name        string
	Description string
}

type seedProduct struct {
	Name     string
	Category string
	Price    string
	Stock    int64
}

var seedCategories = []seedCategory{
	{"Electronics", "Electronic devices and accessories"},
	{"Clothing", "Apparel and fashion items"},
	{"Books", "Books and reading materials"},
}

var seedProducts = []seedProduct{
	{"Smartphone", "Electronics", "599.99", 50},
	{"Laptop", "Electronics", "1299.99", 25},
	{"T-Shirt", "Clothing", "29.99", 100},
	{"Jeans", "Clothing", "59.99", 75},
	{"Programming Book", "Books", "49.99", 30},
}

// seed inserts the baseline catalog and administrator in one transaction.
func (db *DB) seed(ctx context.Context) error {
	if db.opts.HashPassword == nil {
		return errors.New("failed to seed database: no password hasher configured")
	}
	hash, err := db.opts.HashPassword(db.opts.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash administrator password: %w", err)
	}

	err = db.Transaction(ctx, func(tx *Tx) error {
		categoryIDs := make(map[string]int64, len(seedCategories))
		for _, c := range seedCategories {
			cat, err := tx.CreateCategory(ctx, c.Name, c.Description)
			if err != nil {
				return err
			}
			categoryIDs[c.Name] = cat.ID
		}

		for _, p := range seedProducts {
			categoryID := categoryIDs[p.Category]
			if _, err := tx.CreateProduct(ctx, p.Name, &categoryID, decimal.RequireFromString(p.Price), p.Stock); err != nil {
				return err
			}
		}

		_, err := tx.CreateUser(ctx, DefaultAdminUsername, hash, RoleAdmin)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}

	log.Info().
		Int("categories", len(seedCategories)).
		Int("products", len(seedProducts)).
		Str("admin", DefaultAdminUsername).
		Msg("Initial data seeded")
	return nil
}
