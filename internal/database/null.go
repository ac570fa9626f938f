package database

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// nullInt64ToPtr converts a sql.NullInt64 to a pointer (nil if not valid)
func nullInt64ToPtr(n sql.NullInt64) *int64 {
	if n.Valid {
		return &n.Int64
	}
	return nil
}

// ptrToNullInt64 converts an optional id to a bindable value
func ptrToNullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// nullStringValue converts a sql.NullString to a string (empty if not valid)
func nullStringValue(n sql.NullString) string {
	if n.Valid {
		return n.String
	}
	return ""
}

// nullString stores an empty string as NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Money columns are REAL; values are kept at two decimal places on both sides of the driver.
const moneyPlaces = 2

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func moneyValue(d decimal.Decimal) float64 {
	return roundMoney(d).InexactFloat64()
}

func moneyFromFloat(f float64) decimal.Decimal {
	return roundMoney(decimal.NewFromFloat(f))
}
