package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tallybook/tallybook/internal/logging"
)

// GetSetting retrieves a setting value by key. A missing key yields "".
func (s *store) GetSetting(key string) (string, error) {
	var value string
	err := s.queryRow(context.Background(), "get setting "+key,
		"SELECT value FROM settings WHERE key = ?", []any{key}, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting stores a setting value
func (s *store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, "set setting "+key, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}

// GetAllSettings retrieves all settings
func (s *store) GetAllSettings(ctx context.Context) (map[string]string, error) {
	settings := make(map[string]string)
	err := s.query(ctx, "get settings", "SELECT key, value FROM settings", func(rows *sql.Rows) error {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		settings[key] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// DeleteSetting removes a setting
func (s *store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.exec(ctx, "delete setting "+key, "DELETE FROM settings WHERE key = ?", key)
	return err
}

// DefaultSettings are written for keys that do not exist yet
var DefaultSettings = map[string]any{
	"log.max_size_mb":                logging.DefaultMaxSizeMB,
	"log.max_backups":                logging.DefaultMaxBackups,
	"log.max_age_days":               logging.DefaultMaxAgeDays,
	"log.compress":                   logging.DefaultCompress,
	"auth.max_attempts_per_minute":   0, // 0 = unlimited
	"billing.default_payment_method": DefaultPaymentMethod,
}

// InitializeDefaults sets default values for settings that don't exist
func (s *store) InitializeDefaults(ctx context.Context) error {
	for key, value := range DefaultSettings {
		_, err := s.exec(ctx, "initialize setting "+key, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, fmt.Sprint(value), time.Now().UTC())
		if err != nil {
			return err
		}
	}
	return nil
}
