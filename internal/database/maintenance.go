package database

import (
	"context"
	"fmt"
)

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats.
func (db *DB) Optimize(ctx context.Context) error {
	if db == nil || db.conn == nil {
		return fmt.Errorf("database not initialized")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.exec(ctx, "optimize database", "PRAGMA optimize")
	return err
}

// Vacuum rebuilds the database file to reclaim unused space.
func (db *DB) Vacuum(ctx context.Context) error {
	if db == nil || db.conn == nil {
		return fmt.Errorf("database not initialized")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.exec(ctx, "vacuum database", "VACUUM")
	return err
}
