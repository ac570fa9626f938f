package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Role values accepted by the users.role CHECK constraint.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// UserRecord represents a user account stored in the database.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// CreateUser inserts a new user record. A taken username fails with ErrUniqueViolation.
func (s *store) CreateUser(ctx context.Context, username, passwordHash, role string) (*UserRecord, error) {
	now := time.Now().UTC()
	result, err := s.exec(ctx, "create user", `
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?)
	`, username, passwordHash, role, now)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, wrapQueryError("get user id", err)
	}

	return &UserRecord{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
	}, nil
}

// GetUserByUsername retrieves a user by exact username. It returns nil, nil when absent.
func (s *store) GetUserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	user := &UserRecord{}
	err := s.queryRow(ctx, "get user", `
		SELECT id, username, password_hash, role, created_at
		FROM users WHERE username = ?
	`, []any{username}, &user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every account ordered by username. Hashes are left empty.
func (s *store) ListUsers(ctx context.Context) ([]*UserRecord, error) {
	var users []*UserRecord
	err := s.query(ctx, "list users", `
		SELECT id, username, role, created_at FROM users ORDER BY username
	`, func(rows *sql.Rows) error {
		u := &UserRecord{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt); err != nil {
			return err
		}
		users = append(users, u)
		return nil
	})
	return users, err
}

// UpdateUserPassword replaces the stored hash for username.
func (s *store) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.exec(ctx, "update password",
		"UPDATE users SET password_hash = ? WHERE username = ?", passwordHash, username)
	if err != nil {
		return err
	}
	return expectAffected(result, "update password")
}

// CountUsers returns the number of user rows.
func (s *store) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, "users")
}

func expectAffected(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return wrapQueryError(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
