package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/tallybook/tallybook/internal/database"
)

// BcryptCost is the default bcrypt cost factor
const BcryptCost = 12

var (
	// ErrAuthFailed is returned for an unknown username and for a wrong password alike.
	ErrAuthFailed         = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidCredentials = errors.New("username and password are required")
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin Role = database.RoleAdmin
	RoleStaff Role = database.RoleStaff
)

// ParseRole accepts "admin" or "staff". An empty string yields RoleStaff.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "":
		return RoleStaff, nil
	case RoleAdmin, RoleStaff:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// User is an account as seen outside the store. It never carries the hash.
type User struct {
	ID        int64
	Username  string
	Role      Role
	CreatedAt time.Time
}

// UserStore is the subset of the database the credential store needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, role string) (*database.UserRecord, error)
	GetUserByUsername(ctx context.Context, username string) (*database.UserRecord, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
}

// Options tunes the service.
type Options struct {
	// BcryptCost defaults to BcryptCost.
	BcryptCost int
	// MaxAttemptsPerMinute throttles authentication per username; 0 disables it.
	MaxAttemptsPerMinute int
}

// Service stores and verifies credentials.
type Service struct {
	users     UserStore
	cost      int
	dummyHash []byte
	throttle  *throttle
}

// NewService creates a new credential service
func NewService(users UserStore, opts Options) (*Service, error) {
	cost := opts.BcryptCost
	if cost == 0 {
		cost = BcryptCost
	}

	// Compared against when the username is unknown so both paths cost one bcrypt run
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate dummy secret: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(secret, cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash dummy secret: %w", err)
	}

	return &Service{
		users:     users,
		cost:      cost,
		dummyHash: dummy,
		throttle:  newThrottle(opts.MaxAttemptsPerMinute),
	}, nil
}

// HashPassword hashes a password using bcrypt with a fresh random salt
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a hash in constant time
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Authenticate returns the role of username when password matches. Unknown usernames,
// wrong passwords and throttled attempts all return ErrAuthFailed; storage failures are
// returned as they are.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Role, error) {
	if !s.throttle.allow(username) {
		s.burn(password)
		log.Warn().Str("username", username).Msg("Authentication throttled")
		return "", ErrAuthFailed
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if user == nil {
		s.burn(password)
		log.Debug().Str("username", username).Msg("Authentication failed")
		return "", ErrAuthFailed
	}
	if !CheckPassword(password, user.PasswordHash) {
		log.Debug().Str("username", username).Msg("Authentication failed")
		return "", ErrAuthFailed
	}

	log.Debug().Str("username", username).Str("role", user.Role).Msg("Authenticated")
	return Role(user.Role), nil
}

// burn spends the same bcrypt work as a real comparison.
func (s *Service) burn(password string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

// Register creates an account. The store's unique constraint decides collisions, so two
// concurrent registrations of one username yield exactly one success.
func (s *Service) Register(ctx context.Context, username, password string, role Role) (*User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	role, err := ParseRole(string(role))
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, err
	}

	rec, err := s.users.CreateUser(ctx, username, hash, string(role))
	if errors.Is(err, database.ErrUniqueViolation) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("username", username).Str("role", string(role)).Msg("User registered")
	return &User{ID: rec.ID, Username: rec.Username, Role: role, CreatedAt: rec.CreatedAt}, nil
}

// ChangePassword replaces the password of username after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if newPassword == "" {
		return ErrInvalidCredentials
	}
	if _, err := s.Authenticate(ctx, username, oldPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword, s.cost)
	if err != nil {
		return err
	}
	if err := s.users.UpdateUserPassword(ctx, username, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	log.Info().Str("username", username).Msg("Password changed")
	return nil
}
