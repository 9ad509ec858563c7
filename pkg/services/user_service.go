package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an account known to the service.
type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	PreferredProvider string    `json:"preferred_provider,omitempty"`
	TeamID            string    `json:"team_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// UserService manages user accounts.
type UserService struct {
	db *sql.DB
}

// NewUserService creates a new UserService
func NewUserService(db *sql.DB) *UserService {
	return &UserService{db: db}
}

// EnsureUser returns the user with the given email, creating the account on
// first sight. Called from the authentication path.
func (s *UserService) EnsureUser(ctx context.Context, email, name string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, NewValidationError("email", "required")
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	if user, err := s.getByEmail(ctx, email); err == nil {
		return user, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user := &User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING`,
		user.ID, user.Email, user.Name, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// The insert may have been a no-op under a concurrent signup.
	return s.getByEmail(ctx, email)
}

// GetUser retrieves a user by id.
func (s *UserService) GetUser(ctx context.Context, userID string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, preferred_provider, COALESCE(team_id, ''), created_at
		FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// SetPreferredProvider records the user's preferred LLM provider, used when
// their default pipeline is first created.
func (s *UserService) SetPreferredProvider(ctx context.Context, userID, provider string) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET preferred_provider = $1 WHERE id = $2`, provider, userID)
	if err != nil {
		return fmt.Errorf("failed to set preferred provider: %w", err)
	}
	return requireRow(res)
}

func (s *UserService) getByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, preferred_provider, COALESCE(team_id, ''), created_at
		FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func scanUser(row scanner) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PreferredProvider, &user.TeamID, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}
