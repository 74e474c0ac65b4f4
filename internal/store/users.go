package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateUser inserts an account row. Uniqueness on email is enforced by the
// schema; callers translate the 23505 violation into a conflict response.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)
`, uuid.NewString(), email, passwordHash)
	return err
}

// GetUserByEmail returns the account id and password hash for login checks.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx, `
SELECT id, password_hash FROM users WHERE email = $1
`, email).Scan(&id, &hash)
	if err != nil {
		return "", "", fmt.Errorf("user by email: %w", err)
	}
	return id, hash, nil
}
