// internal/database/user.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mpetrov/scrimdraft/internal/auth"
	"github.com/mpetrov/scrimdraft/internal/models"
	"github.com/mpetrov/scrimdraft/internal/store"
)

// CreateUser hashes the plaintext password and inserts the new user row.
// The models.User password field is replaced with the argon2id hash.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	hashed, err := auth.CreateHash(user.Password, auth.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = hashed

	q := `
	INSERT INTO users (id, email, password, username, is_ephemeral, is_admin)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			user.ID, user.Email, user.Password, user.Username, user.IsEphemeral, user.IsAdmin,
		)
		return err
	})
}

// GetUserByEmail fetches a user by email for login verification.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, email, password, username, is_ephemeral, is_admin
	FROM users
	WHERE email = $1
	`
	err := s.Pool.QueryRow(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.Password, &u.Username, &u.IsEphemeral, &u.IsAdmin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user by email: %w", err)
	}
	return &u, nil
}
