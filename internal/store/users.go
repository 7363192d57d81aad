package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, username, email, password_hash, is_admin, is_active, created_at, last_login`

// CreateUser inserts a new account. Username and email must both be unused.
func (s *Store) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastLogin.IsZero() {
		user.LastLogin = now
	}

	var taken int
	if err := s.db.GetContext(ctx, &taken, `SELECT COUNT(1) FROM users WHERE username = ?;`, user.Username); err != nil {
		return User{}, fmt.Errorf("check username: %w", err)
	}
	if taken > 0 {
		return User{}, ErrDuplicateUsername
	}
	if err := s.db.GetContext(ctx, &taken, `SELECT COUNT(1) FROM users WHERE email = ?;`, user.Email); err != nil {
		return User{}, fmt.Errorf("check email: %w", err)
	}
	if taken > 0 {
		return User{}, ErrDuplicateEmail
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO users (`+userColumns+`)
        VALUES (:id, :username, :email, :password_hash, :is_admin, :is_active, :created_at, :last_login);`, user)
	switch {
	case isUniqueViolation(err, "users.username"):
		return User{}, ErrDuplicateUsername
	case isUniqueViolation(err, "users.email"):
		return User{}, ErrDuplicateEmail
	case err != nil:
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username = ?;`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY created_at, username;`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM users;`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?;`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return requireRow(result, "update last login")
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?;`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(result, "delete user")
}

func requireRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
