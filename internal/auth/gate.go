// Package auth verifies account credentials and carries the resulting
// identity in signed session cookies.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/mailroom/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrMissingField       = errors.New("username, email and password are required")
)

type userDirectory interface {
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CountUsers(ctx context.Context) (int, error)
	TouchLastLogin(ctx context.Context, id string, now time.Time) error
}

type Gate struct {
	users userDirectory
	now   func() time.Time
}

func NewGate(users userDirectory) *Gate {
	return &Gate{users: users, now: time.Now}
}

// Authenticate checks username and password and records the login time on
// success.
func (g *Gate) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	user, err := g.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("authenticate: %w", err)
	}
	if !user.IsActive {
		return Identity{}, ErrInactiveAccount
	}
	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return Identity{}, ErrInvalidCredentials
	}
	if err := g.users.TouchLastLogin(ctx, user.ID, g.now()); err != nil {
		return Identity{}, fmt.Errorf("authenticate: %w", err)
	}
	return identityOf(user), nil
}

// Provision creates an active account. Duplicate usernames or emails are
// reported as store.ErrDuplicateUsername and store.ErrDuplicateEmail.
func (g *Gate) Provision(ctx context.Context, username, password, email string, isAdmin bool) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" || strings.TrimSpace(email) == "" {
		return Identity{}, ErrMissingField
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Identity{}, fmt.Errorf("provision: %w", err)
	}
	user, err := g.users.CreateUser(ctx, store.User{
		Username:     username,
		Email:        normalized,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		IsActive:     true,
	})
	if err != nil {
		return Identity{}, err
	}
	return identityOf(user), nil
}

func (g *Gate) HasAnyAccount(ctx context.Context) (bool, error) {
	count, err := g.users.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("email must be valid")
	}
	return strings.ToLower(addr.Address), nil
}

func identityOf(user store.User) Identity {
	return Identity{Username: user.Username, Email: user.Email, IsAdmin: user.IsAdmin}
}
