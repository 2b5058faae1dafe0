package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/userauth/internal/domain/user"
	"github.com/geocoder89/userauth/internal/security"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

type AdminStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
}

type AdminSeed struct {
	Email    string
	Password string
	Name     string
}

// EnsureAdminUser creates a verified admin account once. It is a no-op when
// no credentials are configured or the email is already registered.
func EnsureAdminUser(ctx context.Context, store AdminStore, seed AdminSeed) error {
	email := strings.ToLower(strings.TrimSpace(seed.Email))
	if email == "" || seed.Password == "" {
		return nil
	}

	// check if the user exists
	_, err := store.GetByEmail(ctx, email)

	if err == nil {
		return nil
	}

	if !errors.Is(err, user.ErrNotFound) {
		return oops.Code("ADMIN_SEED_FAILED").With("operation", "lookup admin").Wrap(err)
	}

	hash, err := security.HashPassword(seed.Password)

	if err != nil {
		return oops.Code("ADMIN_SEED_FAILED").With("operation", "hash password").Wrap(err)
	}

	now := time.Now().UTC()

	_, err = store.Create(ctx, user.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         seed.Name,
		Role:         user.RoleAdmin,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	// lost a race with another instance
	if errors.Is(err, user.ErrEmailTaken) {
		return nil
	}
	if err != nil {
		return oops.Code("ADMIN_SEED_FAILED").With("operation", "create admin").Wrap(err)
	}
	return nil
}
