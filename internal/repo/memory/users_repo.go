package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/userauth/internal/domain/user"
)

// UsersRepo keeps users in process memory. It mirrors the Postgres repo's
// guarantees: case-insensitive unique email and single-use tokens.
type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User // id -> user
	byEmail map[string]string    // lower(email) -> id
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
	}
}

func (r *UsersRepo) Create(_ context.Context, u user.User) (user.User, error) {
	key := strings.ToLower(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[key]; ok {
		return user.User{}, user.ErrEmailTaken
	}

	r.items[u.ID] = u
	r.byEmail[key] = u.ID

	return u, nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	return r.items[id], nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	return u, nil
}

func (r *UsersRepo) ConsumeVerificationToken(_ context.Context, tokenHash string, now time.Time) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, u := range r.items {
		if u.VerificationTokenHash != tokenHash || !live(u.VerificationTokenExpiry, now) {
			continue
		}

		u.IsVerified = true
		u.VerificationTokenHash = ""
		u.VerificationTokenExpiry = nil
		u.UpdatedAt = now
		r.items[id] = u

		return u, nil
	}

	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) SetResetToken(_ context.Context, userID, tokenHash string, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[userID]
	if !ok {
		return user.ErrNotFound
	}

	u.ResetTokenHash = tokenHash
	u.ResetTokenExpiry = &expiresAt
	u.UpdatedAt = now
	r.items[userID] = u

	return nil
}

func (r *UsersRepo) ConsumeResetToken(_ context.Context, tokenHash, newPasswordHash string, now time.Time) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, u := range r.items {
		if u.ResetTokenHash != tokenHash || !live(u.ResetTokenExpiry, now) {
			continue
		}

		u.PasswordHash = newPasswordHash
		u.ResetTokenHash = ""
		u.ResetTokenExpiry = nil
		u.UpdatedAt = now
		r.items[id] = u

		return u, nil
	}

	return user.User{}, user.ErrNotFound
}

func live(expiry *time.Time, now time.Time) bool {
	return expiry != nil && expiry.After(now)
}
