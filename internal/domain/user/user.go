package user

import (
	"errors"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
)

// User is the persisted account record. Opaque tokens are only ever held as
// SHA-256 digests; the raw values live in the emails we send.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	VerificationTokenHash   string     `json:"-"`
	VerificationTokenExpiry *time.Time `json:"-"`
	ResetTokenHash          string     `json:"-"`
	ResetTokenExpiry        *time.Time `json:"-"`
}

// Profile is the public view returned by the profile endpoint.
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	IsVerified bool   `json:"isVerified"`
	Role       string `json:"role"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		IsVerified: u.IsVerified,
		Role:       u.Role,
	}
}
