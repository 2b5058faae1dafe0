package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is counted in characters.
	MinPasswordLength = 6
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
)

var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// HashPassword hashes a plain text password with bcrypt.
func HashPassword(plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plaintext password. A
// mismatch returns bcrypt.ErrMismatchedHashAndPassword.
func CheckPassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
