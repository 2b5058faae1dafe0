package service

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("user already exists")
	ErrNotFound       = errors.New("user not found")
	ErrUnverified     = errors.New("user not verified")
	ErrBadCredentials = errors.New("wrong password or email")
	ErrInvalidToken   = errors.New("invalid token")
	// ErrTokenInvalid is the verification outcome for an unknown, used or
	// expired link. It is reported as a soft failure, not an error status.
	ErrTokenInvalid = errors.New("token invalid")
)

// ValidationError carries a client-facing message and matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// resultOf turns an operation error into a low-cardinality metric label.
func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnverified):
		return "unverified"
	case errors.Is(err, ErrBadCredentials):
		return "bad_credentials"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenInvalid):
		return "invalid_token"
	default:
		return "internal"
	}
}
