package notifications

import "context"

type VerificationEmailInput struct {
	Email     string
	Name      string
	Link      string
	ExpiresIn string
}

type PasswordResetEmailInput struct {
	Email     string
	Name      string
	Link      string
	ExpiresIn string
}

// Notifier delivers the emails that carry opaque tokens. Callers treat a
// failed send as non-fatal: state changes are already committed.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, input VerificationEmailInput) error
	SendPasswordResetEmail(ctx context.Context, input PasswordResetEmailInput) error
}
