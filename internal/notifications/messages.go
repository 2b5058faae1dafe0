package notifications

import "fmt"

const (
	KindVerification  = "verification"
	KindPasswordReset = "password_reset"
)

// Message is a rendered plain-text email.
type Message struct {
	Kind    string
	To      string
	Subject string
	Text    string
}

func VerificationMessage(in VerificationEmailInput) Message {
	return Message{
		Kind:    KindVerification,
		To:      in.Email,
		Subject: "Please verify your email address",
		Text: fmt.Sprintf(`Hi %s,

Thank you for registering! Please verify your email address to complete your registration.
%s
This verification link will expire in %s.
If you did not create an account, please ignore this email.
`, greetingName(in.Name), in.Link, in.ExpiresIn),
	}
}

func PasswordResetMessage(in PasswordResetEmailInput) Message {
	return Message{
		Kind:    KindPasswordReset,
		To:      in.Email,
		Subject: "Please reset your password",
		Text: fmt.Sprintf(`Hi %s,

We received a request to reset your password. Use the link below to choose a new one.
%s
This reset link will expire in %s.
If you did not ask for a password reset, please ignore this email.
`, greetingName(in.Name), in.Link, in.ExpiresIn),
	}
}

func greetingName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
