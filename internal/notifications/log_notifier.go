package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LogNotifier writes emails to the log instead of sending them. Delay and
// Fail simulate a slow or broken provider in local runs.
type LogNotifier struct {
	log   *slog.Logger
	Delay time.Duration
	Fail  bool
}

func NewLogNotifier(log *slog.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, in VerificationEmailInput) error {
	return n.send(ctx, VerificationMessage(in))
}

func (n *LogNotifier) SendPasswordResetEmail(ctx context.Context, in PasswordResetEmailInput) error {
	return n.send(ctx, PasswordResetMessage(in))
}

func (n *LogNotifier) send(ctx context.Context, msg Message) error {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n.Fail {
		return errors.New("provider down (simulated)")
	}

	n.log.InfoContext(ctx, "notification.email",
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}
