package notifications

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	SenderName string
}

// SMTPNotifier sends through an SMTP relay (Mailtrap in development).
type SMTPNotifier struct {
	cfg    SMTPConfig
	client *mail.Client
}

func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}

	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPNotifier{cfg: cfg, client: client}, nil
}

func (n *SMTPNotifier) SendVerificationEmail(ctx context.Context, in VerificationEmailInput) error {
	return n.send(ctx, VerificationMessage(in))
}

func (n *SMTPNotifier) SendPasswordResetEmail(ctx context.Context, in PasswordResetEmailInput) error {
	return n.send(ctx, PasswordResetMessage(in))
}

func (n *SMTPNotifier) send(ctx context.Context, msg Message) error {
	m, err := n.build(msg)
	if err != nil {
		return err
	}

	if err := n.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send %s email: %w", msg.Kind, err)
	}
	return nil
}

func (n *SMTPNotifier) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()

	if err := m.FromFormat(n.cfg.SenderName, n.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)

	return m, nil
}
