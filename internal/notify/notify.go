// Package notify delivers the daily report.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wneessen/go-mail"
)

// Message is a plain-text notification with optional file attachments.
type Message struct {
	Subject     string
	Body        string
	Attachments []string
}

// Notifier sends messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	Sender   string
	Password string
	To       string
	CC       []string
}

// MailNotifier sends mail over SMTP with implicit TLS and PLAIN auth.
type MailNotifier struct {
	cfg MailConfig
}

func NewMailNotifier(cfg MailConfig) (*MailNotifier, error) {
	if cfg.Sender == "" || cfg.To == "" {
		return nil, errors.New("mail sender and receiver must be provided")
	}
	if cfg.Host == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	return &MailNotifier{cfg: cfg}, nil
}

func (n *MailNotifier) buildMsg(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(n.cfg.Sender); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(n.cfg.To); err != nil {
		return nil, fmt.Errorf("invalid receiver: %w", err)
	}
	if len(n.cfg.CC) > 0 {
		if err := m.Cc(n.cfg.CC...); err != nil {
			return nil, fmt.Errorf("invalid cc: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	for _, path := range msg.Attachments {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("attachment %s: %w", path, err)
		}
		m.AttachFile(path)
	}
	return m, nil
}

// Send dials the server and delivers msg.
func (n *MailNotifier) Send(ctx context.Context, msg Message) error {
	m, err := n.buildMsg(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Sender),
		mail.WithPassword(n.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}
