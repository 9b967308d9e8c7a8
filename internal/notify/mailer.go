// Package notify renders and delivers account and budget emails.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const smtpTimeout = 15 * time.Second

type (
	Message struct {
		To      string
		Subject string
		Body    string
	}

	// Mailer is the transport contract. Implementations return an error on
	// any delivery failure and never retry on their own.
	Mailer interface {
		Send(ctx context.Context, msg Message) error
	}
)

// LogMailer writes emails to the log instead of sending them. It is the dev
// transport.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "Email (log transport)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body)
	return nil
}

// SMTPMailer sends plain-text mail through an SMTP relay. STARTTLS is used
// when the server offers it; port 465 gets implicit TLS.
type SMTPMailer struct {
	from   string
	client smtpClient
}

type smtpClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

func NewSMTPMailer(host string, port int, username, password, from string) (*SMTPMailer, error) {
	opts := []mail.Option{mail.WithTimeout(smtpTimeout)}
	if port == 465 {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		// The port policy picks a default port, so the explicit one goes last.
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic), mail.WithPort(port))
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password))
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client for %s:%d: %w", host, port, err)
	}
	return &SMTPMailer{from: from, client: client}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	out, err := newMsg(m.from, msg)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// newMsg builds the plain-text message both SMTP and Gmail send.
func newMsg(from string, msg Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(from); err != nil {
		return nil, fmt.Errorf("mail from %q: %w", from, err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail to %q: %w", msg.To, err)
	}
	out.Subject(sanitizeHeader(msg.Subject))
	out.SetDate()
	out.SetMessageID()
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	return out, nil
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
