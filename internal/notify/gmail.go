package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailMailer sends through the Gmail API using a service account with
// domain-wide delegation, impersonating the sender address.
type GmailMailer struct {
	svc  *gmail.Service
	from string
}

// NewGmailMailer builds the transport from a service-account key, given
// either inline (credentialsJSON) or as a file path.
func NewGmailMailer(ctx context.Context, credentialsJSON, credentialsFile, from string) (*GmailMailer, error) {
	data := []byte(credentialsJSON)
	if len(data) == 0 {
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read gmail credentials: %w", err)
		}
		data = b
	}

	cfg, err := google.JWTConfigFromJSON(data, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	cfg.Subject = from

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &GmailMailer{svc: svc, from: from}, nil
}

func (m *GmailMailer) Send(ctx context.Context, msg Message) error {
	out, err := newMsg(m.from, msg)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := out.WriteTo(&buf); err != nil {
		return fmt.Errorf("encode mail to %s: %w", msg.To, err)
	}
	raw := base64.URLEncoding.EncodeToString(buf.Bytes())
	_, err = m.svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail send to %s: %w", msg.To, err)
	}
	return nil
}
