package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"spendwise/internal/amqp"

	"github.com/shopspring/decimal"
	"github.com/wneessen/go-mail"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type recordingPublisher struct {
	msgs []*amqp.EmailMessage
	err  error
}

func (p *recordingPublisher) PublishEmail(_ context.Context, msg *amqp.EmailMessage) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func notice(threshold int) ThresholdNotice {
	return ThresholdNotice{
		Threshold:    threshold,
		Email:        "a@x.com",
		CategoryID:   1,
		BudgetAmount: decimal.NewFromInt(100),
		AmountSpent:  decimal.NewFromInt(60),
		ValidUntil:   time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
	}
}

func TestSendThresholdEmail(t *testing.T) {
	mailer := &recordingMailer{}
	d := NewDispatcher(mailer, nil)

	if !d.SendThresholdEmail(context.Background(), notice(50)) {
		t.Fatal("expected successful send")
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.To != "a@x.com" || !strings.Contains(msg.Subject, "50%") {
		t.Fatalf("unexpected message: %+v", msg)
	}
	for _, want := range []string{"Food & Dining", "100.00", "60.00", "8 Jan 2025"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestSendThresholdEmailFailureReturnsFalse(t *testing.T) {
	d := NewDispatcher(&recordingMailer{err: errors.New("smtp down")}, nil)
	if d.SendThresholdEmail(context.Background(), notice(100)) {
		t.Fatal("expected false on transport failure")
	}
}

func TestOTPGoesThroughPublisher(t *testing.T) {
	mailer := &recordingMailer{}
	pub := &recordingPublisher{}
	d := NewDispatcher(mailer, pub)

	if err := d.SendOTP(context.Background(), "a@x.com", "123456", 10*time.Minute); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if len(pub.msgs) != 1 || len(mailer.sent) != 0 {
		t.Fatalf("expected publish only, got pub=%d mail=%d", len(pub.msgs), len(mailer.sent))
	}
	if pub.msgs[0].Kind != amqp.KindOTP || !strings.Contains(pub.msgs[0].Body, "123456") {
		t.Fatalf("unexpected message: %+v", pub.msgs[0])
	}

	if err := d.Deliver(context.Background(), pub.msgs[0]); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].To != "a@x.com" {
		t.Fatalf("unexpected delivery: %+v", mailer.sent)
	}
}

func TestPublishFailureFallsBackToInline(t *testing.T) {
	mailer := &recordingMailer{}
	d := NewDispatcher(mailer, &recordingPublisher{err: amqp.ErrCircuitOpen})

	if err := d.SendPasswordReset(context.Background(), "a@x.com", "https://app/reset?token=t", 30*time.Minute); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if len(mailer.sent) != 1 || !strings.Contains(mailer.sent[0].Body, "token=t") {
		t.Fatalf("expected inline delivery, got %+v", mailer.sent)
	}
}

type capturingClient struct {
	sent []*mail.Msg
	err  error
}

func (c *capturingClient) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	c.sent = append(c.sent, msgs...)
	return c.err
}

func TestSMTPMailerBuildsMessage(t *testing.T) {
	m, err := NewSMTPMailer("smtp.example.com", 587, "user", "pass", "noreply@example.com")
	if err != nil {
		t.Fatalf("NewSMTPMailer: %v", err)
	}
	client := &capturingClient{}
	m.client = client

	err = m.Send(context.Background(), Message{To: "a@x.com", Subject: "Hi\r\nBcc: evil@x.com", Body: "line1\nline2"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(client.sent))
	}
	rcpt, err := client.sent[0].GetRecipients()
	if err != nil || len(rcpt) != 1 || rcpt[0] != "a@x.com" {
		t.Fatalf("unexpected recipients: %v %v", rcpt, err)
	}

	var buf bytes.Buffer
	if _, err := client.sent[0].WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	s := buf.String()
	if strings.Contains(s, "\r\nBcc:") {
		t.Fatalf("header injection not sanitized:\n%s", s)
	}
	if !strings.Contains(s, "noreply@example.com") || !strings.Contains(s, "text/plain") {
		t.Fatalf("missing sender or content type:\n%s", s)
	}
	if !strings.Contains(s, "line1\r\nline2") {
		t.Fatalf("body not CRLF encoded:\n%q", s)
	}
}

func TestSMTPMailerWrapsSendError(t *testing.T) {
	m, err := NewSMTPMailer("smtp.example.com", 465, "", "", "noreply@example.com")
	if err != nil {
		t.Fatalf("NewSMTPMailer: %v", err)
	}
	boom := errors.New("connection refused")
	m.client = &capturingClient{err: boom}

	if err := m.Send(context.Background(), Message{To: "a@x.com", Subject: "s", Body: "b"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	if err := m.Send(context.Background(), Message{To: "not an address", Subject: "s", Body: "b"}); err == nil {
		t.Fatal("expected an error for an invalid recipient")
	}
}
