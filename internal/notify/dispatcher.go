package notify

import (
	"context"
	"log/slog"
	"time"

	"spendwise/internal/amqp"
)

// Publisher enqueues rendered emails for asynchronous delivery.
type Publisher interface {
	PublishEmail(ctx context.Context, msg *amqp.EmailMessage) error
}

// Dispatcher sends account and budget emails. OTP and reset emails go
// through the publisher when one is configured; threshold emails are always
// sent inline because the caller needs to know whether delivery succeeded.
type Dispatcher struct {
	mailer    Mailer
	publisher Publisher
	logger    *slog.Logger
}

func NewDispatcher(mailer Mailer, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		mailer:    mailer,
		publisher: publisher,
		logger:    slog.Default().With("component", "notify"),
	}
}

// SendThresholdEmail reports whether the email was handed to the transport.
// Transport failures are logged, never returned.
func (d *Dispatcher) SendThresholdEmail(ctx context.Context, n ThresholdNotice) bool {
	msg, err := thresholdMessage(n)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to render threshold email", "error", err)
		return false
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.logger.WarnContext(ctx, "Threshold email not sent",
			"to", n.Email,
			"category_id", n.CategoryID,
			"threshold", n.Threshold,
			"error", err)
		return false
	}
	d.logger.InfoContext(ctx, "Threshold email sent",
		"to", n.Email,
		"category_id", n.CategoryID,
		"threshold", n.Threshold)
	return true
}

func (d *Dispatcher) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	msg, err := otpMessage(to, code, ttl)
	if err != nil {
		return err
	}
	return d.dispatch(ctx, amqp.KindOTP, msg)
}

func (d *Dispatcher) SendPasswordReset(ctx context.Context, to, link string, ttl time.Duration) error {
	msg, err := resetMessage(to, link, ttl)
	if err != nil {
		return err
	}
	return d.dispatch(ctx, amqp.KindPasswordReset, msg)
}

// dispatch publishes when possible and falls back to inline delivery if the
// queue is unavailable.
func (d *Dispatcher) dispatch(ctx context.Context, kind amqp.EmailKind, msg Message) error {
	if d.publisher != nil {
		em := amqp.NewEmailMessage(kind, msg.To, msg.Subject, msg.Body)
		err := d.publisher.PublishEmail(ctx, em)
		if err == nil {
			return nil
		}
		d.logger.WarnContext(ctx, "Publish failed, sending inline",
			"message_id", em.ID,
			"kind", kind,
			"error", err)
	}
	return d.mailer.Send(ctx, msg)
}

// Deliver sends a queued message. The notify worker calls it.
func (d *Dispatcher) Deliver(ctx context.Context, em *amqp.EmailMessage) error {
	return d.mailer.Send(ctx, Message{To: em.To, Subject: em.Subject, Body: em.Body})
}
