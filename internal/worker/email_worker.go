package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spendwise/internal/amqp"
	"spendwise/internal/deliverylog"
)

// Deliverer hands a queued email to the mail transport.
type Deliverer interface {
	Deliver(ctx context.Context, msg *amqp.EmailMessage) error
}

// EmailWorker delivers queued account emails and records each attempt.
type EmailWorker struct {
	deliverer Deliverer
	log       deliverylog.Recorder
	now       func() time.Time
}

func NewEmailWorker(deliverer Deliverer, log deliverylog.Recorder) *EmailWorker {
	if log == nil {
		log = deliverylog.Nop{}
	}
	return &EmailWorker{deliverer: deliverer, log: log, now: time.Now}
}

// HandleEmail processes one message from the queue. A returned error makes
// the consumer requeue the message once.
func (w *EmailWorker) HandleEmail(ctx context.Context, msg *amqp.EmailMessage) error {
	slog.InfoContext(ctx, "Processing email message",
		"message_id", msg.ID,
		"mail_kind", msg.Kind)

	delivered, err := w.log.Delivered(ctx, msg.ID)
	if err != nil {
		slog.WarnContext(ctx, "Delivery log lookup failed, sending anyway",
			"message_id", msg.ID,
			"error", err)
	}
	if delivered {
		slog.InfoContext(ctx, "Email already delivered, skipping", "message_id", msg.ID)
		return nil
	}

	sendErr := w.deliverer.Deliver(ctx, msg)

	entry := deliverylog.Entry{
		MessageID:   msg.ID,
		Kind:        string(msg.Kind),
		To:          msg.To,
		DeliveredAt: w.now().UTC(),
		Success:     sendErr == nil,
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if err := w.log.Record(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "Failed to record delivery",
			"message_id", msg.ID,
			"error", err)
	}

	if sendErr != nil {
		return fmt.Errorf("deliver email %s: %w", msg.ID, sendErr)
	}

	slog.InfoContext(ctx, "Email delivered",
		"message_id", msg.ID,
		"mail_kind", msg.Kind,
		"latency", w.now().Sub(msg.Timestamp).Round(time.Millisecond))
	return nil
}
