// Package deliverylog records the outcome of every queued email delivery in
// MongoDB so redelivered messages can be recognised and failures audited.
package deliverylog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

const Collection = "email_deliveries"

type Entry struct {
	MessageID   string    `bson:"message_id"`
	Kind        string    `bson:"kind"`
	To          string    `bson:"to"`
	DeliveredAt time.Time `bson:"delivered_at"`
	Success     bool      `bson:"success"`
	Error       string    `bson:"error,omitempty"`
}

// Recorder is what the email worker writes to.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	// Delivered reports whether a successful delivery of messageID exists.
	Delivered(ctx context.Context, messageID string) (bool, error)
}

type Log struct {
	provider CollectionProvider
}

func New(provider CollectionProvider) *Log {
	return &Log{provider: provider}
}

func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.DeliveredAt.IsZero() {
		e.DeliveredAt = time.Now().UTC()
	}
	if _, err := l.provider.Collection(Collection).InsertOne(ctx, e); err != nil {
		return fmt.Errorf("record delivery %s: %w", e.MessageID, err)
	}
	return nil
}

func (l *Log) Delivered(ctx context.Context, messageID string) (bool, error) {
	n, err := l.provider.Collection(Collection).CountDocuments(ctx, bson.M{
		"message_id": messageID,
		"success":    true,
	})
	if err != nil {
		return false, fmt.Errorf("count deliveries for %s: %w", messageID, err)
	}
	return n > 0, nil
}

// Nop is used when no MongoDB is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error             { return nil }
func (Nop) Delivered(context.Context, string) (bool, error) { return false, nil }
