package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EmailKind tags what an EmailMessage is for.
type EmailKind string

const (
	KindOTP           EmailKind = "otp"
	KindPasswordReset EmailKind = "password_reset"
	KindThreshold     EmailKind = "budget_threshold"
)

// EmailMessage is a fully rendered email waiting for delivery. The worker
// only hands it to a mail transport, it never renders anything.
type EmailMessage struct {
	ID        string    `json:"id"`
	Kind      EmailKind `json:"kind"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEmailMessage(kind EmailKind, to, subject, body string) *EmailMessage {
	return &EmailMessage{
		ID:        uuid.NewString(),
		Kind:      kind,
		To:        to,
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
}

func (m *EmailMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EmailMessageFromJSON decodes and checks the required fields.
func EmailMessageFromJSON(data []byte) (*EmailMessage, error) {
	var msg EmailMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" || msg.To == "" {
		return nil, errors.New("email message missing id or recipient")
	}
	return &msg, nil
}
