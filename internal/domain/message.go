package domain

import (
	"strings"
	"time"
)

// Message is immutable once appended. ID is the backend push key and is not
// part of the stored value. Ordering follows backend append order; SentAt is
// informational and subject to sender clock skew.
type Message struct {
	ID       string    `json:"-"`
	Text     string    `json:"text"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
	System   bool      `json:"system,omitempty"`
}

func NewMessage(senderID, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrInvalidInput
	}
	return &Message{
		Text:     text,
		SenderID: senderID,
		SentAt:   time.Now().UTC(),
	}, nil
}
