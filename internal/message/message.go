package message

import (
	"context"
	"strings"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/rs/xid"
)

var (
	ErrInvalidID    = apperr.New(apperr.KindValidation, "INVALID_MESSAGE_ID", "invalid message id")
	ErrNotFound     = apperr.New(apperr.KindNotFound, "MESSAGE_NOT_FOUND", "message not found")
	ErrEmpty        = apperr.New(apperr.KindValidation, "EMPTY_MESSAGE", "message needs text or an attachment")
	ErrNoRecipient  = apperr.New(apperr.KindValidation, "MISSING_RECIPIENT", "recipient is required")
	ErrStorage      = apperr.New(apperr.KindStorage, "MESSAGE_STORAGE", "message storage failure")
	ErrNotRecipient = apperr.New(apperr.KindForbidden, "NOT_A_PARTICIPANT", "not a participant of this conversation")
)

// Message is a persisted direct message between two users.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text,omitempty"`
	File      string    `json:"file,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the fields a sender controls.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Recipient) == "" {
		return ErrNoRecipient
	}
	if strings.TrimSpace(m.Text) == "" && m.File == "" {
		return ErrEmpty
	}
	return nil
}

// Involves reports whether userID is the sender or the recipient of m.
func (m *Message) Involves(userID string) bool {
	return m.Sender == userID || m.Recipient == userID
}

// Store is the durable, per-conversation message log.
type Store interface {
	// Append assigns ID and CreatedAt to msg and persists it.
	Append(ctx context.Context, msg *Message) error
	// Conversation returns every message between a and b, oldest first.
	Conversation(ctx context.Context, a, b string) ([]*Message, error)
	// Get returns the message with the given id.
	Get(ctx context.Context, id string) (*Message, error)
	// Delete removes the message and returns what was removed.
	Delete(ctx context.Context, id string) (*Message, error)
}

// ParseID checks that id has the shape of an identifier this package issues.
func ParseID(id string) (xid.ID, error) {
	parsed, err := xid.FromString(id)
	if err != nil {
		return xid.NilID(), apperr.Wrap(ErrInvalidID, err)
	}
	return parsed, nil
}

// ConversationKey is the order-independent key of the pair (a, b).
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// stamp fills in the store-assigned fields of msg.
func stamp(msg *Message, now time.Time) {
	msg.ID = xid.NewWithTime(now).String()
	msg.CreatedAt = now.UTC()
}
