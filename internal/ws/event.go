package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/christopherjohns/chatline/internal/message"
	"github.com/christopherjohns/chatline/internal/user"
	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedFrame = apperr.New(apperr.KindValidation, "MALFORMED_FRAME", "frame is not a valid envelope")
	ErrUnknownEvent   = apperr.New(apperr.KindValidation, "UNKNOWN_EVENT", "unknown event type")
	ErrInvalidEvent   = apperr.New(apperr.KindValidation, "INVALID_EVENT", "event payload is invalid")
)

var validate = validator.New()

// Envelope is the JSON structure sent over the WebSocket in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event tags.
const (
	EventTyping = "typing"
	EventChat   = "chat"
	EventDelete = "delete"
)

// Outbound frame tags.
const (
	FrameOnline         = "online"
	FrameTyping         = "typing"
	FrameMessage        = "message"
	FrameMessageDeleted = "messageDeleted"
	FrameError          = "error"
)

// Event is a decoded client frame: TypingEvent, ChatEvent or DeleteEvent.
type Event interface {
	eventType() string
}

// TypingEvent tells recipient whether the sender is typing.
type TypingEvent struct {
	Recipient string `json:"recipient" validate:"required"`
	Typing    bool   `json:"typing"`
}

// ChatEvent asks for a message to be stored and delivered.
type ChatEvent struct {
	Recipient string       `json:"recipient" validate:"required"`
	Text      string       `json:"text"`
	File      *FilePayload `json:"file"`
}

// FilePayload is an attachment inlined as base64 or a data URL.
type FilePayload struct {
	Name string `json:"name"`
	Data string `json:"data" validate:"required"`
}

// DeleteEvent asks for a message to be deleted.
type DeleteEvent struct {
	MessageID string `json:"messageId" validate:"required"`
}

func (TypingEvent) eventType() string { return EventTyping }
func (ChatEvent) eventType() string   { return EventChat }
func (DeleteEvent) eventType() string { return EventDelete }

// DecodeEvent parses one client frame into its tagged variant.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperr.Wrap(ErrMalformedFrame, err)
	}

	var ev Event
	var err error
	switch env.Type {
	case EventTyping:
		ev, err = decodePayload[TypingEvent](env.Payload)
	case EventChat:
		ev, err = decodePayload[ChatEvent](env.Payload)
		if err == nil {
			chat := ev.(ChatEvent)
			if strings.TrimSpace(chat.Text) == "" && chat.File == nil {
				err = apperr.Wrap(ErrInvalidEvent, message.ErrEmpty)
			}
		}
	case EventDelete:
		ev, err = decodePayload[DeleteEvent](env.Payload)
	default:
		return nil, apperr.Wrap(ErrUnknownEvent, fmt.Errorf("type %q", env.Type))
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, apperr.Wrap(ErrInvalidEvent, fmt.Errorf("missing payload"))
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apperr.Wrap(ErrInvalidEvent, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, apperr.Wrap(ErrInvalidEvent, err)
	}
	return v, nil
}

// ReadFunc reads one frame from a connection.
type ReadFunc func(ctx context.Context) ([]byte, error)

// Events lazily decodes frames from read. A decode failure yields a nil
// event and the error, and the sequence goes on. The sequence ends when
// read fails.
func Events(ctx context.Context, read ReadFunc) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			data, err := read(ctx)
			if err != nil {
				return
			}
			if !yield(DecodeEvent(data)) {
				return
			}
		}
	}
}

// OnlinePayload lists the users with at least one admitted connection.
type OnlinePayload struct {
	Online []user.Identity `json:"online"`
}

// TypingPayload is relayed to the recipient of a TypingEvent.
type TypingPayload struct {
	Typing bool   `json:"typing"`
	Sender string `json:"sender"`
}

// MessagePayload is a stored message as delivered to its recipient. File is
// null when the message has no attachment.
type MessagePayload struct {
	Text      string    `json:"text,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	File      *string   `json:"file"`
	MessageID string    `json:"messageId"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeletedPayload tells both participants a message is gone.
type DeletedPayload struct {
	MessageDeleted string `json:"messageDeleted"`
}

// ErrorPayload reports a rejected event back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func messagePayload(m *message.Message) MessagePayload {
	p := MessagePayload{
		Text:      m.Text,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		MessageID: m.ID,
		CreatedAt: m.CreatedAt,
	}
	if m.File != "" {
		p.File = &m.File
	}
	return p
}

func errorPayload(err error) ErrorPayload {
	code := apperr.CodeOf(err)
	msg := "internal error"
	var e *apperr.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	return ErrorPayload{Code: code, Message: msg}
}

// encodeFrame wraps payload in an envelope tagged typ.
func encodeFrame(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: data})
}
