package ws

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/christopherjohns/chatline/internal/message"
	"github.com/christopherjohns/chatline/internal/user"
)

// AttachmentSaver stores an inlined attachment and returns its reference.
type AttachmentSaver interface {
	Save(originalName, data string) (string, error)
}

// Router validates inbound events, persists chat messages and delivers
// the results to the right connections.
type Router struct {
	reg   *Registry
	store message.Store
	files AttachmentSaver
	log   *slog.Logger
}

// NewRouter creates a router. files may be nil, in which case attachments
// are rejected.
func NewRouter(reg *Registry, store message.Store, files AttachmentSaver, log *slog.Logger) *Router {
	return &Router{reg: reg, store: store, files: files, log: log}
}

// HandleInbound routes one event received on c.
func (rt *Router) HandleInbound(ctx context.Context, c *Conn, ev Event) error {
	switch e := ev.(type) {
	case TypingEvent:
		rt.Typing(c.Identity(), e)
		return nil
	case ChatEvent:
		_, err := rt.Chat(ctx, c.Identity(), e)
		return err
	case DeleteEvent:
		_, err := rt.Delete(ctx, c.Identity(), e.MessageID)
		return err
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// Typing relays a typing signal. An offline recipient is not an error.
func (rt *Router) Typing(sender user.Identity, e TypingEvent) int {
	frame, err := encodeFrame(FrameTyping, TypingPayload{Typing: e.Typing, Sender: sender.ID})
	if err != nil {
		rt.log.Error("encode typing frame", "error", err)
		return 0
	}
	return rt.reg.BroadcastToUser(e.Recipient, frame)
}

// Chat stores the attachment, persists the message and then delivers it
// to the recipient's connections. The sender gets no echo.
func (rt *Router) Chat(ctx context.Context, sender user.Identity, e ChatEvent) (*message.Message, error) {
	msg := &message.Message{
		Sender:    sender.ID,
		Recipient: e.Recipient,
		Text:      e.Text,
	}

	if e.File != nil {
		if rt.files == nil {
			return nil, fmt.Errorf("%w: attachments are disabled", ErrInvalidEvent)
		}
		name, err := rt.files.Save(e.File.Name, e.File.Data)
		if err != nil {
			return nil, err
		}
		msg.File = name
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := rt.store.Append(ctx, msg); err != nil {
		rt.log.Error("persist message", "sender", sender.ID, "recipient", e.Recipient, "error", err)
		return nil, err
	}

	frame, err := encodeFrame(FrameMessage, messagePayload(msg))
	if err != nil {
		return nil, err
	}
	n := rt.reg.BroadcastToUser(msg.Recipient, frame)
	rt.log.Debug("message delivered", "message_id", msg.ID, "connections", n)
	return msg, nil
}

// Delete removes a message on behalf of requester, who must be one of its
// participants, and notifies both participants.
func (rt *Router) Delete(ctx context.Context, requester user.Identity, id string) (*message.Message, error) {
	if _, err := message.ParseID(id); err != nil {
		return nil, err
	}

	m, err := rt.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Involves(requester.ID) {
		return nil, message.ErrNotRecipient
	}

	removed, err := rt.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	frame, err := encodeFrame(FrameMessageDeleted, DeletedPayload{MessageDeleted: removed.ID})
	if err != nil {
		return nil, err
	}
	rt.reg.BroadcastToUser(removed.Sender, frame)
	if removed.Recipient != removed.Sender {
		rt.reg.BroadcastToUser(removed.Recipient, frame)
	}
	return removed, nil
}
