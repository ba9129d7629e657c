package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/christopherjohns/chatline/internal/message"
)

type fakeSaver struct {
	name string
	err  error
	got  []string
}

func (f *fakeSaver) Save(originalName, data string) (string, error) {
	f.got = append(f.got, originalName+"|"+data)
	return f.name, f.err
}

// failingStore rejects every append.
type failingStore struct {
	message.Store
}

func (failingStore) Append(context.Context, *message.Message) error {
	return message.ErrStorage
}

// checkingTransport asserts the message is in the store when it is written.
type checkingTransport struct {
	*fakeTransport
	t     *testing.T
	store message.Store
}

func (c checkingTransport) Write(ctx context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Type == FrameMessage {
		var p MessagePayload
		json.Unmarshal(env.Payload, &p)
		if _, err := c.store.Get(ctx, p.MessageID); err != nil {
			c.t.Errorf("message %s delivered before it was persisted: %v", p.MessageID, err)
		}
	}
	return c.fakeTransport.Write(ctx, data)
}

func newRouterHub(t *testing.T, store message.Store, files AttachmentSaver) *Hub {
	t.Helper()
	if store == nil {
		store = message.NewMemoryStore()
	}
	return NewHub(Config{}, store, files, nil)
}

func TestRouterChatPersistsThenDelivers(t *testing.T) {
	store := message.NewMemoryStore()
	hub := newRouterHub(t, store, nil)
	reg := hub.Registry()

	senderT := newFakeTransport()
	sender, _ := reg.Admit(senderT, alice)
	recipient := checkingTransport{fakeTransport: newFakeTransport(), t: t, store: store}
	reg.Admit(recipient, bob)

	err := hub.router.HandleInbound(context.Background(), sender, ChatEvent{Recipient: bob.ID, Text: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	waitFor(t, "message frame", func() bool { return len(recipient.framesOf(FrameMessage)) == 1 })
	var got MessagePayload
	if err := json.Unmarshal(recipient.framesOf(FrameMessage)[0], &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.MessageID == "" || got.Text != "hi" || got.Sender != alice.ID || got.Recipient != bob.ID {
		t.Fatalf("unexpected payload: %+v", got)
	}

	msgs, _ := store.Conversation(context.Background(), alice.ID, bob.ID)
	if len(msgs) != 1 || msgs[0].ID != got.MessageID {
		t.Fatalf("expected conversation to hold %s, got %d messages", got.MessageID, len(msgs))
	}
	if len(senderT.framesOf(FrameMessage)) != 0 {
		t.Fatal("sender should not get an echo")
	}
}

func TestRouterChatReachesEveryRecipientConnection(t *testing.T) {
	hub := newRouterHub(t, nil, nil)
	reg := hub.Registry()
	sender, _ := reg.Admit(newFakeTransport(), alice)
	b1, b2 := newFakeTransport(), newFakeTransport()
	reg.Admit(b1, bob)
	reg.Admit(b2, bob)

	if _, err := hub.router.Chat(context.Background(), sender.Identity(), ChatEvent{Recipient: bob.ID, Text: "yo"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	waitFor(t, "both bob connections", func() bool {
		return len(b1.framesOf(FrameMessage)) == 1 && len(b2.framesOf(FrameMessage)) == 1
	})
}

func TestRouterChatToOfflineRecipientIsStored(t *testing.T) {
	store := message.NewMemoryStore()
	hub := newRouterHub(t, store, nil)
	sender, _ := hub.Registry().Admit(newFakeTransport(), alice)

	msg, err := hub.router.Chat(context.Background(), sender.Identity(), ChatEvent{Recipient: carol.ID, Text: "later"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, err := store.Get(context.Background(), msg.ID); err != nil {
		t.Fatalf("expected offline message to be stored: %v", err)
	}
}

func TestRouterChatWithAttachment(t *testing.T) {
	saver := &fakeSaver{name: "1700000000000000000.png"}
	hub := newRouterHub(t, nil, saver)
	reg := hub.Registry()
	sender, _ := reg.Admit(newFakeTransport(), alice)
	bt := newFakeTransport()
	reg.Admit(bt, bob)

	ev := ChatEvent{Recipient: bob.ID, File: &FilePayload{Name: "cat.png", Data: "data:image/png;base64,AAAA"}}
	msg, err := hub.router.Chat(context.Background(), sender.Identity(), ev)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if msg.File != saver.name {
		t.Fatalf("expected file %q, got %q", saver.name, msg.File)
	}
	if len(saver.got) != 1 || saver.got[0] != "cat.png|data:image/png;base64,AAAA" {
		t.Fatalf("unexpected saver calls: %v", saver.got)
	}
	waitFor(t, "attachment frame", func() bool { return len(bt.framesOf(FrameMessage)) == 1 })
	var got MessagePayload
	if err := json.Unmarshal(bt.framesOf(FrameMessage)[0], &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.File == nil || *got.File != saver.name {
		t.Fatalf("expected file %q in payload, got %v", saver.name, got.File)
	}
}

func TestRouterChatAttachmentFailureStoresNothing(t *testing.T) {
	store := message.NewMemoryStore()
	saveErr := errors.New("disk full")
	hub := newRouterHub(t, store, &fakeSaver{err: saveErr})
	sender, _ := hub.Registry().Admit(newFakeTransport(), alice)

	_, err := hub.router.Chat(context.Background(), sender.Identity(),
		ChatEvent{Recipient: bob.ID, File: &FilePayload{Name: "a.txt", Data: "aGk="}})
	if !errors.Is(err, saveErr) {
		t.Fatalf("expected save error, got %v", err)
	}
	msgs, _ := store.Conversation(context.Background(), alice.ID, bob.ID)
	if len(msgs) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(msgs))
	}
}

func TestRouterChatStorageFailureIsNotDelivered(t *testing.T) {
	hub := newRouterHub(t, failingStore{Store: message.NewMemoryStore()}, nil)
	reg := hub.Registry()
	sender, _ := reg.Admit(newFakeTransport(), alice)
	bt := newFakeTransport()
	reg.Admit(bt, bob)

	err := hub.router.HandleInbound(context.Background(), sender, ChatEvent{Recipient: bob.ID, Text: "hi"})
	if !errors.Is(err, message.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(bt.framesOf(FrameMessage)) != 0 {
		t.Fatal("unpersisted message must not be delivered")
	}
}

func TestRouterTyping(t *testing.T) {
	hub := newRouterHub(t, nil, nil)
	reg := hub.Registry()
	sender, _ := reg.Admit(newFakeTransport(), alice)
	bt := newFakeTransport()
	reg.Admit(bt, bob)

	if err := hub.router.HandleInbound(context.Background(), sender, TypingEvent{Recipient: bob.ID, Typing: true}); err != nil {
		t.Fatalf("typing: %v", err)
	}
	waitFor(t, "typing frame", func() bool { return len(bt.framesOf(FrameTyping)) == 1 })

	var p TypingPayload
	json.Unmarshal(bt.framesOf(FrameTyping)[0], &p)
	if !p.Typing || p.Sender != alice.ID {
		t.Fatalf("unexpected typing payload: %+v", p)
	}
}

func TestRouterTypingToOfflineIsNoop(t *testing.T) {
	hub := newRouterHub(t, nil, nil)
	sender, _ := hub.Registry().Admit(newFakeTransport(), alice)

	if n := hub.router.Typing(sender.Identity(), TypingEvent{Recipient: carol.ID, Typing: true}); n != 0 {
		t.Fatalf("expected no delivery, got %d", n)
	}
	if err := hub.router.HandleInbound(context.Background(), sender, TypingEvent{Recipient: carol.ID}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRouterDeleteNotifiesBothParticipants(t *testing.T) {
	store := message.NewMemoryStore()
	hub := newRouterHub(t, store, nil)
	reg := hub.Registry()
	at, bt, ct := newFakeTransport(), newFakeTransport(), newFakeTransport()
	reg.Admit(at, alice)
	reg.Admit(bt, bob)
	reg.Admit(ct, carol)

	m := &message.Message{Sender: alice.ID, Recipient: bob.ID, Text: "oops"}
	store.Append(context.Background(), m)

	removed, err := hub.Delete(context.Background(), bob, m.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed.ID != m.ID {
		t.Fatalf("expected %s removed, got %s", m.ID, removed.ID)
	}

	want := `{"messageDeleted":"` + m.ID + `"}`
	for name, ft := range map[string]*fakeTransport{"alice": at, "bob": bt} {
		waitFor(t, name+" deletion notice", func() bool {
			frames := ft.framesOf(FrameMessageDeleted)
			return len(frames) == 1 && string(frames[0]) == want
		})
	}
	if len(ct.framesOf(FrameMessageDeleted)) != 0 {
		t.Fatal("carol is not a participant")
	}

	msgs, _ := store.Conversation(context.Background(), alice.ID, bob.ID)
	if len(msgs) != 0 {
		t.Fatalf("expected message gone from the conversation, got %d", len(msgs))
	}

	if _, err := hub.Delete(context.Background(), bob, m.ID); !errors.Is(err, message.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestRouterDeleteRejects(t *testing.T) {
	store := message.NewMemoryStore()
	hub := newRouterHub(t, store, nil)
	m := &message.Message{Sender: alice.ID, Recipient: bob.ID, Text: "private"}
	store.Append(context.Background(), m)

	if _, err := hub.Delete(context.Background(), alice, "not-an-id"); !errors.Is(err, message.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := hub.Delete(context.Background(), carol, m.ID); !errors.Is(err, message.ErrNotRecipient) {
		t.Fatalf("expected ErrNotRecipient, got %v", err)
	}
	if _, err := store.Get(context.Background(), m.ID); err != nil {
		t.Fatalf("forbidden delete must not remove the message: %v", err)
	}
}
