package message

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]*Message
	byID          map[string]*Message
	last          time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string][]*Message),
		byID:          make(map[string]*Message),
	}
}

// Append adds msg to its conversation.
func (s *MemoryStore) Append(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	stamp(msg, now)

	stored := *msg
	key := ConversationKey(msg.Sender, msg.Recipient)
	s.conversations[key] = append(s.conversations[key], &stored)
	s.byID[stored.ID] = &stored
	return nil
}

// Conversation returns copies of the messages between a and b, oldest first.
func (s *MemoryStore) Conversation(_ context.Context, a, b string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.conversations[ConversationKey(a, b)]
	result := make([]*Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		result[i] = &cp
	}
	return result, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Message, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (*Message, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.byID, id)

	key := ConversationKey(m.Sender, m.Recipient)
	s.conversations[key] = slices.DeleteFunc(s.conversations[key], func(x *Message) bool {
		return x.ID == id
	})
	if len(s.conversations[key]) == 0 {
		delete(s.conversations, key)
	}
	return m, nil
}
