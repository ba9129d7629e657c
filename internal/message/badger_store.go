package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists messages in BadgerDB.
//
// Bodies live under "msg:{conversation}:{unix_nanos_padded}:{id}" so a prefix
// scan over a conversation yields messages in creation order. A secondary
// "msgid:{id}" entry points at the body key for lookups by id.
type BadgerStore struct {
	db   *badger.DB
	mu   sync.Mutex
	last time.Time
}

// NewBadgerStore creates a store on top of db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// ConversationPrefix is the key prefix shared by every message between a and b.
func ConversationPrefix(a, b string) string {
	return "msg:" + ConversationKey(a, b) + ":"
}

func bodyKey(m *Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s",
		ConversationPrefix(m.Sender, m.Recipient),
		m.CreatedAt.UnixNano(),
		m.ID,
	))
}

func indexKey(id string) []byte {
	return []byte("msgid:" + id)
}

// now returns a timestamp that never goes backwards within this store.
func (s *BadgerStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := time.Now()
	if t.Before(s.last) {
		t = s.last
	}
	s.last = t
	return t
}

func (s *BadgerStore) Append(_ context.Context, msg *Message) error {
	stamp(msg, s.now())
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := bodyKey(msg)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey(msg.ID), key)
	})
	if err != nil {
		return apperr.Wrap(ErrStorage, err)
	}
	return nil
}

func (s *BadgerStore) Conversation(_ context.Context, a, b string) ([]*Message, error) {
	msgs := []*Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(ConversationPrefix(a, b))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var m Message
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				msgs = append(msgs, &m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}
	return msgs, nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Message, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}
	var m *Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		m, _, err = lookup(txn, id)
		return err
	})
	return m, mapBadgerErr(err)
}

func (s *BadgerStore) Delete(_ context.Context, id string) (*Message, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}
	var m *Message
	err := s.db.Update(func(txn *badger.Txn) error {
		var (
			key []byte
			err error
		)
		m, key, err = lookup(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
	return m, mapBadgerErr(err)
}

// lookup resolves id through the index and returns the body and its key.
func lookup(txn *badger.Txn, id string) (*Message, []byte, error) {
	idx, err := txn.Get(indexKey(id))
	if err != nil {
		return nil, nil, err
	}
	key, err := idx.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	item, err := txn.Get(key)
	if err != nil {
		return nil, nil, err
	}
	var m Message
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &m)
	})
	if err != nil {
		return nil, nil, err
	}
	return &m, key, nil
}

func mapBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	default:
		return apperr.Wrap(ErrStorage, err)
	}
}
